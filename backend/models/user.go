package models

import (
	"time"

	"gorm.io/gorm"
)

// Authenticatable is anything that can be checked against a stored password hash.
type Authenticatable interface {
	AuthID() uint
	PasswordDigest() string
}

type User struct {
	gorm.Model
	Username     string     `json:"username" gorm:"size:20;uniqueIndex;not null"`
	Email        string     `json:"email" gorm:"size:120;uniqueIndex;not null"`
	PasswordHash string     `json:"-" gorm:"size:60;not null"` // bcrypt, never serialize
	OTPCode      *string    `json:"-" gorm:"size:6"`
	OTPExpiry    *time.Time `json:"-"`
	Files        []File     `json:"-" gorm:"foreignKey:UserID"`
}

func (u *User) AuthID() uint           { return u.ID }
func (u *User) PasswordDigest() string { return u.PasswordHash }

// HasOTP reports whether a one-time code is currently stored.
func (u *User) HasOTP() bool {
	return u.OTPCode != nil && u.OTPExpiry != nil
}
