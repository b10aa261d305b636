package models

import "time"

// File links an object held by the storage provider to its owner.
// PublicID is empty for rows created before public ids were recorded.
type File struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	Filename  string    `json:"filename" gorm:"size:255;not null"`
	URL       string    `json:"url" gorm:"size:500;not null"`
	PublicID  string    `json:"public_id" gorm:"size:200;not null;default:''"`
	FileType  string    `json:"file_type" gorm:"size:20;not null"`
	UserID    uint      `json:"user_id" gorm:"index;not null"`
}

// OwnedBy reports whether u owns the file.
func (f *File) OwnedBy(u *User) bool {
	return u != nil && f.UserID == u.ID
}
