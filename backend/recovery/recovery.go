// Package recovery drives password recovery with emailed one-time codes.
//
// A caller's progress lives in a Flow that the HTTP layer keeps in the
// caller's session, so concurrent recoveries for different users never share
// state:
//
//	Idle --RequestReset--> AwaitingOTP --VerifyOTP--> OTPVerified --SetNewPassword--> Idle
//
// An expired code sends the flow back to Idle.
package recovery

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/backend/mailer"
	"github.com/PhilHem/go-file-vault/backend/models"
)

type State int

const (
	Idle State = iota
	AwaitingOTP
	OTPVerified
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingOTP:
		return "awaiting_otp"
	case OTPVerified:
		return "otp_verified"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Flow is one caller's recovery context.
type Flow struct {
	Email string
	State State
}

// Users is the credential store the flow reads and updates.
type Users interface {
	ByEmail(ctx context.Context, email string) (*models.User, error)
	SetOTP(ctx context.Context, user *models.User, code string, expiry time.Time) error
	ResetPassword(ctx context.Context, user *models.User, rawPassword string) error
}

const (
	DefaultTTL = 2 * time.Minute

	codeMin = 100000
	codeMax = 999999
)

type Service struct {
	users Users
	mail  mailer.Sender
	ttl   time.Duration

	// Now and NewCode are replaceable in tests.
	Now     func() time.Time
	NewCode func() (string, error)
}

func NewService(users Users, mail mailer.Sender, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		users:   users,
		mail:    mail,
		ttl:     ttl,
		Now:     time.Now,
		NewCode: GenerateCode,
	}
}

// GenerateCode returns a uniformly random code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// RequestReset issues a code for email and mails it. An unknown email gives
// apperr.NoAccount and leaves flow untouched.
func (s *Service) RequestReset(ctx context.Context, flow *Flow, email string) error {
	user, err := s.users.ByEmail(ctx, email)
	if errors.Is(err, apperr.NotFound) {
		slog.Info("reset requested for unknown email", "source", "recovery")
		return apperr.NoAccount
	}
	if err != nil {
		return err
	}

	code, err := s.NewCode()
	if err != nil {
		return err
	}
	expiry := s.Now().Add(s.ttl)
	if err := s.users.SetOTP(ctx, user, code, expiry); err != nil {
		return err
	}

	err = s.mail.Send(ctx, mailer.Message{
		To:      []string{user.Email},
		Subject: "Password Reset Code",
		Body:    resetBody(code, s.ttl),
	})
	if err != nil {
		slog.Error("failed to send reset code", "source", "recovery", "user_id", user.ID, "error", err.Error())
		return apperr.Wrap(apperr.CodeProviderFailure, "send reset code", err)
	}

	*flow = Flow{Email: user.Email, State: AwaitingOTP}
	slog.Info("reset code sent", "source", "recovery", "user_id", user.ID)
	return nil
}

func resetBody(code string, ttl time.Duration) string {
	return fmt.Sprintf(`Your password reset code is: %s

The code expires in %s.

If you did not make this request then simply ignore this email.
`, code, ttl)
}

// VerifyOTP checks code against the stored one. A code presented at or after
// its expiry is rejected with apperr.Expired and the flow returns to Idle. If
// no code is stored any more the flow is reset with apperr.InvalidState.
func (s *Service) VerifyOTP(ctx context.Context, flow *Flow, code string) error {
	if flow.State != AwaitingOTP {
		return apperr.InvalidState
	}

	user, err := s.users.ByEmail(ctx, flow.Email)
	if errors.Is(err, apperr.NotFound) {
		*flow = Flow{}
		return apperr.InvalidState
	}
	if err != nil {
		return err
	}
	if !user.HasOTP() {
		// A reset finished in another session cleared the code.
		*flow = Flow{}
		slog.Info("no reset code pending", "source", "recovery", "user_id", user.ID)
		return apperr.InvalidState
	}

	if !s.Now().Before(*user.OTPExpiry) {
		*flow = Flow{}
		slog.Info("reset code expired", "source", "recovery", "user_id", user.ID)
		return apperr.Expired
	}
	if subtle.ConstantTimeCompare([]byte(*user.OTPCode), []byte(code)) != 1 {
		slog.Warn("invalid reset code", "source", "recovery", "user_id", user.ID)
		return apperr.InvalidCode
	}

	flow.State = OTPVerified
	return nil
}

// SetNewPassword replaces the password once the code is verified, clears the
// stored code and resets flow so it cannot be replayed.
func (s *Service) SetNewPassword(ctx context.Context, flow *Flow, rawPassword string) error {
	if flow.State != OTPVerified {
		return apperr.InvalidState
	}

	user, err := s.users.ByEmail(ctx, flow.Email)
	if errors.Is(err, apperr.NotFound) {
		*flow = Flow{}
		return apperr.InvalidState
	}
	if err != nil {
		return err
	}

	if err := s.users.ResetPassword(ctx, user, rawPassword); err != nil {
		return err
	}

	*flow = Flow{}
	slog.Info("password reset", "source", "recovery", "user_id", user.ID)
	return nil
}
