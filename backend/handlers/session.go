package handlers

import (
	"encoding/gob"
	"errors"
	"log/slog"
	"net/http"

	"github.com/PhilHem/go-file-vault/backend/config"
	"github.com/PhilHem/go-file-vault/backend/models"
	"github.com/PhilHem/go-file-vault/backend/recovery"
	"github.com/PhilHem/go-file-vault/frontend/templates"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "session"

	keyUserID     = "user_id"
	keyResetEmail = "reset_email"
	keyResetState = "reset_state"

	minSecretLen = 32
)

func init() {
	gob.Register(templates.Flash{})
}

// NewSessionStore builds the signed cookie store. secure should follow the
// TLS setting so cookies still work on plain-http development servers.
func NewSessionStore(cfg config.SessionConfig, secure bool) (*sessions.CookieStore, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session secret is required (set SESSION_SECRET)")
	}
	if len(cfg.Secret) < minSecretLen {
		return nil, errors.New("session secret must be at least 32 characters")
	}

	store := sessions.NewCookieStore([]byte(cfg.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Timeout.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
	return store, nil
}

// session never fails: a tampered or expired cookie yields a fresh session.
func (h *Handler) session(r *http.Request) *sessions.Session {
	s, err := h.sessions.Get(r, sessionName)
	if err != nil {
		slog.Debug("discarding invalid session cookie", "source", "auth", "error", err.Error())
	}
	return s
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, s *sessions.Session) {
	if err := s.Save(r, w); err != nil {
		slog.Error("failed to save session", "source", "auth", "error", err.Error())
	}
}

// CurrentUser loads the signed-in user for r, or nil.
func (h *Handler) CurrentUser(r *http.Request) *models.User {
	userID, ok := h.session(r).Values[keyUserID].(uint)
	if !ok {
		return nil
	}
	user, err := h.users.ByID(r.Context(), userID)
	if err != nil {
		return nil
	}
	return user
}

func (h *Handler) logIn(w http.ResponseWriter, r *http.Request, user *models.User) {
	s := h.session(r)
	s.Values[keyUserID] = user.ID
	delete(s.Values, keyResetEmail)
	delete(s.Values, keyResetState)
	h.save(w, r, s)
}

func (h *Handler) addFlash(w http.ResponseWriter, r *http.Request, category, message string) {
	s := h.session(r)
	s.AddFlash(templates.Flash{Category: category, Message: message})
	h.save(w, r, s)
}

func loadFlow(s *sessions.Session) recovery.Flow {
	email, _ := s.Values[keyResetEmail].(string)
	state, _ := s.Values[keyResetState].(int)
	return recovery.Flow{Email: email, State: recovery.State(state)}
}

func storeFlow(s *sessions.Session, flow recovery.Flow) {
	if flow.State == recovery.Idle {
		delete(s.Values, keyResetEmail)
		delete(s.Values, keyResetState)
		return
	}
	s.Values[keyResetEmail] = flow.Email
	s.Values[keyResetState] = int(flow.State)
}
