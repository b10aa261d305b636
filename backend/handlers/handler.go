package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/PhilHem/go-file-vault/backend/files"
	"github.com/PhilHem/go-file-vault/backend/middleware"
	"github.com/PhilHem/go-file-vault/backend/recovery"
	"github.com/PhilHem/go-file-vault/backend/store"
	"github.com/PhilHem/go-file-vault/frontend/templates"

	"github.com/a-h/templ"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/sessions"
)

// Handler serves the HTTP routes. Every dependency is injected by main.
type Handler struct {
	sessions sessions.Store
	users    *store.Users
	files    *files.Service
	recovery *recovery.Service
	validate *validator.Validate
}

func New(sessionStore sessions.Store, users *store.Users, fileService *files.Service, recoveryService *recovery.Service) *Handler {
	return &Handler{
		sessions: sessionStore,
		users:    users,
		files:    fileService,
		recovery: recoveryService,
		validate: validator.New(),
	}
}

// Mount registers every route on mux.
func (h *Handler) Mount(mux *http.ServeMux) {
	guest := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.RedirectIfAuthenticated(h.CurrentUser, next)
	}
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.RequireAuth(h.CurrentUser, next)
	}

	mux.HandleFunc("GET /health", Health)

	mux.HandleFunc("GET /{$}", authed(Home))

	mux.HandleFunc("GET /register", guest(h.RegisterPage))
	mux.HandleFunc("POST /register", guest(h.Register))
	mux.HandleFunc("GET /login", guest(h.LoginPage))
	mux.HandleFunc("POST /login", guest(h.Login))
	mux.HandleFunc("GET /logout", h.Logout)

	mux.HandleFunc("GET /dashboard", authed(h.Dashboard))
	mux.HandleFunc("POST /dashboard", authed(h.Upload))
	mux.HandleFunc("POST /delete/{file_id}", authed(h.Delete))

	mux.HandleFunc("GET /forgot_password", guest(h.ForgotPasswordPage))
	mux.HandleFunc("POST /forgot_password", guest(h.ForgotPassword))
	mux.HandleFunc("GET /verify_otp", guest(h.VerifyOTPPage))
	mux.HandleFunc("POST /verify_otp", guest(h.VerifyOTP))
	mux.HandleFunc("GET /reset_new_password", guest(h.ResetNewPasswordPage))
	mux.HandleFunc("POST /reset_new_password", guest(h.ResetNewPassword))
}

// Health check (unauthenticated, for load balancers)
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func Home(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// page pops pending flashes and fills the per-request page values. It writes
// the session cookie, so call it before anything is written to w.
func (h *Handler) page(w http.ResponseWriter, r *http.Request, extra ...templates.Flash) templates.Page {
	s := h.session(r)
	p := templates.Page{
		CSRF: middleware.CSRFToken(r),
		User: middleware.UserFromContext(r.Context()),
	}
	if pending := s.Flashes(); len(pending) > 0 {
		for _, f := range pending {
			if flash, ok := f.(templates.Flash); ok {
				p.Flashes = append(p.Flashes, flash)
			}
		}
		h.save(w, r, s)
	}
	p.Flashes = append(p.Flashes, extra...)
	return p
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("failed to render page", "source", "http", "path", r.URL.Path, "error", err.Error())
	}
}

func (h *Handler) redirectWith(w http.ResponseWriter, r *http.Request, to, category, message string) {
	h.addFlash(w, r, category, message)
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func danger(msg string) templates.Flash  { return templates.Flash{Category: "danger", Message: msg} }
func warning(msg string) templates.Flash { return templates.Flash{Category: "warning", Message: msg} }

const maxPasswordBytes = 72

// validationMessage turns the first failed rule into a message for the form.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid input."
	}
	switch verrs[0].Field() {
	case "Username":
		return "Username must be 3-20 letters or digits."
	case "Email":
		return "Enter a valid email address."
	case "Password":
		return "Password must be 8-72 characters."
	case "Confirm":
		return "Passwords do not match."
	case "Code":
		return "Enter the 6-digit code from the email."
	default:
		return "Invalid input."
	}
}

// passwordTooLong catches multi-byte passwords that pass the rune count rule
// but exceed what bcrypt accepts.
func passwordTooLong(raw string) bool {
	return len(raw) > maxPasswordBytes
}
