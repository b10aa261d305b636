package middleware

import (
	"context"
	"net/http"

	"github.com/PhilHem/go-file-vault/backend/models"
)

type ctxKey int

const (
	userKey ctxKey = iota
	csrfKey
)

// UserResolver loads the user for the session attached to r, or nil.
type UserResolver func(r *http.Request) *models.User

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user placed by RequireAuth, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// RequireAuth resolves the current user once and hands it to next through the
// request context. Anonymous callers are sent to the login page.
func RequireAuth(resolve UserResolver, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := resolve(r)
		if user == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// RedirectIfAuthenticated sends signed-in users to the dashboard instead of
// the login, register and recovery pages.
func RedirectIfAuthenticated(resolve UserResolver, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resolve(r) != nil {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}
