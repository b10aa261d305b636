package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

const (
	csrfCookie = "_csrf"
	csrfField  = "_csrf"
	csrfHeader = "X-CSRF-Token"

	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling to temp files.
	multipartMemory = 8 << 20
)

// CSRFProtection provides double-submit CSRF token validation
type CSRFProtection struct {
	secret []byte
	secure bool
}

// NewCSRFProtection creates a new CSRF protection middleware. secure sets the
// Secure flag on the token cookie and should follow the TLS setting.
func NewCSRFProtection(secret string, secure bool) *CSRFProtection {
	return &CSRFProtection{secret: []byte(secret), secure: secure}
}

// CSRFToken returns the token forms rendered for r must submit.
func CSRFToken(r *http.Request) string {
	t, _ := r.Context().Value(csrfKey).(string)
	return t
}

func withCSRF(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfKey, token)
}

func (c *CSRFProtection) sign(random []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(random)
	return mac.Sum(nil)
}

func (c *CSRFProtection) generateToken() (string, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(append(random, c.sign(random)...)), nil
}

func (c *CSRFProtection) validateToken(token string) bool {
	if token == "" {
		return false
	}
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(decoded) != 64 {
		return false
	}
	return hmac.Equal(decoded[32:], c.sign(decoded[:32]))
}

func (c *CSRFProtection) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // JavaScript needs to read this
		SameSite: http.SameSiteStrictMode,
		Secure:   c.secure,
	})
}

// submittedToken reads the token from the header or the form body. Multipart
// bodies are parsed here so an oversized upload surfaces as a MaxBytesError.
func submittedToken(r *http.Request) (string, error) {
	if t := r.Header.Get(csrfHeader); t != "" {
		return t, nil
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return "", err
		}
	} else if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.FormValue(csrfField), nil
}

// Protect wraps a handler with CSRF protection
func (c *CSRFProtection) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			token := ""
			if ck, err := r.Cookie(csrfCookie); err == nil && c.validateToken(ck.Value) {
				token = ck.Value
			} else {
				t, err := c.generateToken()
				if err != nil {
					http.Error(w, "Internal server error", http.StatusInternalServerError)
					return
				}
				token = t
				c.setCookie(w, token)
			}
			next.ServeHTTP(w, r.WithContext(withCSRF(r.Context(), token)))
			return
		}

		cookieToken, err := r.Cookie(csrfCookie)
		if err != nil {
			http.Error(w, "CSRF token missing", http.StatusForbidden)
			return
		}

		formToken, err := submittedToken(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		if !hmac.Equal([]byte(formToken), []byte(cookieToken.Value)) || !c.validateToken(formToken) {
			http.Error(w, "CSRF token invalid", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(withCSRF(r.Context(), formToken)))
	})
}
