package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/frontend/templates"
)

type registerForm struct {
	Username string `validate:"required,alphanum,min=3,max=20"`
	Email    string `validate:"required,email,max=120"`
	Password string `validate:"required,min=8,max=72"`
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, templates.Login(h.page(w, r), ""))
}

func (h *Handler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, templates.Register(h.page(w, r), "", ""))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	form := loginForm{
		Email:    strings.TrimSpace(r.FormValue("email")),
		Password: r.FormValue("password"),
	}
	invalid := danger(apperr.UserMessage(apperr.InvalidCredentials))

	if err := h.validate.Struct(form); err != nil {
		h.render(w, r, templates.Login(h.page(w, r, invalid), form.Email))
		return
	}

	user, ok, err := h.users.Verify(r.Context(), form.Email, form.Password)
	if err != nil {
		slog.Error("login failed: store error", "source", "auth", "error", err.Error())
		h.render(w, r, templates.Login(h.page(w, r, danger(apperr.UserMessage(err))), form.Email))
		return
	}
	if !ok {
		// Unknown email and wrong password share one message.
		slog.Warn("login failed", "source", "auth")
		h.render(w, r, templates.Login(h.page(w, r, invalid), form.Email))
		return
	}

	h.logIn(w, r, user)
	slog.Info("user logged in", "source", "auth", "user_id", user.ID)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	form := registerForm{
		Username: strings.TrimSpace(r.FormValue("username")),
		Email:    strings.TrimSpace(r.FormValue("email")),
		Password: r.FormValue("password"),
	}
	retry := func(msg string) {
		h.render(w, r, templates.Register(h.page(w, r, danger(msg)), form.Username, form.Email))
	}

	if err := h.validate.Struct(form); err != nil {
		slog.Warn("registration failed: invalid form", "source", "auth")
		retry(validationMessage(err))
		return
	}
	if passwordTooLong(form.Password) {
		retry("Password must be 8-72 characters.")
		return
	}

	user, err := h.users.Register(r.Context(), form.Username, form.Email, form.Password)
	if err != nil {
		if errors.Is(err, apperr.DuplicateIdentity) {
			slog.Warn("registration failed: identity taken", "source", "auth")
		} else {
			slog.Error("registration failed", "source", "auth", "error", err.Error())
		}
		retry(apperr.UserMessage(err))
		return
	}

	slog.Info("user registered", "source", "auth", "user_id", user.ID)
	h.logIn(w, r, user)
	h.redirectWith(w, r, "/dashboard", "success", "Account created! Welcome, "+user.Username+".")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	userID, _ := s.Values[keyUserID].(uint)
	slog.Info("user logged out", "source", "auth", "user_id", userID)

	s.Values = make(map[interface{}]interface{})
	s.Options.MaxAge = -1
	h.save(w, r, s)

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
