package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/backend/recovery"
	"github.com/PhilHem/go-file-vault/frontend/templates"
)

type emailForm struct {
	Email string `validate:"required,email,max=120"`
}

type codeForm struct {
	Code string `validate:"required,len=6,numeric"`
}

type newPasswordForm struct {
	Password string `validate:"required,min=8,max=72"`
	Confirm  string `validate:"eqfield=Password"`
}

func (h *Handler) ForgotPasswordPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, templates.ForgotPassword(h.page(w, r), ""))
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	form := emailForm{Email: strings.TrimSpace(r.FormValue("email"))}
	if err := h.validate.Struct(form); err != nil {
		h.render(w, r, templates.ForgotPassword(h.page(w, r, danger(validationMessage(err))), form.Email))
		return
	}

	s := h.session(r)
	flow := loadFlow(s)
	err := h.recovery.RequestReset(r.Context(), &flow, form.Email)
	switch {
	case err == nil:
	case errors.Is(err, apperr.NoAccount):
		h.render(w, r, templates.ForgotPassword(h.page(w, r, warning(apperr.UserMessage(err))), form.Email))
		return
	default:
		if !errors.Is(err, apperr.ProviderFailure) {
			slog.Error("reset request failed", "source", "recovery", "error", err.Error())
		}
		h.render(w, r, templates.ForgotPassword(h.page(w, r, danger(apperr.UserMessage(err))), form.Email))
		return
	}

	storeFlow(s, flow)
	s.AddFlash(templates.Flash{Category: "info", Message: "A 6-digit code has been sent to your email."})
	h.save(w, r, s)
	http.Redirect(w, r, "/verify_otp", http.StatusSeeOther)
}

// requireState redirects to the start of recovery unless the session's flow is
// in want. It returns the flow and whether the caller may continue.
func (h *Handler) requireState(w http.ResponseWriter, r *http.Request, want recovery.State) (recovery.Flow, bool) {
	flow := loadFlow(h.session(r))
	if flow.State != want {
		h.redirectWith(w, r, "/forgot_password", "warning", apperr.UserMessage(apperr.InvalidState))
		return flow, false
	}
	return flow, true
}

func (h *Handler) VerifyOTPPage(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.requireState(w, r, recovery.AwaitingOTP)
	if !ok {
		return
	}
	h.render(w, r, templates.VerifyOTP(h.page(w, r), flow.Email))
}

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.requireState(w, r, recovery.AwaitingOTP)
	if !ok {
		return
	}

	form := codeForm{Code: strings.TrimSpace(r.FormValue("otp"))}
	if err := h.validate.Struct(form); err != nil {
		h.render(w, r, templates.VerifyOTP(h.page(w, r, danger(validationMessage(err))), flow.Email))
		return
	}

	err := h.recovery.VerifyOTP(r.Context(), &flow, form.Code)

	s := h.session(r)
	storeFlow(s, flow)
	h.save(w, r, s)

	switch {
	case err == nil:
		http.Redirect(w, r, "/reset_new_password", http.StatusSeeOther)
	case errors.Is(err, apperr.InvalidCode):
		h.render(w, r, templates.VerifyOTP(h.page(w, r, danger(apperr.UserMessage(err))), flow.Email))
	case errors.Is(err, apperr.Expired), errors.Is(err, apperr.InvalidState):
		h.redirectWith(w, r, "/forgot_password", "warning", apperr.UserMessage(err))
	default:
		slog.Error("otp verification failed", "source", "recovery", "error", err.Error())
		h.render(w, r, templates.VerifyOTP(h.page(w, r, danger(apperr.UserMessage(err))), flow.Email))
	}
}

func (h *Handler) ResetNewPasswordPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireState(w, r, recovery.OTPVerified); !ok {
		return
	}
	h.render(w, r, templates.ResetPassword(h.page(w, r)))
}

func (h *Handler) ResetNewPassword(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.requireState(w, r, recovery.OTPVerified)
	if !ok {
		return
	}

	form := newPasswordForm{
		Password: r.FormValue("password"),
		Confirm:  r.FormValue("confirm_password"),
	}
	if err := h.validate.Struct(form); err != nil {
		h.render(w, r, templates.ResetPassword(h.page(w, r, danger(validationMessage(err)))))
		return
	}
	if passwordTooLong(form.Password) {
		h.render(w, r, templates.ResetPassword(h.page(w, r, danger("Password must be 8-72 characters."))))
		return
	}

	if err := h.recovery.SetNewPassword(r.Context(), &flow, form.Password); err != nil {
		if errors.Is(err, apperr.InvalidState) {
			s := h.session(r)
			storeFlow(s, flow)
			h.save(w, r, s)
			h.redirectWith(w, r, "/forgot_password", "warning", apperr.UserMessage(err))
			return
		}
		slog.Error("password reset failed", "source", "recovery", "error", err.Error())
		h.render(w, r, templates.ResetPassword(h.page(w, r, danger(apperr.UserMessage(err)))))
		return
	}

	s := h.session(r)
	storeFlow(s, flow)
	s.AddFlash(templates.Flash{Category: "success", Message: "Your password has been updated! You can now login."})
	h.save(w, r, s)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
