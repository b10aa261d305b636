package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/PhilHem/go-file-vault/backend/apperr"
	"github.com/PhilHem/go-file-vault/backend/middleware"
	"github.com/PhilHem/go-file-vault/frontend/templates"
)

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	list, err := h.files.List(r.Context(), user)
	if err != nil {
		slog.Error("failed to list files", "source", "files", "user_id", user.ID, "error", err.Error())
		http.Error(w, "Failed to load files", http.StatusInternalServerError)
		return
	}
	h.render(w, r, templates.Dashboard(h.page(w, r), list))
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	f, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrMissingFile):
			h.redirectWith(w, r, "/dashboard", "danger", apperr.UserMessage(apperr.NoFile))
		case errors.As(err, &tooLarge):
			h.redirectWith(w, r, "/dashboard", "danger", "That file is too large.")
		default:
			slog.Warn("upload failed: bad form", "source", "files", "user_id", user.ID, "error", err.Error())
			h.redirectWith(w, r, "/dashboard", "danger", "Upload failed. Please try again.")
		}
		return
	}
	defer f.Close()

	file, err := h.files.Upload(r.Context(), user, header.Filename, f)
	if err != nil {
		h.redirectWith(w, r, "/dashboard", "danger", apperr.UserMessage(err))
		return
	}
	h.redirectWith(w, r, "/dashboard", "success", file.Filename+" uploaded successfully!")
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	id, err := strconv.ParseUint(r.PathValue("file_id"), 10, 0)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	err = h.files.Delete(r.Context(), uint(id), user)
	switch {
	case err == nil:
		h.redirectWith(w, r, "/dashboard", "success", "File deleted successfully!")
	case errors.Is(err, apperr.NotFound):
		http.Error(w, apperr.UserMessage(err), http.StatusNotFound)
	case errors.Is(err, apperr.Forbidden):
		http.Error(w, apperr.UserMessage(err), http.StatusForbidden)
	default:
		if !errors.Is(err, apperr.ProviderFailure) {
			slog.Error("delete failed", "source", "files", "user_id", user.ID, "file_id", id, "error", err.Error())
		}
		h.redirectWith(w, r, "/dashboard", "danger", apperr.UserMessage(err))
	}
}
