package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/PhilHem/go-file-vault/backend/config"
)

// DefaultSource tags records that were logged without a "source" attr.
const DefaultSource = "app"

// New builds the process logger from cfg, writing to w.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var inner slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		inner = slog.NewTextHandler(w, opts)
	} else {
		inner = slog.NewJSONHandler(w, opts)
	}
	return slog.New(&SourceHandler{inner: inner})
}

// ParseLevel maps a config level name to a slog level. Unknown names give info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SourceHandler guarantees every record carries a "source" attr so log lines
// can be filtered by component.
type SourceHandler struct {
	inner     slog.Handler
	hasSource bool
}

func (h *SourceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SourceHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.hasSource {
		found := false
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "source" {
				found = true
				return false
			}
			return true
		})
		if !found {
			r = r.Clone()
			r.AddAttrs(slog.String("source", DefaultSource))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *SourceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	has := h.hasSource
	for _, a := range attrs {
		if a.Key == "source" {
			has = true
		}
	}
	return &SourceHandler{inner: h.inner.WithAttrs(attrs), hasSource: has}
}

func (h *SourceHandler) WithGroup(name string) slog.Handler {
	return &SourceHandler{inner: h.inner.WithGroup(name), hasSource: h.hasSource}
}
