// Package logger builds the service's slog logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/config"
)

// New returns a JSON logger on stdout tagged with the service name.
// Identifiers stored with WithRequestID and WithRun are added to records
// logged through the *Context methods. Close the Closer before exit to
// flush an async handler.
func New(cfg config.Logging) (*slog.Logger, Closer) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.Logging, w io.Writer) (*slog.Logger, Closer) {
	var h slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	var closer Closer = nopCloser{}
	if cfg.Async {
		async := NewAsyncHandler(h, cfg.AsyncBuffer, cfg.AsyncWorkers)
		h, closer = async, async
	}
	return slog.New(contextHandler{h}).With("service", cfg.Service), closer
}

// parseLevel accepts slog level names such as "debug" or "warn+2", plus
// "warning". Anything else is info.
func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler signature
	rec.AddAttrs(attrs(ctx)...)
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(as)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
