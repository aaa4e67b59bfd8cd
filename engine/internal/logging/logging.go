// Package logging builds the engine logger. Error records are also
// reported to Sentry when a DSN is configured.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds logging settings.
type Config struct {
	Debug       bool   `yaml:"debug"`
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"-"`
}

// New returns a text logger writing to w. The returned func flushes
// pending Sentry events and must be called before exit.
func New(cfg Config, w io.Writer) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})

	if cfg.SentryDSN == "" {
		return slog.New(handler), func() {}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing sentry: %w", err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())
	flush := func() { hub.Flush(2 * time.Second) }
	return slog.New(NewSentryHandler(handler, hub, slog.LevelError)), flush, nil
}

// SentryHandler forwards records at or above a level to a Sentry hub and
// passes every record on to the wrapped handler.
type SentryHandler struct {
	next  slog.Handler
	hub   *sentry.Hub
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewSentryHandler wraps next.
func NewSentryHandler(next slog.Handler, hub *sentry.Hub, level slog.Level) *SentryHandler {
	return &SentryHandler{next: next, hub: hub, level: level}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		h.capture(r)
	}
	return h.next.Handle(ctx, r)
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), h.qualify(attrs)...)
	return &cp
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.next = h.next.WithGroup(name)
	if cp.group != "" {
		cp.group += "." + name
	} else {
		cp.group = name
	}
	return &cp
}

func (h *SentryHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
	}
	return out
}

func (h *SentryHandler) capture(r slog.Record) {
	attrs := append([]slog.Attr(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.qualify([]slog.Attr{a})...)
		return true
	})

	var cause error
	h.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		for _, a := range attrs {
			v := a.Value.Resolve()
			if err, ok := v.Any().(error); ok && cause == nil {
				cause = err
				continue
			}
			switch a.Key {
			case "component", "installation_id", "configuration_id", "trigger_id":
				scope.SetTag(a.Key, v.String())
			default:
				scope.SetExtra(a.Key, v.String())
			}
		}
		if cause != nil {
			h.hub.CaptureException(fmt.Errorf("%s: %w", r.Message, cause))
			return
		}
		h.hub.CaptureException(errors.New(r.Message))
	})
}
