package config

import (
	"context"
	"log/slog"
	"time"
)

// QuietStart wraps a handler so that records below floor are dropped for
// the first window after construction. MCP clients begin the handshake as
// soon as the process starts; this keeps early informational chatter from
// landing in the middle of it while still letting warnings and errors
// through. After the window expires the wrapper is transparent.
//
// A window <= 0 returns the handler unchanged.
func QuietStart(h slog.Handler, window time.Duration, floor slog.Level) slog.Handler {
	if window <= 0 {
		return h
	}
	return &quietStartHandler{
		inner: h,
		until: time.Now().Add(window),
		floor: floor,
		now:   time.Now,
	}
}

type quietStartHandler struct {
	inner slog.Handler
	until time.Time
	floor slog.Level
	now   func() time.Time
}

func (h *quietStartHandler) suppressed(level slog.Level) bool {
	return level < h.floor && h.now().Before(h.until)
}

func (h *quietStartHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.suppressed(level) {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *quietStartHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.suppressed(r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *quietStartHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &quietStartHandler{inner: h.inner.WithAttrs(attrs), until: h.until, floor: h.floor, now: h.now}
}

func (h *quietStartHandler) WithGroup(name string) slog.Handler {
	return &quietStartHandler{inner: h.inner.WithGroup(name), until: h.until, floor: h.floor, now: h.now}
}
