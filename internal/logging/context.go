package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	gameKey ctxKey = iota
	actionIDKey
	commandKey
)

// WithGame returns a context with the game identity set.
func WithGame(ctx context.Context, game string) context.Context {
	return context.WithValue(ctx, gameKey, game)
}

// WithActionID returns a context with the action correlation id set.
func WithActionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actionIDKey, id)
}

// WithCommand returns a context with the command tag set.
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, commandKey, command)
}

// Game extracts the game identity from the context, or "" if absent.
func Game(ctx context.Context) string {
	v, _ := ctx.Value(gameKey).(string)
	return v
}

// ActionID extracts the action correlation id from the context, or "" if absent.
func ActionID(ctx context.Context) string {
	v, _ := ctx.Value(actionIDKey).(string)
	return v
}

// Command extracts the command tag from the context, or "" if absent.
func Command(ctx context.Context) string {
	v, _ := ctx.Value(commandKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting the
// game, action id, and command tag from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and correlation fields appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := Game(ctx); v != "" {
		r.AddAttrs(slog.String("game", v))
	}
	if v := ActionID(ctx); v != "" {
		r.AddAttrs(slog.String("action_id", v))
	}
	if v := Command(ctx); v != "" {
		r.AddAttrs(slog.String("command", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
