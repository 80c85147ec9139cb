package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyCategory   = "category"
	KeyAction     = "action"
	KeyItem       = "item"
	KeyBatchID    = "batchId"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// lateHandler forwards to whatever handler Init last installed, so loggers
// built at package init still follow the configured format and level.
// Attributes and groups are replayed onto the live handler in order.
type lateHandler struct {
	live *atomic.Pointer[slog.Handler]
	ops  []func(slog.Handler) slog.Handler
}

func (h lateHandler) target() slog.Handler {
	out := *h.live.Load()
	for _, op := range h.ops {
		out = op(out)
	}
	return out
}

func (h lateHandler) with(op func(slog.Handler) slog.Handler) lateHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return lateHandler{live: h.live, ops: append(ops, op)}
}

func (h lateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= logLevel.Level()
}

func (h lateHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h lateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	attrs = append([]slog.Attr(nil), attrs...)
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h lateHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

var (
	logLevel    = new(slog.LevelVar)
	liveHandler atomic.Pointer[slog.Handler]
	root        = slog.New(lateHandler{live: &liveHandler})
)

func init() {
	logLevel.Set(slog.LevelWarn)
	install(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(root)
}

func install(h slog.Handler) {
	liveHandler.Store(&h)
}

// Init configures the global logger. Call once after config is loaded.
// format is "json" or "text"; level is "debug", "info", "warn" or "error".
// A nil output means stderr so stdout stays free for inventory output.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	logLevel.Set(ParseLevel(level))
	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(format, "json") {
		install(slog.NewJSONHandler(output, opts))
	} else {
		install(slog.NewTextHandler(output, opts))
	}
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return root.With(slog.String(KeyComponent, component))
}

// WithBatch returns a child logger carrying batch correlation fields.
func WithBatch(logger *slog.Logger, batchID, category, action string) *slog.Logger {
	return logger.With(
		slog.String(KeyBatchID, batchID),
		slog.String(KeyCategory, category),
		slog.String(KeyAction, action),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return root
}

// ParseLevel maps a config level name onto slog; unknown names mean info.
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
