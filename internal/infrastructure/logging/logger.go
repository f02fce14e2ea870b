// Package logging provides structured logging for schoolsync on top of
// log/slog. Drain, mutation and cache identifiers stored in a context are
// added to every record logged with that context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logging configuration.
type Config struct {
	Level  Level
	Format Format
	Output io.Writer // os.Stderr when nil
}

// DefaultConfig returns text logging at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: FormatText, Output: os.Stderr}
}

// Logger is a slog.Logger whose level can be changed after creation.
// Loggers derived with With share the parent's level.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

var defaultLogger = sync.OnceValue(func() *Logger { return New(DefaultConfig()) })

// Default returns a shared logger built from DefaultConfig.
func Default() *Logger {
	return defaultLogger()
}

// New creates a Logger for cfg.
func New(cfg Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.Level.slog())

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var h slog.Handler
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(contextHandler{h}), level: level}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{Level: LevelError, Output: io.Discard})
}

// ParseLevel converts a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s)
	}
	return LevelInfo
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.slog())
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

type attrsKey struct{}

// contextHandler adds the attributes stored by WithDrainID, WithMutationID
// and WithCacheKey to each record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(attrsKey{}).([]slog.Attr); ok {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

func withAttr(ctx context.Context, a slog.Attr) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	attrs := make([]slog.Attr, 0, len(prev)+1)
	for _, p := range prev {
		if p.Key != a.Key {
			attrs = append(attrs, p)
		}
	}
	return context.WithValue(ctx, attrsKey{}, append(attrs, a))
}

// WithDrainID tags records logged with ctx with a drain run ID.
func WithDrainID(ctx context.Context, id string) context.Context {
	return withAttr(ctx, slog.String("drain_id", id))
}

// WithMutationID tags records logged with ctx with a queued mutation ID.
func WithMutationID(ctx context.Context, id int64) context.Context {
	return withAttr(ctx, slog.Int64("mutation_id", id))
}

// WithCacheKey tags records logged with ctx with a cache key.
func WithCacheKey(ctx context.Context, key string) context.Context {
	return withAttr(ctx, slog.String("cache_key", key))
}

// DrainID returns the drain run ID stored in ctx.
func DrainID(ctx context.Context) string {
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	for _, a := range attrs {
		if a.Key == "drain_id" {
			return a.Value.String()
		}
	}
	return ""
}

// LogDrainStart logs the start of a queue drain.
func LogDrainStart(ctx context.Context, logger *Logger, pending int) {
	logger.InfoContext(ctx, "queue drain started", "pending", pending)
}

// LogDrainComplete logs the end of a queue drain.
func LogDrainComplete(ctx context.Context, logger *Logger, synced, failed, remaining int, duration time.Duration) {
	logger.InfoContext(ctx, "queue drain completed",
		"synced", synced,
		"failed", failed,
		"remaining", remaining,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogItemDropped logs a mutation the server rejected definitively, with the
// response body.
func LogItemDropped(ctx context.Context, logger *Logger, method, url string, status int, body []byte) {
	logger.WarnContext(ctx, "queued mutation rejected by server, dropping",
		"method", method,
		"url", url,
		"status", status,
		"response", string(body),
	)
}

// LogItemRetained logs a mutation kept for the next drain.
func LogItemRetained(ctx context.Context, logger *Logger, method, url string, retries int, err error) {
	logger.WarnContext(ctx, "queued mutation failed, will retry",
		"method", method,
		"url", url,
		"retries", retries,
		"error", err.Error(),
	)
}

// LogStoreFailure logs a swallowed durable store error.
func LogStoreFailure(ctx context.Context, logger *Logger, op string, err error) {
	logger.ErrorContext(ctx, "durable store operation failed", "op", op, "error", err.Error())
}

// LogCacheFallback logs a read served from the durable cache.
func LogCacheFallback(ctx context.Context, logger *Logger, key string, hit, stale bool) {
	logger.DebugContext(ctx, "serving read from cache", "cache_key", key, "hit", hit, "stale", stale)
}

// LogRequest logs an outgoing API request.
func LogRequest(ctx context.Context, logger *Logger, method, url string) {
	logger.DebugContext(ctx, "api request", "method", method, "url", url)
}

// LogResponse logs an API response.
func LogResponse(ctx context.Context, logger *Logger, method, url string, status int, latency time.Duration) {
	logger.DebugContext(ctx, "api response",
		"method", method,
		"url", url,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	)
}
