package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/PabloGalante/aris-agent/internal/domain"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeySession   ctxKey = "session"
)

// basic global logger, JSON to stdout.
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

func Logger() *slog.Logger {
	return logger
}

// SetLogger replaces the global logger (tests, CLI).
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// WithSession stores the session identity in the context for log enrichment only.
func WithSession(ctx context.Context, sc domain.SessionContext) context.Context {
	return context.WithValue(ctx, ctxKeySession, sc)
}

// LoggerFromContext adds request_id and session fields if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	l := logger
	if reqID, _ := ctx.Value(ctxKeyRequestID).(string); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if sc, ok := ctx.Value(ctxKeySession).(domain.SessionContext); ok {
		l = l.With("user_id", sc.UserID, "session_id", sc.SessionID)
	}
	return l
}
