package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldRequestID is the field name for request ID.
	LogFieldRequestID = "request_id"
	// LogFieldOperation is the field name for the memory operation.
	LogFieldOperation = "operation"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldEpisodeID is the field name for episode ID.
	LogFieldEpisodeID = "episode_id"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
)

// RequestContext represents the context for a single memory operation with
// structured logging.
type RequestContext struct {
	RequestID string
	Operation string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewRequestContext creates a new request context with a generated request ID.
func NewRequestContext(logger *slog.Logger, operation string) *RequestContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestContext{
		RequestID: generateRequestID(),
		Operation: operation,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

func (r *RequestContext) baseAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String(LogFieldRequestID, r.RequestID),
		slog.String(LogFieldOperation, r.Operation),
	}
}

func (r *RequestContext) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	combined := append(r.baseAttrs(), attrs...)
	r.Logger.LogAttrs(ctx, level, msg, combined...)
}

// Info logs an info message.
func (r *RequestContext) Info(msg string, attrs ...slog.Attr) {
	r.log(context.Background(), slog.LevelInfo, msg, attrs...)
}

// Debug logs a debug message.
func (r *RequestContext) Debug(msg string, attrs ...slog.Attr) {
	r.log(context.Background(), slog.LevelDebug, msg, attrs...)
}

// Warn logs a warning message.
func (r *RequestContext) Warn(msg string, attrs ...slog.Attr) {
	r.log(context.Background(), slog.LevelWarn, msg, attrs...)
}

// Error logs an error message.
func (r *RequestContext) Error(msg string, attrs ...slog.Attr) {
	r.log(context.Background(), slog.LevelError, msg, attrs...)
}

// Done logs operation completion with its total duration.
func (r *RequestContext) Done(msg string, attrs ...slog.Attr) {
	combined := append(attrs, slog.Int64(LogFieldDuration, time.Since(r.StartTime).Milliseconds()))
	r.log(context.Background(), slog.LevelInfo, msg, combined...)
}

func generateRequestID() string {
	return uuid.NewString()[:8]
}
