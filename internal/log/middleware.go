package log

import (
	"context"
	"log/slog"
	"net/http"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the request-scoped logger
	LoggerContextKey ContextKey = "logger"
)

// FromContext extracts the request-scoped logger, falling back to the
// default logger.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return newLogger(slog.Default(), "")
}

// StructuredLogger writes the fixed-shape events: HTTP access lines, record
// creation and import summaries.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, clientIP string) {
	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent"), r.Header.Get("Referer")).
		WithClientIP(clientIP)

	sl.logger.WithComponent(ComponentHTTP).DebugContext(ctx, "HTTP request started", fields.ToSlice()...)
}

// LogHTTPEnd logs at warn for 4xx and error for 5xx.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", "").
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP)

	sl.logger.WithComponent(ComponentHTTP).Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

func (sl *StructuredLogger) LogRecordCreated(ctx context.Context, userID, recordID, sourceID, amountCents int64) {
	fields := NewFields().
		WithRecord(userID, recordID, sourceID, amountCents).
		WithOperation(OpCreate)

	sl.logger.WithComponent(ComponentIncome).InfoContext(ctx, "Income record created", fields.ToSlice()...)
}

func (sl *StructuredLogger) LogImportCompleted(ctx context.Context, batchID string, userID int64, imported, skipped int) {
	fields := NewFields().
		WithImport(batchID, userID, imported, skipped).
		WithOperation(OpImport)

	sl.logger.WithComponent(ComponentImport).InfoContext(ctx, "CSV import completed", fields.ToSlice()...)
}
