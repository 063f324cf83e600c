// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// GlobalLogger is the default logger for component loggers. The server
// replaces it with the request-aware logger at startup.
var GlobalLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// SetLogger swaps the logger used by component loggers.
func SetLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = l
	}
}

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableWSLogging    bool
	EnableFrameLogging bool
}

// Config holds the current logging configuration. Per-frame logs are off by default.
var Config = LoggingConfig{
	EnableWSLogging:    true,
	EnableFrameLogging: false,
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hubName: hubName}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, sessionID string, userID uint, room string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.String("session_id", sessionID),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room", room),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, sessionID string, userID uint, room string, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.String("session_id", sessionID),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room", room),
		slog.String("reason", reason),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID uint, room string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room", room),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogFrame logs an inbound frame when frame logging is on.
func (l *WSLogger) LogFrame(ctx context.Context, userID uint, room string, frameType string) {
	if !Config.EnableWSLogging || !Config.EnableFrameLogging {
		return
	}
	GlobalLogger.DebugContext(ctx, "websocket frame",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room", room),
		slog.String("frame_type", frameType),
	)
}

// LogLifecycle logs a WebSocket hub lifecycle event.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableWSLogging {
		return
	}
	attrs := []any{
		slog.String("hub", l.hubName),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "websocket lifecycle", attrs...)
}

// TaskLogger logs runs of a periodic task.
type TaskLogger struct {
	task string
}

// NewTaskLogger creates a TaskLogger for task.
func NewTaskLogger(task string) *TaskLogger {
	return &TaskLogger{task: task}
}

// LogRun records a successful run; runs that changed nothing log at debug.
func (l *TaskLogger) LogRun(ctx context.Context, affected int64) {
	SweeperRuns.WithLabelValues(l.task, "ok").Inc()
	if affected == 0 {
		GlobalLogger.DebugContext(ctx, "periodic task ran", slog.String("task", l.task))
		return
	}
	SweeperAffected.WithLabelValues(l.task).Add(float64(affected))
	GlobalLogger.InfoContext(ctx, "periodic task ran",
		slog.String("task", l.task),
		slog.Int64("affected", affected),
	)
}

// LogError records a failed run.
func (l *TaskLogger) LogError(ctx context.Context, err error) {
	SweeperRuns.WithLabelValues(l.task, "error").Inc()
	GlobalLogger.ErrorContext(ctx, "periodic task failed",
		slog.String("task", l.task),
		slog.String("error", err.Error()),
	)
}
