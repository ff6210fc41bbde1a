package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCrashID is the "<uid>:<uuid>" crash identifier.
	FieldCrashID = "crash_id"
	// FieldDumpDir is the absolute path of a dump directory.
	FieldDumpDir = "dump_dir"
	// FieldPlugin names the plugin involved in a log line.
	FieldPlugin = "plugin"
	// FieldClient is the bus name of the calling client.
	FieldClient = "client"
	// FieldMethod is the bus method being served.
	FieldMethod = "method"
	// FieldOutcome is the triage classification result.
	FieldOutcome = "outcome"
	// FieldEventType categorizes warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldSessionID identifies one daemon process run.
	FieldSessionID = "session_id"
)

type contextKey int

const (
	clientKey contextKey = iota
	methodKey
)

// ContextWithClient records the calling bus client and method on ctx.
func ContextWithClient(ctx context.Context, client, method string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, clientKey, client)
	return context.WithValue(ctx, methodKey, method)
}

// ClientFromContext returns the bus client recorded by ContextWithClient.
func ClientFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	client, ok := ctx.Value(clientKey).(string)
	return client, ok && client != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if client, ok := ClientFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldClient, client))
	}
	if method, ok := ctx.Value(methodKey).(string); ok && method != "" {
		fields = append(fields, slog.String(FieldMethod, method))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
