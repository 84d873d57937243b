package logging

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

type contextKey int

const (
	loggerKey contextKey = iota
	outputKey
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// WithOutput adds a logger to the context together with the writer it
// logs to, so Tee can duplicate its events.
func WithOutput(ctx context.Context, logger *zerolog.Logger, w io.Writer) context.Context {
	return context.WithValue(WithLogger(ctx, logger), outputKey, w)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// Tee returns a context whose logger also writes every event to w as a JSON
// line. The fields already on the context logger are kept. When the context
// has no output recorded by WithOutput, events are written to w only.
func Tee(ctx context.Context, w io.Writer) context.Context {
	if out, ok := ctx.Value(outputKey).(io.Writer); ok && out != nil {
		w = zerolog.MultiLevelWriter(out, w)
	}
	logger := FromContext(ctx).Output(w)
	return WithOutput(ctx, &logger, w)
}

func withFields(ctx context.Context, fields ...string) context.Context {
	logCtx := FromContext(ctx).With()
	for i := 0; i+1 < len(fields); i += 2 {
		logCtx = logCtx.Str(fields[i], fields[i+1])
	}
	logger := logCtx.Logger()
	if out, ok := ctx.Value(outputKey).(io.Writer); ok {
		return WithOutput(ctx, &logger, out)
	}
	return WithLogger(ctx, &logger)
}

// WithCompany adds the company name to the logger.
func WithCompany(ctx context.Context, company string) context.Context {
	return withFields(ctx, "company", company)
}

// WithRunID adds the reconciliation run id to the logger.
func WithRunID(ctx context.Context, runID string) context.Context {
	return withFields(ctx, "run_id", runID)
}

// WithSource adds the foreign source label to the logger.
func WithSource(ctx context.Context, source string) context.Context {
	return withFields(ctx, "source", source)
}

// WithVehicle adds the internal vehicle id and plate to the logger.
func WithVehicle(ctx context.Context, vehicleID string, plate string) context.Context {
	return withFields(ctx, "car_id", vehicleID, "plate", plate)
}
