package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes feed metrics, so keep them bounded: operation names,
// backends and status values are fine. Links, device names, package names
// and error messages belong in logs or the span status.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with the component and operation.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	return t.instrument(ctx, operationName, fn,
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentUpstreamOperation instruments calls made to the upstream download service.
func (t *Telemetry) InstrumentUpstreamOperation(ctx context.Context, backend, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.instrument(ctx, "upstream_"+operation, fn,
		attribute.String("component", "upstream"),
		attribute.String("upstream.backend", backend),
		attribute.String("upstream.operation", operation),
	)

	t.RecordUpstreamOperation(ctx, backend, operation, statusOf(err))

	return err
}

// InstrumentSessionConnect instruments a full connect sequence of the session manager.
func (t *Telemetry) InstrumentSessionConnect(ctx context.Context, reason string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "session_"+reason, "session", fn)

	t.RecordSessionConnect(ctx, reason, statusOf(err))
	t.SetSessionConnected(ctx, err == nil)

	return err
}

func (t *Telemetry) instrument(ctx context.Context, name string, fn InstrumentedFunc, attrs ...attribute.KeyValue) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, name)

	defer span.End()

	span.SetAttributes(attrs...)

	err := fn(ctx)
	if err != nil {
		// error.message stays out of the attributes; the full error lives in the span status.
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", statusOf(err)),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
