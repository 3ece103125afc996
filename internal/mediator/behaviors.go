package mediator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"postbox/internal/logger"
	pkgerrors "postbox/pkg/errors"
	"postbox/pkg/logging"
	"postbox/pkg/metrics"
	"postbox/pkg/tracing"
)

// Recovery turns a handler panic into an internal error.
func Recovery(log logger.Logger) Behavior {
	return func(ctx context.Context, req Request, next Next) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = pkgerrors.RecoverPanic(r)
				log.ErrorwCtx(ctx, "request handler panicked", "request", req.RequestName(), "error", err)
				resp = nil
			}
		}()
		return next(ctx)
	}
}

func Tracing() Behavior {
	return func(ctx context.Context, req Request, next Next) (any, error) {
		ctx, span := tracing.StartSpan(ctx, "mediator."+req.RequestName(),
			attribute.String("request.name", req.RequestName()),
			attribute.String("request.kind", req.Kind().String()),
		)
		if traceID := tracing.TraceID(ctx); traceID != "" && logging.GetTraceID(ctx) == "" {
			ctx = logging.WithTraceID(ctx, traceID)
		}

		resp, err := next(ctx)
		tracing.End(span, err)
		return resp, err
	}
}

// Logging logs each dispatch outcome. Client faults log at info; server
// faults log at error with their cause.
func Logging(log logger.Logger) Behavior {
	return func(ctx context.Context, req Request, next Next) (any, error) {
		start := time.Now()
		resp, err := next(ctx)
		elapsed := time.Since(start)

		fields := []interface{}{
			"request", req.RequestName(),
			"kind", req.Kind().String(),
			"duration_ms", elapsed.Milliseconds(),
		}

		switch {
		case err == nil:
			log.DebugwCtx(ctx, "request handled", fields...)
		case pkgerrors.IsValidation(err) || pkgerrors.IsNotFound(err) || pkgerrors.IsConflict(err):
			log.InfowCtx(ctx, "request rejected", append(fields, "error_code", pkgerrors.Code(err), "error", err.Error())...)
		default:
			log.ErrorwCtx(ctx, "request failed", append(fields, "error_code", pkgerrors.Code(err), "error", err)...)
		}

		return resp, err
	}
}

func Metrics() Behavior {
	return func(ctx context.Context, req Request, next Next) (any, error) {
		start := time.Now()
		resp, err := next(ctx)

		outcome := "ok"
		if err != nil {
			outcome = pkgerrors.Code(err)
		}
		metrics.ObserveRequest(req.RequestName(), req.Kind().String(), outcome, time.Since(start))

		return resp, err
	}
}
