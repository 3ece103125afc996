package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey       = "trace_id"
	RequestIDKey     = "request_id"
	CorrelationIDKey = "correlation_id"
	ServiceNameKey   = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey(RequestIDKey), requestID)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, ctxKey(CorrelationIDKey), correlationID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func value(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string       { return value(ctx, TraceIDKey) }
func GetRequestID(ctx context.Context) string     { return value(ctx, RequestIDKey) }
func GetCorrelationID(ctx context.Context) string { return value(ctx, CorrelationIDKey) }
func GetServiceName(ctx context.Context) string   { return value(ctx, ServiceNameKey) }

// GetLogFields returns the key/value pairs carried by ctx, in a stable order.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	for _, key := range []string{TraceIDKey, RequestIDKey, CorrelationIDKey, ServiceNameKey} {
		if v := value(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
