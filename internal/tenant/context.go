package tenant

import (
	"context"
	"errors"
)

// Key for tenant scoped values in context
type contextKey string

const (
	tenantIDKey      contextKey = "tenantID"
	requestIDKey     contextKey = "requestID"
	correlationIDKey contextKey = "correlationID"
)

// Unattributed is the tenant id used for audit records that cannot be tied to
// any tenant (unsigned or misrouted webhooks). No business line ever uses it.
const Unattributed = "unattributed"

// ErrTenantIDNotFound is returned when tenant ID is not found in context
var ErrTenantIDNotFound = errors.New("tenant ID not found in context")

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithTenantID adds a tenant ID to the context. Every storage call that reads
// or writes domain rows filters by this value.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// FromContext extracts the tenant ID from the context
func FromContext(ctx context.Context) (string, error) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	if !ok || tenantID == "" {
		return "", ErrTenantIDNotFound
	}
	return tenantID, nil
}

// MustFromContext extracts the tenant ID from the context or panics
func MustFromContext(ctx context.Context) string {
	tenantID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return tenantID
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// WithCorrelationID adds the correlation id that links a webhook or API call
// to the jobs and receipts it produces.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID returns the correlation id from ctx, or "" when absent.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
