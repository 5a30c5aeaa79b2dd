// Package serviceauth carries the header names and request-context helpers
// infrastructure/httputil uses to identify the caller of an inbound request.
// The JWT/RSA token-issuing half of the teacher's serviceauth package is not
// carried here: spec.md's Non-goals explicitly exclude "HTTP REST surface and
// authentication", and this module's three endpoints (spec.md §6) are
// unauthenticated. What remains is the plumbing every handler helper in
// infrastructure/httputil needs regardless of auth: a stable place to read
// "who is this request for" out of a context or header.
package serviceauth

import "context"

const (
	// ServiceIDHeader is the header name for service identification.
	ServiceIDHeader = "X-Service-ID"

	// UserIDHeader is the header name for user identification.
	UserIDHeader = "X-User-ID"
)

type contextKey string

const (
	serviceIDKey contextKey = "service_id"
	userIDKey    contextKey = "user_id"
)

// WithServiceID returns a new context with the service ID set.
func WithServiceID(ctx context.Context, serviceID string) context.Context {
	return context.WithValue(ctx, serviceIDKey, serviceID)
}

// GetServiceID extracts the service ID from context.
func GetServiceID(ctx context.Context) string {
	if v, ok := ctx.Value(serviceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a new context with the user ID set.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
