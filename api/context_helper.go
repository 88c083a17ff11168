package api

import (
	"context"
	"time"

	"github.com/linesmerrill/desktop-auth-api/broker"
)

// QueryTimeout is the default timeout for store queries made outside a request
const QueryTimeout = 10 * time.Second

// WithQueryTimeout creates a context with query timeout
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

type sessionIdentityKey struct{}

// WithSessionIdentity stores the authenticated session identity on ctx
func WithSessionIdentity(ctx context.Context, id broker.Identity) context.Context {
	return context.WithValue(ctx, sessionIdentityKey{}, id)
}

// SessionIdentityFromContext returns the identity stored by the session middleware
func SessionIdentityFromContext(ctx context.Context) (broker.Identity, bool) {
	id, ok := ctx.Value(sessionIdentityKey{}).(broker.Identity)
	return id, ok
}
