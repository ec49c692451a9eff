// Package auth verifies bearer tokens issued by the identity provider.
package auth

import (
	"context"

	"chat-sync/internal/apperr"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Verifier turns a raw bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

var ErrInvalidToken = apperr.Unauthenticated("invalid token")
