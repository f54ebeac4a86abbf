// Package store persists client-local state: the auth token, the serialized
// user, and onboarding interests. Every authenticated operation reads the
// token through here; an absent or expired token means unauthenticated.
package store

import (
	"context"

	"github.com/clustrhq/clustr-go/models"
)

type SessionStore interface {
	// SetSession replaces the cached credentials after a successful
	// signup/login exchange.
	SetSession(ctx context.Context, token string, user *models.User) error

	// Token returns the cached bearer token, or "" when none is stored or
	// the stored one has expired.
	Token(ctx context.Context) (string, error)

	// User returns the cached user, or nil when logged out.
	User(ctx context.Context) (*models.User, error)

	SetInterests(ctx context.Context, interests []string) error

	Interests(ctx context.Context) ([]string, error)

	// Clear removes all cached session state. It is not an error to clear
	// an empty store.
	Clear(ctx context.Context) error
}
