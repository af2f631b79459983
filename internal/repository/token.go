package repository

import (
	"context"

	"github.com/couchgate/couchgate/internal/domain"
)

type TokenRepository interface {
	// Find returns the login token document for the composite id, or
	// domain.ErrInvalidLogin when absent.
	Find(ctx context.Context, email, code string) (*domain.LoginToken, error)

	// Create persists a fresh login token document.
	Create(ctx context.Context, token *domain.LoginToken) error

	// MarkUsed flips the token's used flag. Tokens are never deleted; the
	// consumed document stays as an audit record.
	MarkUsed(ctx context.Context, token *domain.LoginToken) error
}
