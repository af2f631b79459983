package repository

import (
	"context"
	"io"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/domain"
)

type UserRepository interface {
	// FindByName returns the user document including store-managed secrets
	// (admin read). Returns domain.ErrUserNotFound when absent.
	FindByName(ctx context.Context, username string) (*domain.User, error)

	// FindByEmail resolves an email to an existing user via the by-email
	// view. Returns domain.ErrUserNotFound when no user exists.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)

	// Create provisions a new user document. The username must be fresh;
	// a revision conflict is surfaced as-is.
	Create(ctx context.Context, user *domain.User) (*domain.User, error)

	// Save writes an updated user document (carrying its current _rev).
	Save(ctx context.Context, user *domain.User) (*couch.WriteResult, error)

	// Delete tombstones the user document.
	Delete(ctx context.Context, username, rev string) error

	// BulkSave imports users in one batch with per-document results.
	BulkSave(ctx context.Context, users []*domain.User) ([]couch.WriteResult, error)

	PutAttachment(ctx context.Context, username, name, rev, contentType string, body io.Reader) (*couch.WriteResult, error)
	GetAttachment(ctx context.Context, username, name string) (io.ReadCloser, string, error)
	DeleteAttachment(ctx context.Context, username, name, rev string) (*couch.WriteResult, error)
}
