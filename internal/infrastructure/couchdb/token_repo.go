package couchdb

import (
	"context"
	"fmt"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/domain"
)

type TokenRepository struct {
	client *couch.Client
	db     string
}

func NewTokenRepository(client *couch.Client, db string) *TokenRepository {
	return &TokenRepository{client: client, db: db}
}

func (r *TokenRepository) Find(ctx context.Context, email, code string) (*domain.LoginToken, error) {
	var token domain.LoginToken
	found, err := r.client.GetDocument(ctx, r.db, domain.TokenDocID(email, code), &token)
	if err != nil {
		return nil, fmt.Errorf("get login token: %w", err)
	}
	if !found {
		return nil, domain.ErrInvalidLogin
	}
	return &token, nil
}

func (r *TokenRepository) Create(ctx context.Context, token *domain.LoginToken) error {
	token.ID = domain.TokenDocID(token.Email, token.Code)
	res, err := r.client.PutDocument(ctx, r.db, token.ID, token)
	if err != nil {
		return fmt.Errorf("create login token: %w", err)
	}
	token.Rev = res.Rev
	return nil
}

func (r *TokenRepository) MarkUsed(ctx context.Context, token *domain.LoginToken) error {
	token.Used = true // idempotent if the caller already flipped it
	res, err := r.client.PutDocument(ctx, r.db, token.ID, token)
	if err != nil {
		// Two concurrent verifications can race to this write; the store's
		// revision check makes the second one conflict. See the workflow's
		// two-phase note before treating this as fatal.
		return fmt.Errorf("mark token used: %w", err)
	}
	token.Rev = res.Rev
	return nil
}
