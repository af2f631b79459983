// Package couchdb implements the repository interfaces on the CouchDB
// client.
package couchdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/domain"
)

const (
	authDesignDoc = "auth"
	byEmailView   = "by-email"
)

type UserRepository struct {
	client *couch.Client
	db     string
}

func NewUserRepository(client *couch.Client, db string) *UserRepository {
	return &UserRepository{client: client, db: db}
}

func (r *UserRepository) FindByName(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	found, err := r.client.GetDocument(ctx, r.db, domain.DocID(username), &user)
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	if !found || user.Deleted {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	params := url.Values{}
	key, _ := json.Marshal(email)
	params.Set("key", string(key))
	params.Set("include_docs", "true")
	params.Set("limit", "1")

	res, err := r.client.GetView(ctx, r.db, authDesignDoc, byEmailView, params)
	if err != nil {
		return nil, fmt.Errorf("query by-email view: %w", err)
	}
	if res == nil || len(res.Rows) == 0 || len(res.Rows[0].Doc) == 0 {
		return nil, domain.ErrUserNotFound
	}

	var user domain.User
	if err := json.Unmarshal(res.Rows[0].Doc, &user); err != nil {
		return nil, fmt.Errorf("decode user doc: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	user.ID = domain.DocID(user.Name)
	user.Type = "user"
	if user.Roles == nil {
		user.Roles = []string{}
	}

	res, err := r.client.PutDocument(ctx, r.db, user.ID, user)
	if err != nil {
		return nil, fmt.Errorf("create user %q: %w", user.Name, err)
	}
	user.Rev = res.Rev
	return user, nil
}

func (r *UserRepository) Save(ctx context.Context, user *domain.User) (*couch.WriteResult, error) {
	res, err := r.client.PutDocument(ctx, r.db, user.ID, user)
	if err != nil {
		return nil, fmt.Errorf("save user %q: %w", user.Name, err)
	}
	return res, nil
}

func (r *UserRepository) Delete(ctx context.Context, username, rev string) error {
	if _, err := r.client.DeleteDocument(ctx, r.db, domain.DocID(username), rev); err != nil {
		return fmt.Errorf("delete user %q: %w", username, err)
	}
	return nil
}

func (r *UserRepository) BulkSave(ctx context.Context, users []*domain.User) ([]couch.WriteResult, error) {
	docs := make([]any, 0, len(users))
	for _, u := range users {
		if u.ID == "" {
			u.ID = domain.DocID(u.Name)
		}
		u.Type = "user"
		if u.Roles == nil {
			u.Roles = []string{}
		}
		docs = append(docs, u)
	}
	res, err := r.client.BulkDocs(ctx, r.db, docs)
	if err != nil {
		return nil, fmt.Errorf("bulk save users: %w", err)
	}
	return res, nil
}

func (r *UserRepository) PutAttachment(ctx context.Context, username, name, rev, contentType string, body io.Reader) (*couch.WriteResult, error) {
	return r.client.PutAttachment(ctx, r.db, domain.DocID(username), name, rev, contentType, body)
}

func (r *UserRepository) GetAttachment(ctx context.Context, username, name string) (io.ReadCloser, string, error) {
	return r.client.GetAttachment(ctx, r.db, domain.DocID(username), name)
}

func (r *UserRepository) DeleteAttachment(ctx context.Context, username, name, rev string) (*couch.WriteResult, error) {
	return r.client.DeleteAttachment(ctx, r.db, domain.DocID(username), name, rev)
}
