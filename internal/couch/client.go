// Package couch is a minimal HTTP client for a CouchDB-compatible document
// store: document CRUD, bulk writes, view queries, attachments, session
// authentication, and database provisioning.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error is a non-2xx response from the store, carrying CouchDB's error and
// reason fields for operator diagnosis. It must never be shown verbatim to
// an end user on an authentication path.
type Error struct {
	Status int    `json:"status"`
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("couchdb: %d %s: %s", e.Status, e.Err, e.Reason)
}

// IsNotFound reports whether err is a CouchDB 404.
func IsNotFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusNotFound
}

// IsConflict reports whether err is a CouchDB 409 revision conflict.
func IsConflict(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusConflict
}

// Client wraps the store's REST API. Admin credentials are a single
// pre-encoded basic-auth token supplied at construction; every call made
// through the client carries it.
type Client struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, adminToken string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "couch"),
	}
}

// WriteResult is CouchDB's response to a single document write.
type WriteResult struct {
	OK     bool   `json:"ok"`
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ViewResult is the response of a view query.
type ViewResult struct {
	TotalRows int       `json:"total_rows"`
	Offset    int       `json:"offset"`
	Rows      []ViewRow `json:"rows"`
}

type ViewRow struct {
	ID    string          `json:"id"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}

// UserCtx is the authenticated identity reported by GET /_session.
type UserCtx struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

type sessionResponse struct {
	OK      bool    `json:"ok"`
	UserCtx UserCtx `json:"userCtx"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, auth string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ce := &Error{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(ce); err != nil {
			ce.Err = "unknown"
			ce.Reason = resp.Status
		}
		c.logger.Debug("store error response", "method", method, "path", path, "status", resp.StatusCode, "reason", ce.Reason)
		return ce
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) adminAuth() string {
	return "Basic " + c.adminToken
}

func docPath(db, id string) string {
	return "/" + url.PathEscape(db) + "/" + url.PathEscape(id)
}

// GetDocument fetches a document into out. Returns (false, nil) when the
// document does not exist.
func (c *Client) GetDocument(ctx context.Context, db, id string, out any) (bool, error) {
	err := c.do(ctx, http.MethodGet, docPath(db, id), nil, "", c.adminAuth(), out)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutDocument creates or updates a document. The document must carry its
// current _rev for an update; a stale or missing revision yields a 409
// (see IsConflict).
func (c *Client) PutDocument(ctx context.Context, db, id string, doc any) (*WriteResult, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var res WriteResult
	if err := c.do(ctx, http.MethodPut, docPath(db, id), bytes.NewReader(body), "application/json", c.adminAuth(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteDocument removes a document revision. CouchDB keeps a tombstone.
func (c *Client) DeleteDocument(ctx context.Context, db, id, rev string) (*WriteResult, error) {
	var res WriteResult
	path := docPath(db, id) + "?rev=" + url.QueryEscape(rev)
	if err := c.do(ctx, http.MethodDelete, path, nil, "", c.adminAuth(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BulkDocs writes a batch in one request. Failures are per-document: the
// call succeeds with a mixed result slice, each entry either ok+rev or
// error+reason.
func (c *Client) BulkDocs(ctx context.Context, db string, docs []any) ([]WriteResult, error) {
	body, err := json.Marshal(map[string]any{"docs": docs})
	if err != nil {
		return nil, fmt.Errorf("marshal bulk docs: %w", err)
	}
	var res []WriteResult
	path := "/" + url.PathEscape(db) + "/_bulk_docs"
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", c.adminAuth(), &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetView queries a design-document view. Returns (nil, nil) when the design
// document or view does not exist.
func (c *Client) GetView(ctx context.Context, db, designDoc, view string, params url.Values) (*ViewResult, error) {
	path := "/" + url.PathEscape(db) + "/_design/" + url.PathEscape(designDoc) + "/_view/" + url.PathEscape(view)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var res ViewResult
	err := c.do(ctx, http.MethodGet, path, nil, "", c.adminAuth(), &res)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetSession validates a session cookie (or basic token) against the store's
// native session endpoint. Returns nil when the store reports no
// authenticated identity.
func (c *Client) GetSession(ctx context.Context, authSessionCookie, basicToken string) (*UserCtx, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/_session", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case authSessionCookie != "":
		req.AddCookie(&http.Cookie{Name: "AuthSession", Value: authSessionCookie})
	case basicToken != "":
		req.Header.Set("Authorization", "Basic "+basicToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if !sr.OK || sr.UserCtx.Name == "" {
		return nil, nil
	}
	return &sr.UserCtx, nil
}

// Authenticate performs password authentication against POST /_session and
// returns the Set-Cookie header the store minted. ok is false on a 401; any
// other failure is an error.
func (c *Client) Authenticate(ctx context.Context, username, password string) (ok bool, setCookie string, err error) {
	body, err := json.Marshal(map[string]string{"name": username, "password": password})
	if err != nil {
		return false, "", fmt.Errorf("marshal credentials: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/_session", bytes.NewReader(body))
	if err != nil {
		return false, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return false, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", &Error{Status: resp.StatusCode, Err: "session", Reason: resp.Status}
	}
	return true, resp.Header.Get("Set-Cookie"), nil
}

// PutAttachment uploads an attachment to a document revision.
func (c *Client) PutAttachment(ctx context.Context, db, docID, name, rev, contentType string, body io.Reader) (*WriteResult, error) {
	var res WriteResult
	path := docPath(db, docID) + "/" + url.PathEscape(name) + "?rev=" + url.QueryEscape(rev)
	if err := c.do(ctx, http.MethodPut, path, body, contentType, c.adminAuth(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetAttachment downloads an attachment. The caller owns the returned body.
// Returns (nil, "", nil) when the attachment does not exist.
func (c *Client) GetAttachment(ctx context.Context, db, docID, name string) (io.ReadCloser, string, error) {
	path := docPath(db, docID) + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.adminAuth())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get attachment: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, "", nil
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", &Error{Status: resp.StatusCode, Err: "attachment", Reason: resp.Status}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// DeleteAttachment removes an attachment from a document revision.
func (c *Client) DeleteAttachment(ctx context.Context, db, docID, name, rev string) (*WriteResult, error) {
	var res WriteResult
	path := docPath(db, docID) + "/" + url.PathEscape(name) + "?rev=" + url.QueryEscape(rev)
	if err := c.do(ctx, http.MethodDelete, path, nil, "", c.adminAuth(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// EnsureDatabase creates the database if it does not already exist.
func (c *Client) EnsureDatabase(ctx context.Context, db string) error {
	err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(db), nil, "", c.adminAuth(), nil)
	var ce *Error
	if errors.As(err, &ce) && ce.Status == http.StatusPreconditionFailed {
		// Already exists.
		return nil
	}
	return err
}

// PutSecurity writes the database _security object.
func (c *Client) PutSecurity(ctx context.Context, db string, security any) error {
	body, err := json.Marshal(security)
	if err != nil {
		return fmt.Errorf("marshal security: %w", err)
	}
	path := "/" + url.PathEscape(db) + "/_security"
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(body), "application/json", c.adminAuth(), nil)
}

// Compact triggers database compaction. CouchDB runs it in the background;
// the call returns as soon as the request is accepted.
func (c *Client) Compact(ctx context.Context, db string) error {
	path := "/" + url.PathEscape(db) + "/_compact"
	return c.do(ctx, http.MethodPost, path, strings.NewReader("{}"), "application/json", c.adminAuth(), nil)
}

// Ping checks the store's /_up endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/_up", nil, "", "", nil)
}
