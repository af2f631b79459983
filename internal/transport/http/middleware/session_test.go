package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/session"
	"github.com/couchgate/couchgate/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

type fakeValidator struct {
	getSession func(ctx context.Context, cookie, basicToken string) (*couch.UserCtx, error)
}

func (f *fakeValidator) GetSession(ctx context.Context, cookie, basicToken string) (*couch.UserCtx, error) {
	return f.getSession(ctx, cookie, basicToken)
}

func newSessionEngine(v middleware.SessionValidator) *gin.Engine {
	r := gin.New()
	r.GET("/gated", middleware.Session(v), func(c *gin.Context) {
		c.String(http.StatusOK, "%s|%s", middleware.Username(c), strings.Join(middleware.Roles(c), ","))
	})
	return r
}

func TestSession_NoCookie_Returns401(t *testing.T) {
	v := &fakeValidator{getSession: func(context.Context, string, string) (*couch.UserCtx, error) {
		t.Fatal("store should not be called without a cookie")
		return nil, nil
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/gated", nil)
	newSessionEngine(v).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSession_RejectedCookie_Returns401(t *testing.T) {
	v := &fakeValidator{getSession: func(context.Context, string, string) (*couch.UserCtx, error) {
		return nil, nil
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/gated", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "stale"})
	newSessionEngine(v).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestSession_StoreError_Returns500(t *testing.T) {
	v := &fakeValidator{getSession: func(context.Context, string, string) (*couch.UserCtx, error) {
		return nil, errors.New("store unreachable")
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/gated", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "whatever"})
	newSessionEngine(v).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSession_ValidCookie_SetsIdentity(t *testing.T) {
	var gotCookie string
	v := &fakeValidator{getSession: func(_ context.Context, cookie, _ string) (*couch.UserCtx, error) {
		gotCookie = cookie
		return &couch.UserCtx{Name: "p4f8k2m1qx", Roles: []string{"subscriber"}}, nil
	}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/gated", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "good-cookie"})
	newSessionEngine(v).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotCookie != "good-cookie" {
		t.Errorf("cookie forwarded to store = %q, want %q", gotCookie, "good-cookie")
	}
	if got := w.Body.String(); got != "p4f8k2m1qx|subscriber" {
		t.Errorf("identity = %q, want %q", got, "p4f8k2m1qx|subscriber")
	}
}
