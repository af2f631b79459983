package handler_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/couchgate/couchgate/internal/domain"
	"github.com/couchgate/couchgate/internal/session"
	"github.com/couchgate/couchgate/internal/transport/http/handler"
	"github.com/couchgate/couchgate/internal/usecase"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuthUsecase struct {
	requestLogin func(ctx context.Context, email, funnel, affiliateCode string) (*domain.LoginToken, error)
	verifyLogin  func(ctx context.Context, email, code string) (*usecase.VerifyResult, error)
	password     func(ctx context.Context, username, password string) (bool, string, error)
	currentUser  func(ctx context.Context, cookieValue string) (*domain.User, error)
}

func (f *fakeAuthUsecase) RequestLogin(ctx context.Context, email, funnel, affiliateCode string) (*domain.LoginToken, error) {
	return f.requestLogin(ctx, email, funnel, affiliateCode)
}

func (f *fakeAuthUsecase) VerifyLogin(ctx context.Context, email, code string) (*usecase.VerifyResult, error) {
	return f.verifyLogin(ctx, email, code)
}

func (f *fakeAuthUsecase) AuthenticateWithPassword(ctx context.Context, username, password string) (bool, string, error) {
	return f.password(ctx, username, password)
}

func (f *fakeAuthUsecase) CurrentUser(ctx context.Context, cookieValue string) (*domain.User, error) {
	return f.currentUser(ctx, cookieValue)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newAuthEngine(fake *fakeAuthUsecase, secure bool) *gin.Engine {
	h := handler.NewAuthHandler(fake, secure, testLogger())
	r := gin.New()
	r.POST("/api/login", h.RequestLogin)
	r.POST("/api/login-verify", h.VerifyLogin)
	r.POST("/api/session", h.PasswordLogin)
	r.GET("/api/login", h.CurrentUser)
	r.DELETE("/api/logout", h.Logout)
	return r
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRequestLogin_Success(t *testing.T) {
	var gotEmail, gotFunnel, gotCode string
	fake := &fakeAuthUsecase{
		requestLogin: func(_ context.Context, email, funnel, affiliateCode string) (*domain.LoginToken, error) {
			gotEmail, gotFunnel, gotCode = email, funnel, affiliateCode
			return &domain.LoginToken{Email: email, Code: "ABCDEF"}, nil
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/login",
		`{"email":"jo@example.com","funnel":"landing","affiliateCode":"FRIEND"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotEmail != "jo@example.com" || gotFunnel != "landing" || gotCode != "FRIEND" {
		t.Errorf("usecase called with (%q, %q, %q)", gotEmail, gotFunnel, gotCode)
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "ABCDEF") {
		t.Error("login code must not leak into the response")
	}
}

func TestRequestLogin_MissingEmail_Returns400(t *testing.T) {
	fake := &fakeAuthUsecase{
		requestLogin: func(context.Context, string, string, string) (*domain.LoginToken, error) {
			t.Fatal("usecase should not be called")
			return nil, nil
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/login", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRequestLogin_InvalidInput_Returns400(t *testing.T) {
	fake := &fakeAuthUsecase{
		requestLogin: func(context.Context, string, string, string) (*domain.LoginToken, error) {
			return nil, domain.ErrInvalidInput
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/login", `{"email":"not-an-email"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRequestLogin_InternalError_Returns500(t *testing.T) {
	fake := &fakeAuthUsecase{
		requestLogin: func(context.Context, string, string, string) (*domain.LoginToken, error) {
			return nil, errors.New("store down")
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/login", `{"email":"jo@example.com"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "store down") {
		t.Error("internal error detail must not leak into the response")
	}
}

func TestVerifyLogin_Success_SetsCookie(t *testing.T) {
	user := &domain.User{Name: "p4f8k2m1qx", Email: "jo@example.com", Roles: []string{}}
	fake := &fakeAuthUsecase{
		verifyLogin: func(_ context.Context, email, code string) (*usecase.VerifyResult, error) {
			if email != "jo@example.com" || code != "ABCDEF" {
				t.Errorf("verify called with (%q, %q)", email, code)
			}
			return &usecase.VerifyResult{
				Token:       &domain.LoginToken{Email: email, Code: code, Used: true},
				User:        user,
				CookieValue: "cookie-value",
			}, nil
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/login-verify",
		`{"email":"jo@example.com","token":"ABCDEF"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	setCookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(setCookie, session.CookieName+"=cookie-value") {
		t.Errorf("Set-Cookie = %q", setCookie)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"resp"`) || !strings.Contains(body, `"doc"`) {
		t.Errorf("body = %s", body)
	}
	if !strings.Contains(body, "p4f8k2m1qx") {
		t.Errorf("body should contain the user, got %s", body)
	}
}

func TestVerifyLogin_SecureFlagFollowsEnvironment(t *testing.T) {
	fake := &fakeAuthUsecase{
		verifyLogin: func(_ context.Context, email, code string) (*usecase.VerifyResult, error) {
			return &usecase.VerifyResult{
				Token:       &domain.LoginToken{Email: email, Code: code},
				User:        &domain.User{Name: "u"},
				CookieValue: "v",
			}, nil
		},
	}

	w := postJSON(newAuthEngine(fake, true), "/api/login-verify",
		`{"email":"jo@example.com","token":"ABCDEF"}`)

	if !strings.Contains(w.Header().Get("Set-Cookie"), "Secure") {
		t.Errorf("Set-Cookie = %q, want Secure flag", w.Header().Get("Set-Cookie"))
	}
}

func TestVerifyLogin_InvalidLogin_Returns404Generic(t *testing.T) {
	fake := &fakeAuthUsecase{
		verifyLogin: func(context.Context, string, string) (*usecase.VerifyResult, error) {
			return nil, domain.ErrInvalidLogin
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/login-verify",
		`{"email":"jo@example.com","token":"WRONGX"}`)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid login") {
		t.Errorf("body = %s, want the generic message", w.Body.String())
	}
	if w.Header().Get("Set-Cookie") != "" {
		t.Error("no cookie may be set on a failed verify")
	}
}

func TestVerifyLogin_MissingFields_Returns400(t *testing.T) {
	fake := &fakeAuthUsecase{
		verifyLogin: func(context.Context, string, string) (*usecase.VerifyResult, error) {
			t.Fatal("usecase should not be called")
			return nil, nil
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/login-verify", `{"email":"jo@example.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPasswordLogin_ForwardsStoreCookie(t *testing.T) {
	fake := &fakeAuthUsecase{
		password: func(_ context.Context, username, password string) (bool, string, error) {
			if username != "p4f8k2m1qx" || password != "hunter2" {
				t.Errorf("authenticate called with (%q, %q)", username, password)
			}
			return true, "AuthSession=abc; Path=/; HttpOnly", nil
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/session",
		`{"username":"p4f8k2m1qx","password":"hunter2"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Set-Cookie"); got != "AuthSession=abc; Path=/; HttpOnly" {
		t.Errorf("Set-Cookie = %q", got)
	}
}

func TestPasswordLogin_BadCredentials_Returns401(t *testing.T) {
	fake := &fakeAuthUsecase{
		password: func(context.Context, string, string) (bool, string, error) {
			return false, "", nil
		},
	}

	w := postJSON(newAuthEngine(fake, false), "/api/session",
		`{"username":"p4f8k2m1qx","password":"wrong"}`)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCurrentUser_NoCookie_Returns401(t *testing.T) {
	fake := &fakeAuthUsecase{
		currentUser: func(context.Context, string) (*domain.User, error) {
			t.Fatal("usecase should not be called")
			return nil, nil
		},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
	newAuthEngine(fake, false).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCurrentUser_InvalidSession_Returns401(t *testing.T) {
	fake := &fakeAuthUsecase{
		currentUser: func(context.Context, string) (*domain.User, error) {
			return nil, domain.ErrUnauthorized
		},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "stale"})
	newAuthEngine(fake, false).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	fake := &fakeAuthUsecase{
		currentUser: func(_ context.Context, cookieValue string) (*domain.User, error) {
			if cookieValue != "valid-cookie" {
				t.Errorf("cookie = %q", cookieValue)
			}
			return &domain.User{Name: "p4f8k2m1qx", Email: "jo@example.com", Roles: []string{}}, nil
		},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/login", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "valid-cookie"})
	newAuthEngine(fake, false).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "p4f8k2m1qx") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestLogout_AlwaysSucceedsAndExpiresCookie(t *testing.T) {
	fake := &fakeAuthUsecase{}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/logout", nil)
	newAuthEngine(fake, false).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	setCookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(setCookie, session.CookieName+"=") {
		t.Errorf("Set-Cookie = %q", setCookie)
	}
	if !strings.Contains(setCookie, "Max-Age=0") && !strings.Contains(setCookie, "01 Jan 1970") {
		t.Errorf("Set-Cookie = %q, want an expiry", setCookie)
	}
}
