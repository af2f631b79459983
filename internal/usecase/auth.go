package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/domain"
	"github.com/couchgate/couchgate/internal/email"
	"github.com/couchgate/couchgate/internal/metrics"
	"github.com/couchgate/couchgate/internal/repository"
	"github.com/couchgate/couchgate/internal/session"
)

// SessionTTL matches the cookie lifetime the store is configured with.
const SessionTTL = 6_000_000 * time.Second

const (
	loginCodeLength  = 6
	loginCodeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	usernameRandLen  = 8
	// Base58: no 0/O/I/l, keeps generated usernames unambiguous.
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// Permissive RFC-5322-ish check; the real gate is the emailed code.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// sessionStore is the subset of the couch client the workflow needs for
// native session operations. Point-of-use interface so tests can fake it.
type sessionStore interface {
	GetSession(ctx context.Context, authSessionCookie, basicToken string) (*couch.UserCtx, error)
	Authenticate(ctx context.Context, username, password string) (bool, string, error)
}

type AuthUsecase struct {
	users      repository.UserRepository
	tokens     repository.TokenRepository
	store      sessionStore
	sender     email.Sender
	secret     string
	userPrefix string
	logger     *slog.Logger

	now func() time.Time
}

func NewAuthUsecase(
	users repository.UserRepository,
	tokens repository.TokenRepository,
	store sessionStore,
	sender email.Sender,
	secret string,
	userPrefix string,
	logger *slog.Logger,
) *AuthUsecase {
	return &AuthUsecase{
		users:      users,
		tokens:     tokens,
		store:      store,
		sender:     sender,
		secret:     secret,
		userPrefix: userPrefix,
		logger:     logger.With("component", "auth"),
		now:        time.Now,
	}
}

// WithClock overrides the usecase's time source. Test hook.
func (u *AuthUsecase) WithClock(now func() time.Time) *AuthUsecase {
	u.now = now
	return u
}

// RequestLogin issues a one-time login code for the email, persists it as a
// token document, and sends the code.
func (u *AuthUsecase) RequestLogin(ctx context.Context, emailAddr, funnel, affiliateCode string) (*domain.LoginToken, error) {
	if !emailPattern.MatchString(emailAddr) {
		return nil, fmt.Errorf("%w: malformed email", domain.ErrInvalidInput)
	}

	var friendCode string
	if affiliateCode != "" {
		// The code must resolve to an existing user before it is attached.
		if _, err := u.users.FindByName(ctx, u.userPrefix+affiliateCode); err != nil {
			if errors.Is(err, domain.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: unknown affiliate code", domain.ErrInvalidInput)
			}
			return nil, fmt.Errorf("resolve affiliate code: %w", err)
		}
		friendCode = affiliateCode
	}

	code, err := randomLoginCode()
	if err != nil {
		return nil, fmt.Errorf("generate login code: %w", err)
	}

	now := u.now()
	token := &domain.LoginToken{
		Email:               emailAddr,
		Code:                code,
		Funnel:              funnel,
		Timestamp:           now,
		Expires:             now.Add(domain.LoginTokenTTL),
		Used:                false,
		AffiliateFriendCode: friendCode,
	}
	if err := u.tokens.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("persist login token: %w", err)
	}
	metrics.LoginRequestsTotal.Inc()

	subject := "Your login code"
	body := fmt.Sprintf("<p>Your login code is <strong>%s</strong>. It expires in 60 minutes.</p>", code)
	if err := u.sender.Send(ctx, emailAddr, subject, body); err != nil {
		return nil, fmt.Errorf("send login code: %w", err)
	}

	return token, nil
}

// VerifyResult is a successful login verification.
type VerifyResult struct {
	Token       *domain.LoginToken
	User        *domain.User
	CookieValue string
}

// VerifyLogin redeems a login code. Any token failure (absent, expired,
// already used) comes back as domain.ErrInvalidLogin so a caller probing
// codes learns nothing about which case it hit.
//
// The write ordering is two-phase, credential first: the cookie is minted
// before the token is marked used, and a failure of the second write is
// logged but does not revoke the already-issued cookie.
func (u *AuthUsecase) VerifyLogin(ctx context.Context, emailAddr, code string) (*VerifyResult, error) {
	if emailAddr == "" || code == "" {
		return nil, fmt.Errorf("%w: email and token are required", domain.ErrInvalidInput)
	}

	token, err := u.tokens.Find(ctx, emailAddr, code)
	if err != nil {
		metrics.LoginVerifiesTotal.WithLabelValues("invalid").Inc()
		return nil, domain.ErrInvalidLogin
	}
	if !token.Valid(u.now()) {
		metrics.LoginVerifiesTotal.WithLabelValues("invalid").Inc()
		return nil, domain.ErrInvalidLogin
	}

	user, err := u.users.FindByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		// Existing user, reuse the document.
	case errors.Is(err, domain.ErrUserNotFound):
		user, err = u.provisionUser(ctx, emailAddr, token)
		if err != nil {
			metrics.LoginVerifiesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("provision user: %w", err)
		}
	default:
		metrics.LoginVerifiesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("look up user by email: %w", err)
	}

	// Right after creation the salt is store-computed and not yet in our
	// copy; re-read the document to mint against the real salt.
	if user.Salt == "" {
		fresh, err := u.users.FindByName(ctx, user.Name)
		if err != nil {
			metrics.LoginVerifiesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("reload user: %w", err)
		}
		user = fresh
	}

	cookie := session.Mint(user.Name, u.secret, user.Salt, SessionTTL, u.now())
	metrics.SessionsMintedTotal.Inc()

	token.Used = true
	if err := u.tokens.MarkUsed(ctx, token); err != nil {
		// Phase two failed. The cookie above is already issued and stays
		// valid; the token remains redeemable until a retry or the store's
		// revision check settles it. Known gap, logged for audit.
		u.logger.Error("mark login token used", "token_id", token.ID, "error", err)
	}

	metrics.LoginVerifiesTotal.WithLabelValues("success").Inc()
	u.logger.Info("login verified", "username", user.Name)

	sanitized := user.Sanitized()
	return &VerifyResult{Token: token, User: &sanitized, CookieValue: cookie}, nil
}

func (u *AuthUsecase) provisionUser(ctx context.Context, emailAddr string, token *domain.LoginToken) (*domain.User, error) {
	username, err := randomUsername(u.userPrefix)
	if err != nil {
		return nil, err
	}
	password, err := randomPassword()
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Name:       username,
		Email:      emailAddr,
		Roles:      []string{},
		Funnel:     token.Funnel,
		ReferredBy: token.AffiliateFriendCode,
		Password:   password,
	}
	created, err := u.users.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	u.logger.Info("user provisioned", "username", created.Name, "funnel", created.Funnel)
	return created, nil
}

// AuthenticateWithPassword forwards password authentication to the store's
// native session endpoint and passes the resulting cookie header through
// unchanged.
func (u *AuthUsecase) AuthenticateWithPassword(ctx context.Context, username, password string) (bool, string, error) {
	if username == "" || password == "" {
		return false, "", fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	}
	return u.store.Authenticate(ctx, username, password)
}

// CurrentUser validates a presented cookie against the store's session
// endpoint and returns the sanitized user document.
func (u *AuthUsecase) CurrentUser(ctx context.Context, cookieValue string) (*domain.User, error) {
	if cookieValue == "" {
		return nil, domain.ErrUnauthorized
	}
	userCtx, err := u.store.GetSession(ctx, cookieValue, "")
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if userCtx == nil {
		return nil, domain.ErrUnauthorized
	}

	user, err := u.users.FindByName(ctx, userCtx.Name)
	if err != nil {
		return nil, fmt.Errorf("load user %q: %w", userCtx.Name, err)
	}
	sanitized := user.Sanitized()
	return &sanitized, nil
}

func randomLoginCode() (string, error) {
	buf := make([]byte, loginCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(loginCodeLetters))))
		if err != nil {
			return "", err
		}
		buf[i] = loginCodeLetters[n.Int64()]
	}
	return string(buf), nil
}

func randomUsername(prefix string) (string, error) {
	buf := make([]byte, usernameRandLen)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base58Alphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = base58Alphabet[n.Int64()]
	}
	return prefix + string(buf), nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
