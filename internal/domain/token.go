package domain

import "time"

// LoginTokenTTL is how long a magic-link code stays redeemable.
const LoginTokenTTL = 60 * time.Minute

// LoginToken is a one-time magic-link code persisted as its own document,
// keyed "{email}--{code}". Tokens are never deleted; consumed ones keep an
// audit trail with Used=true.
type LoginToken struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`

	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Funnel    string    `json:"funnel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Expires   time.Time `json:"expires"`
	Used      bool      `json:"used"`

	AffiliateFriendCode string `json:"affiliate_friend_code,omitempty"`
}

// TokenDocID builds the composite token document id.
func TokenDocID(email, code string) string {
	return email + "--" + code
}

// Valid reports whether the token is still redeemable at the given instant.
func (t *LoginToken) Valid(now time.Time) bool {
	return !t.Used && now.Before(t.Expires)
}
