package domain

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidLogin = errors.New("invalid login")
	ErrUserNotFound = errors.New("user not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// UserDocPrefix is the id prefix CouchDB uses for documents in _users.
const UserDocPrefix = "org.couchdb.user:"

// SecretFields are store-managed authentication attributes that must never
// leave the server in a client-facing payload.
var SecretFields = []string{
	"derived_key",
	"salt",
	"password_scheme",
	"iterations",
	"pbkdf2_prf",
	"password_sha",
	"password",
}

// User is a CouchDB _users document. The fixed fields are the ones the auth
// workflow depends on; everything else (subscription status, affiliate flags,
// profile data) rides along in Extra so forward-compatible attributes survive
// a read-modify-write cycle.
type User struct {
	ID    string   `json:"_id"`
	Rev   string   `json:"_rev,omitempty"`
	Type  string   `json:"type"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`

	Funnel     string `json:"funnel,omitempty"`
	ReferredBy string `json:"referred_by,omitempty"`

	// Store-managed secrets; present only on admin reads, stripped from any
	// payload returned to a client.
	Salt           string `json:"salt,omitempty"`
	DerivedKey     string `json:"derived_key,omitempty"`
	PasswordScheme string `json:"password_scheme,omitempty"`
	Iterations     int    `json:"iterations,omitempty"`
	Password       string `json:"password,omitempty"`

	Deleted bool `json:"_deleted,omitempty"`

	// Extra holds fields not modeled above.
	Extra map[string]any `json:"-"`
}

// userAlias avoids recursive (un)marshal calls.
type userAlias User

var userKnownKeys = map[string]struct{}{
	"_id": {}, "_rev": {}, "type": {}, "name": {}, "email": {}, "roles": {},
	"funnel": {}, "referred_by": {}, "salt": {}, "derived_key": {},
	"password_scheme": {}, "iterations": {}, "password": {}, "_deleted": {},
}

func (u *User) UnmarshalJSON(data []byte) error {
	var a userAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range userKnownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		a.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			a.Extra[k] = val
		}
	}

	*u = User(a)
	return nil
}

func (u User) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(userAlias(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return data, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range u.Extra {
		if _, known := userKnownKeys[k]; known {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Sanitized returns a copy safe to return to a client: store-managed
// secrets cleared, roles never nil.
func (u User) Sanitized() User {
	u.Salt = ""
	u.DerivedKey = ""
	u.PasswordScheme = ""
	u.Iterations = 0
	u.Password = ""
	if u.Roles == nil {
		u.Roles = []string{}
	}
	if u.Extra != nil {
		extra := make(map[string]any, len(u.Extra))
		for k, v := range u.Extra {
			extra[k] = v
		}
		for _, secret := range SecretFields {
			delete(extra, secret)
		}
		u.Extra = extra
	}
	return u
}

// DocID returns the _users document id for a username.
func DocID(username string) string {
	return UserDocPrefix + username
}

// Username strips the _users document id prefix. Returns "" if the id is not
// a user document.
func Username(docID string) string {
	if !strings.HasPrefix(docID, UserDocPrefix) {
		return ""
	}
	return strings.TrimPrefix(docID, UserDocPrefix)
}
