package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrSessionInvalid is returned when a cookie cannot be opened or
	// decoded.
	ErrSessionInvalid = errors.New("invalid session")
	// ErrSessionExpired is returned when the cookie outlived its max age.
	ErrSessionExpired = errors.New("session expired")
)

// Manager seals backend tokens into the session cookie and opens them
// back. It also inspects the access token's exp claim so middleware can
// refresh before the backend starts rejecting calls.
type Manager interface {
	Issue(access, refresh string, maxAge int) (string, error)
	Decode(cookieValue string) (*Session, error)
	AccessExpired(s *Session) bool
}

type manager struct {
	codec *Codec
	now   func() time.Time
}

// NewManager builds a Manager over the given codec.
func NewManager(codec *Codec) Manager {
	return &manager{codec: codec, now: time.Now}
}

// Issue seals a new session carrying the token pair.
func (m *manager) Issue(access, refresh string, maxAge int) (string, error) {
	now := m.now()
	sess := &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(maxAge) * time.Second),
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}
	return m.codec.Seal(payload)
}

// Decode opens a sealed cookie value and validates its lifetime.
func (m *manager) Decode(cookieValue string) (*Session, error) {
	payload, err := m.codec.Open(cookieValue)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, ErrSessionInvalid
	}
	if m.now().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return &sess, nil
}

// AccessExpired peeks at the access token's exp claim without verifying
// the signature; verification is the backend's job, the gateway only needs
// to know when to refresh. Tokens without a readable exp claim are treated
// as live.
func (m *manager) AccessExpired(s *Session) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return m.now().After(exp.Time)
}
