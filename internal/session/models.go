package session

import "time"

// CookieName is the encrypted cookie holding token material.
const CookieName = "authgate_session"

// FlowCookieName is the short-lived cookie binding a browser tab to its
// pending OTP challenge.
const FlowCookieName = "otp_flow"

// Session is the durable tier: opaque backend tokens sealed into the
// session cookie. Token material never reaches the client in plaintext.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Challenge is the ephemeral tier: the markers of a pending OTP login.
// The whole record lives under one store key so reads, writes and clears
// are all-or-nothing.
type Challenge struct {
	Required bool `json:"otp_required"`
	// ExpiresAt is an absolute epoch-millisecond timestamp, matching the
	// lifetime the login response promised the client.
	ExpiresAt int64 `json:"otp_expiry"`
	// UserID is sealed with the session codec; it is never stored in the
	// clear.
	UserID string `json:"user_id"`
}

// Expired reports whether the challenge lapsed at time now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.UnixMilli() > c.ExpiresAt
}
