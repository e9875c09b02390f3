package auth

import (
	"encoding/json"
	"time"
)

// Credentials is a login attempt. Created per request, forwarded once,
// never stored.
type Credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// VerifyOTPRequest carries the code the user typed.
type VerifyOTPRequest struct {
	OTP string `json:"otp" binding:"required"`
}

// SocialAuthRequest forwards a social provider's grant to the backend.
type SocialAuthRequest struct {
	Provider    string `json:"provider" binding:"required"`
	AccessToken string `json:"access_token" binding:"required"`
}

// RecaptchaRequest carries a recaptcha response token for verification.
type RecaptchaRequest struct {
	Token string `json:"token" binding:"required"`
}

// TokenPair is the opaque token material returned by the backend.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginOutcome is the normalized result of a login attempt. Exactly one of
// Error, OTP-challenge fields, Tokens or Raw is meaningful.
type LoginOutcome struct {
	// Error is a user-facing message; transport failures and backend
	// errors both land here, never as a propagated Go error.
	Error string
	// RetryAfter is set alongside Error when the backend reported an
	// active OTP cooldown.
	RetryAfter int

	OTPRequired bool
	FlowID      string
	ExpiresAt   time.Time

	Tokens *TokenPair

	// Raw is the backend response body when it matched neither the
	// OTP-required nor the direct-login shape; the caller branches on it.
	Raw json.RawMessage
}

// VerifyOutcome is the normalized result of an OTP exchange.
type VerifyOutcome struct {
	Error   string
	Success string
	Tokens  *TokenPair
	// Stale means the challenge was missing or expired; the caller must
	// clear state and send the user back to login.
	Stale bool
}

// ResendOutcome is the normalized result of an OTP resend.
type ResendOutcome struct {
	Error   string
	Success string
	// ExpiresAt is the extended challenge expiry after a successful
	// resend.
	ExpiresAt time.Time
	Stale     bool
}

// OTPState is the mount-guard view of a pending challenge.
type OTPState struct {
	// Redirect means there is no live challenge and the client must go
	// back to the login route without starting a countdown.
	Redirect  bool
	Remaining int
	CanResend bool
	ExpiresAt time.Time
}
