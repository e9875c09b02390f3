// Package auth implements the OTP-gated login flow: the login branch
// point, OTP verification and resend with its cooldown state machine, and
// the token lifecycle operations around them.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"authgate/internal/backend"
	"authgate/internal/session"

	"github.com/google/uuid"
)

const (
	// ChallengeTTL is how long an OTP challenge stays redeemable.
	ChallengeTTL = 10 * time.Minute
	// ResendCooldownSeconds is the countdown before another resend is
	// allowed.
	ResendCooldownSeconds = 60
)

// Fallback messages surfaced when a call fails without a usable backend
// message. Callers never see a raw transport error.
const (
	loginFallback   = "An error occurred during login."
	verifyFallback  = "An error occurred during OTP verification."
	resendFallback  = "Could not send OTP. Try again."
	staleFlowNotice = "Session expired. Please login again"
)

// cooldownPattern extracts the wait from the backend's free-text cooldown
// message. Fragile by nature; the structured retry_after_seconds field is
// preferred when present and this stays as a compatibility fallback.
var cooldownPattern = regexp.MustCompile(`(\d+) seconds`)

// ErrRecaptchaFailed is returned when recaptcha verification is rejected.
var ErrRecaptchaFailed = errors.New("recaptcha verification failed")

// Backend is the slice of the HTTP client the auth flow uses.
type Backend interface {
	Get(ctx context.Context, path string) (*backend.Response, error)
	Post(ctx context.Context, path string, body any) (*backend.Response, error)
}

// Service drives the login → OTP → tokens flow.
type Service interface {
	Login(ctx context.Context, creds Credentials) *LoginOutcome
	VerifyOTP(ctx context.Context, flowID, code string) *VerifyOutcome
	ResendOTP(ctx context.Context, flowID string) *ResendOutcome
	OTPState(ctx context.Context, flowID string) *OTPState

	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	SocialAuth(ctx context.Context, req SocialAuthRequest) *LoginOutcome
	VerifyRecaptcha(ctx context.Context, token string) error
}

type service struct {
	api        Backend
	challenges *session.ChallengeStore
	countdowns *countdownRegistry
	now        func() time.Time
}

// NewService builds the auth flow service. A nil ticker uses real
// one-second ticks for resend countdowns.
func NewService(api Backend, challenges *session.ChallengeStore, ticker TickerFunc) Service {
	return &service{
		api:        api,
		challenges: challenges,
		countdowns: newCountdownRegistry(ticker),
		now:        time.Now,
	}
}

// Login forwards credentials to the backend and branches on the reply:
// an active cooldown (429), an OTP challenge, a direct token grant, or an
// unrecognized success body handed back raw.
func (s *service) Login(ctx context.Context, creds Credentials) *LoginOutcome {
	resp, err := s.api.Post(ctx, "/login/", creds)
	if err != nil {
		slog.Warn("login request failed", "error", err)
		return &LoginOutcome{Error: loginFallback}
	}

	if resp.StatusCode == 429 {
		msg, wait := cooldownMessage(resp.Err)
		return &LoginOutcome{Error: msg, RetryAfter: wait}
	}
	if resp.Err != nil {
		return &LoginOutcome{Error: resp.Err.String()}
	}

	var body struct {
		OTPRequired bool   `json:"otp_required"`
		UserID      string `json:"user_id"`
		Access      string `json:"access"`
		Refresh     string `json:"refresh"`
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		return &LoginOutcome{Raw: resp.Data}
	}

	switch {
	case body.OTPRequired && body.UserID != "":
		flowID := uuid.New().String()
		expiresAt := s.now().Add(ChallengeTTL)
		if err := s.challenges.Put(ctx, flowID, body.UserID, expiresAt); err != nil {
			slog.Error("failed to record otp challenge", "error", err)
			return &LoginOutcome{Error: loginFallback}
		}
		cd, _ := s.countdowns.obtain(flowID, expiresAt)
		cd.Start(ResendCooldownSeconds)
		return &LoginOutcome{OTPRequired: true, FlowID: flowID, ExpiresAt: expiresAt}

	case body.Access != "" && body.Refresh != "":
		return &LoginOutcome{Tokens: &TokenPair{Access: body.Access, Refresh: body.Refresh}}

	default:
		return &LoginOutcome{Raw: resp.Data}
	}
}

// VerifyOTP exchanges the code for tokens. On success the challenge record
// and its countdown are torn down together.
func (s *service) VerifyOTP(ctx context.Context, flowID, code string) *VerifyOutcome {
	ch, stale := s.liveChallenge(ctx, flowID)
	if stale {
		return &VerifyOutcome{Stale: true, Error: staleFlowNotice}
	}

	userID, err := s.challenges.UserID(ch)
	if err != nil {
		slog.Error("failed to open sealed user id", "flow_id", flowID, "error", err)
		return &VerifyOutcome{Error: resendFallback}
	}

	resp, err := s.api.Post(ctx, "/token/", map[string]string{
		"otp":     code,
		"user_id": userID,
	})
	if err != nil {
		slog.Warn("otp exchange failed", "error", err)
		return &VerifyOutcome{Error: verifyFallback}
	}
	if resp.Err != nil {
		return &VerifyOutcome{Error: resp.Err.String()}
	}

	var tokens TokenPair
	if err := json.Unmarshal(resp.Data, &tokens); err != nil || tokens.Access == "" {
		return &VerifyOutcome{Error: verifyFallback}
	}

	s.teardown(ctx, flowID)
	return &VerifyOutcome{Success: "OTP verified successfully", Tokens: &tokens}
}

// ResendOTP requests a fresh code. The countdown gates the call: until it
// reaches zero the request is refused locally. A successful resend resets
// the countdown and extends the challenge expiry; a failed one leaves all
// prior state untouched.
func (s *service) ResendOTP(ctx context.Context, flowID string) *ResendOutcome {
	ch, stale := s.liveChallenge(ctx, flowID)
	if stale {
		return &ResendOutcome{Stale: true, Error: staleFlowNotice}
	}

	cd, created := s.countdowns.obtain(flowID, time.UnixMilli(ch.ExpiresAt))
	if created {
		cd.Start(ResendCooldownSeconds)
	}
	if !cd.CanResend() {
		return &ResendOutcome{
			Error: fmt.Sprintf("Please wait %d seconds before requesting a new OTP.", cd.Remaining()),
		}
	}

	userID, err := s.challenges.UserID(ch)
	if err != nil {
		slog.Error("failed to open sealed user id", "flow_id", flowID, "error", err)
		return &ResendOutcome{Error: resendFallback}
	}

	resp, err := s.api.Post(ctx, "/resend-otp/", map[string]string{"user_id": userID})
	if err != nil {
		slog.Warn("otp resend failed", "error", err)
		return &ResendOutcome{Error: resendFallback}
	}
	if resp.Err != nil {
		return &ResendOutcome{Error: resp.Err.String()}
	}

	expiresAt := s.now().Add(ChallengeTTL)
	if err := s.challenges.ExtendExpiry(ctx, flowID, expiresAt); err != nil {
		slog.Error("failed to extend otp challenge", "flow_id", flowID, "error", err)
		return &ResendOutcome{Error: resendFallback}
	}
	// move the reap deadline along with the challenge expiry
	cd, _ = s.countdowns.obtain(flowID, expiresAt)
	cd.Start(ResendCooldownSeconds)

	return &ResendOutcome{Success: "OTP sent successfully", ExpiresAt: expiresAt}
}

// OTPState is the mount guard: a missing or expired challenge means the
// client must return to login, and no countdown is started for it.
func (s *service) OTPState(ctx context.Context, flowID string) *OTPState {
	ch, stale := s.liveChallenge(ctx, flowID)
	if stale {
		return &OTPState{Redirect: true}
	}

	cd, created := s.countdowns.obtain(flowID, time.UnixMilli(ch.ExpiresAt))
	if created {
		// countdown lost (e.g. gateway restart); a fresh mount restarts
		// the cooldown just as a fresh login would
		cd.Start(ResendCooldownSeconds)
	}
	return &OTPState{
		Remaining: cd.Remaining(),
		CanResend: cd.CanResend(),
		ExpiresAt: time.UnixMilli(ch.ExpiresAt),
	}
}

// Refresh exchanges the refresh token for a new access token.
func (s *service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	resp, err := s.api.Post(ctx, "/token/refresh/", map[string]string{"refresh": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	if resp.Err != nil {
		return nil, fmt.Errorf("refresh rejected: %s", resp.Err.String())
	}

	var tokens TokenPair
	if err := json.Unmarshal(resp.Data, &tokens); err != nil || tokens.Access == "" {
		return nil, errors.New("refresh response missing access token")
	}
	if tokens.Refresh == "" {
		// backend did not rotate the refresh token
		tokens.Refresh = refreshToken
	}
	return &tokens, nil
}

// Logout invalidates the refresh token server-side. The caller clears the
// cookie regardless of the result.
func (s *service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	resp, err := s.api.Post(ctx, "/logout/", map[string]string{"refresh": refreshToken})
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	if resp.Err != nil {
		return fmt.Errorf("logout rejected: %s", resp.Err.String())
	}
	return nil
}

// SocialAuth forwards a social provider grant; the reply is branched the
// same way as a password login.
func (s *service) SocialAuth(ctx context.Context, req SocialAuthRequest) *LoginOutcome {
	resp, err := s.api.Post(ctx, "/social-auth/", req)
	if err != nil {
		slog.Warn("social auth request failed", "error", err)
		return &LoginOutcome{Error: loginFallback}
	}
	if resp.Err != nil {
		return &LoginOutcome{Error: resp.Err.String()}
	}

	var tokens TokenPair
	if err := json.Unmarshal(resp.Data, &tokens); err != nil || tokens.Access == "" {
		return &LoginOutcome{Raw: resp.Data}
	}
	return &LoginOutcome{Tokens: &tokens}
}

// VerifyRecaptcha checks a recaptcha token with the backend.
func (s *service) VerifyRecaptcha(ctx context.Context, token string) error {
	resp, err := s.api.Post(ctx, "/recaptcha-verify/", map[string]string{"token": token})
	if err != nil {
		return fmt.Errorf("recaptcha request failed: %w", err)
	}
	if resp.Err != nil {
		return ErrRecaptchaFailed
	}
	return nil
}

// liveChallenge fetches the challenge and enforces its expiry. An expired
// challenge is torn down on sight so back-navigation cannot resume it.
func (s *service) liveChallenge(ctx context.Context, flowID string) (*session.Challenge, bool) {
	if flowID == "" {
		return nil, true
	}
	ch, err := s.challenges.Get(ctx, flowID)
	if err != nil {
		return nil, true
	}
	if ch.Expired(s.now()) {
		s.teardown(ctx, flowID)
		return nil, true
	}
	return ch, false
}

// teardown clears the challenge record and its countdown together.
func (s *service) teardown(ctx context.Context, flowID string) {
	if err := s.challenges.Clear(ctx, flowID); err != nil {
		slog.Warn("failed to clear otp challenge", "flow_id", flowID, "error", err)
	}
	s.countdowns.remove(flowID)
}

// cooldownMessage builds the user-facing cooldown notice. The structured
// retry_after_seconds field wins over text extraction; unparsable text is
// passed through unchanged.
func cooldownMessage(apiErr *backend.Error) (string, int) {
	if apiErr == nil {
		return loginFallback, 0
	}

	var body struct {
		RetryAfterSeconds *int `json:"retry_after_seconds"`
	}
	if err := json.Unmarshal(apiErr.Raw(), &body); err == nil && body.RetryAfterSeconds != nil {
		n := *body.RetryAfterSeconds
		return fmt.Sprintf("OTP already sent. Please try again in %d seconds.", n), n
	}

	if m := cooldownPattern.FindStringSubmatch(apiErr.String()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return fmt.Sprintf("OTP already sent. Please try again in %d seconds.", n), n
	}
	return apiErr.String(), 0
}

// countdownRegistry tracks the live countdown of each pending flow. Every
// entry carries its challenge deadline; entries whose deadline lapsed are
// reaped on the next obtain, so abandoned login attempts do not pile up
// for the process lifetime.
type countdownRegistry struct {
	newTicker TickerFunc
	now       func() time.Time

	mu sync.Mutex
	m  map[string]*countdownEntry
}

type countdownEntry struct {
	cd       *Countdown
	deadline time.Time
}

func newCountdownRegistry(ticker TickerFunc) *countdownRegistry {
	return &countdownRegistry{
		newTicker: ticker,
		now:       time.Now,
		m:         make(map[string]*countdownEntry),
	}
}

// obtain returns the flow's countdown, creating an idle one if absent, and
// moves the flow's reap deadline. The second result reports whether the
// countdown was created by this call.
func (r *countdownRegistry) obtain(flowID string, deadline time.Time) (*Countdown, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reapLocked()

	e, ok := r.m[flowID]
	if !ok {
		e = &countdownEntry{cd: NewCountdown(r.newTicker)}
		r.m[flowID] = e
	}
	e.deadline = deadline
	return e.cd, !ok
}

// remove stops and forgets the flow's countdown.
func (r *countdownRegistry) remove(flowID string) {
	r.mu.Lock()
	e, ok := r.m[flowID]
	delete(r.m, flowID)
	r.mu.Unlock()
	if ok {
		e.cd.Stop()
	}
}

// reapLocked drops every entry whose challenge deadline has lapsed. Must
// be called with the mutex held.
func (r *countdownRegistry) reapLocked() {
	now := r.now()
	for id, e := range r.m {
		if now.After(e.deadline) {
			e.cd.Stop()
			delete(r.m, id)
		}
	}
}
