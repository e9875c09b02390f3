package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"authgate/internal/session"

	"github.com/gin-gonic/gin"
)

// Mock auth service for handler testing
type mockService struct {
	loginFunc     func(ctx context.Context, creds Credentials) *LoginOutcome
	verifyOTPFunc func(ctx context.Context, flowID, code string) *VerifyOutcome
	resendOTPFunc func(ctx context.Context, flowID string) *ResendOutcome
	otpStateFunc  func(ctx context.Context, flowID string) *OTPState
}

func (m *mockService) Login(ctx context.Context, creds Credentials) *LoginOutcome {
	return m.loginFunc(ctx, creds)
}

func (m *mockService) VerifyOTP(ctx context.Context, flowID, code string) *VerifyOutcome {
	return m.verifyOTPFunc(ctx, flowID, code)
}

func (m *mockService) ResendOTP(ctx context.Context, flowID string) *ResendOutcome {
	return m.resendOTPFunc(ctx, flowID)
}

func (m *mockService) OTPState(ctx context.Context, flowID string) *OTPState {
	return m.otpStateFunc(ctx, flowID)
}

func (m *mockService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return nil, nil
}

func (m *mockService) Logout(ctx context.Context, refreshToken string) error {
	return nil
}

func (m *mockService) SocialAuth(ctx context.Context, req SocialAuthRequest) *LoginOutcome {
	return nil
}

func (m *mockService) VerifyRecaptcha(ctx context.Context, token string) error {
	return nil
}

func newAuthRouter(svc Service) (*gin.Engine, *Handler) {
	gin.SetMode(gin.TestMode)
	mgr := session.NewManager(session.NewCodec("test-secret"))
	h := NewHandler(svc, mgr, nil, 3600, false)

	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.POST("/auth/otp/verify", h.VerifyOTP)
	r.POST("/auth/otp/resend", h.ResendOTP)
	r.GET("/auth/otp/state", h.State)
	return r, h
}

func postJSON(r *gin.Engine, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLoginHandler_InvalidBody(t *testing.T) {
	r, _ := newAuthRouter(&mockService{})

	w := postJSON(r, "/auth/login", `{"email": "not-an-email"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLoginHandler_Cooldown(t *testing.T) {
	svc := &mockService{
		loginFunc: func(ctx context.Context, creds Credentials) *LoginOutcome {
			return &LoginOutcome{
				Error:      "OTP already sent. Please try again in 42 seconds.",
				RetryAfter: 42,
			}
		},
	}
	r, _ := newAuthRouter(svc)

	w := postJSON(r, "/auth/login", `{"email": "a@b.c", "password": "pw"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["errors"] != "OTP already sent. Please try again in 42 seconds." {
		t.Errorf("unexpected errors field: %v", body["errors"])
	}
	if body["retry_after_seconds"] != float64(42) {
		t.Errorf("unexpected retry_after_seconds: %v", body["retry_after_seconds"])
	}
}

func TestLoginHandler_OTPRequiredSetsFlowCookie(t *testing.T) {
	expiry := time.Now().Add(10 * time.Minute)
	svc := &mockService{
		loginFunc: func(ctx context.Context, creds Credentials) *LoginOutcome {
			return &LoginOutcome{OTPRequired: true, FlowID: "flow-1", ExpiresAt: expiry}
		},
	}
	r, _ := newAuthRouter(svc)

	w := postJSON(r, "/auth/login", `{"email": "a@b.c", "password": "pw"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	var flowCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.FlowCookieName {
			flowCookie = c
		}
	}
	if flowCookie == nil || flowCookie.Value != "flow-1" {
		t.Fatalf("flow cookie not set: %v", flowCookie)
	}
	if !flowCookie.HttpOnly {
		t.Error("flow cookie must be http-only")
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["otp_required"] != true {
		t.Error("otp_required missing from response")
	}
	if int64(body["otp_expiry"].(float64)) != expiry.UnixMilli() {
		t.Error("otp_expiry does not match the challenge expiry")
	}
}

func TestLoginHandler_DirectTokensEstablishSession(t *testing.T) {
	svc := &mockService{
		loginFunc: func(ctx context.Context, creds Credentials) *LoginOutcome {
			return &LoginOutcome{Tokens: &TokenPair{Access: "acc", Refresh: "ref"}}
		},
	}
	r, h := newAuthRouter(svc)

	w := postJSON(r, "/auth/login", `{"email": "a@b.c", "password": "pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatal("session cookie not set")
	}

	sess, err := h.sessionMgr.Decode(sessionCookie.Value)
	if err != nil {
		t.Fatal(err)
	}
	if sess.AccessToken != "acc" || sess.RefreshToken != "ref" {
		t.Error("session cookie does not carry the issued tokens")
	}
}

func TestVerifyOTPHandler_StaleClearsFlowCookie(t *testing.T) {
	svc := &mockService{
		verifyOTPFunc: func(ctx context.Context, flowID, code string) *VerifyOutcome {
			return &VerifyOutcome{Stale: true, Error: "Session expired. Please login again"}
		},
	}
	r, _ := newAuthRouter(svc)

	w := postJSON(r, "/auth/otp/verify", `{"otp": "123456"}`,
		&http.Cookie{Name: session.FlowCookieName, Value: "flow-1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["redirect"] != "/login" {
		t.Error("stale flow must redirect to /login")
	}

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == session.FlowCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("flow cookie was not cleared")
	}
}

func TestVerifyOTPHandler_SuccessEstablishesSession(t *testing.T) {
	svc := &mockService{
		verifyOTPFunc: func(ctx context.Context, flowID, code string) *VerifyOutcome {
			if flowID != "flow-1" {
				t.Errorf("expected flow-1, got %q", flowID)
			}
			return &VerifyOutcome{
				Success: "OTP verified successfully",
				Tokens:  &TokenPair{Access: "acc", Refresh: "ref"},
			}
		},
	}
	r, _ := newAuthRouter(svc)

	w := postJSON(r, "/auth/otp/verify", `{"otp": "123456"}`,
		&http.Cookie{Name: session.FlowCookieName, Value: "flow-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	hasSession := false
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName && c.Value != "" {
			hasSession = true
		}
	}
	if !hasSession {
		t.Error("session cookie not set after OTP verification")
	}
}

func TestResendOTPHandler_CooldownReturns429(t *testing.T) {
	svc := &mockService{
		resendOTPFunc: func(ctx context.Context, flowID string) *ResendOutcome {
			return &ResendOutcome{Error: "Please wait 37 seconds before requesting a new OTP."}
		},
	}
	r, _ := newAuthRouter(svc)

	w := postJSON(r, "/auth/otp/resend", ``,
		&http.Cookie{Name: session.FlowCookieName, Value: "flow-1"})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestStateHandler_RedirectWithoutChallenge(t *testing.T) {
	svc := &mockService{
		otpStateFunc: func(ctx context.Context, flowID string) *OTPState {
			return &OTPState{Redirect: true}
		},
	}
	r, _ := newAuthRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/otp/state", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["redirect"] != "/login" {
		t.Error("missing challenge must redirect to /login")
	}
}

func TestStateHandler_ReportsCountdown(t *testing.T) {
	expiry := time.Now().Add(5 * time.Minute)
	svc := &mockService{
		otpStateFunc: func(ctx context.Context, flowID string) *OTPState {
			return &OTPState{Remaining: 37, CanResend: false, ExpiresAt: expiry}
		},
	}
	r, _ := newAuthRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/auth/otp/state", nil)
	req.AddCookie(&http.Cookie{Name: session.FlowCookieName, Value: "flow-1"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["remaining_seconds"] != float64(37) {
		t.Errorf("unexpected remaining_seconds: %v", body["remaining_seconds"])
	}
	if body["can_resend"] != false {
		t.Errorf("unexpected can_resend: %v", body["can_resend"])
	}
}
