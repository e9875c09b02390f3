package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"authgate/internal/backend"
	"authgate/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock backend client for testing
type mockBackend struct {
	getFunc  func(ctx context.Context, path string) (*backend.Response, error)
	postFunc func(ctx context.Context, path string, body any) (*backend.Response, error)
	posts    []string
}

func (m *mockBackend) Get(ctx context.Context, path string) (*backend.Response, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, path)
	}
	return nil, errors.New("unexpected GET " + path)
}

func (m *mockBackend) Post(ctx context.Context, path string, body any) (*backend.Response, error) {
	m.posts = append(m.posts, path)
	if m.postFunc != nil {
		return m.postFunc(ctx, path, body)
	}
	return nil, errors.New("unexpected POST " + path)
}

func newTestService(t *testing.T, api Backend) (*service, *session.ChallengeStore) {
	t.Helper()
	codec := session.NewCodec("test-secret")
	challenges := session.NewChallengeStore(session.NewMemoryStore(), codec)
	svc := NewService(api, challenges, newManualTicker().fn).(*service)
	return svc, challenges
}

func TestLoginTransportErrorUsesFallback(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc, _ := newTestService(t, api)

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	assert.Equal(t, "An error occurred during login.", out.Error)
}

func TestLoginCooldownFromMessageText(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(429, []byte(`{"error": "Retry in 42 seconds"}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	assert.Equal(t, "OTP already sent. Please try again in 42 seconds.", out.Error)
	assert.Equal(t, 42, out.RetryAfter)
}

func TestLoginCooldownPrefersStructuredField(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			// text says 99 but the structured field wins
			return backend.Normalize(429, []byte(`{"error": "Retry in 99 seconds", "retry_after_seconds": 17}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	assert.Equal(t, "OTP already sent. Please try again in 17 seconds.", out.Error)
	assert.Equal(t, 17, out.RetryAfter)
}

func TestLoginCooldownUnparsablePassesThrough(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(429, []byte(`{"error": "Slow down"}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	assert.Equal(t, "Slow down", out.Error)
	assert.Equal(t, 0, out.RetryAfter)
}

func TestLoginOTPChallengeRecordsFlow(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(200, []byte(`{"otp_required": true, "user_id": "u-42"}`)), nil
		},
	}
	svc, challenges := newTestService(t, api)
	now := time.Now()
	svc.now = func() time.Time { return now }

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	require.Empty(t, out.Error)
	require.True(t, out.OTPRequired)
	require.NotEmpty(t, out.FlowID)
	assert.Equal(t, now.Add(ChallengeTTL), out.ExpiresAt)

	ch, err := challenges.Get(context.Background(), out.FlowID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(ChallengeTTL).UnixMilli(), ch.ExpiresAt)

	userID, err := challenges.UserID(ch)
	require.NoError(t, err)
	assert.Equal(t, "u-42", userID)

	cd, created := svc.countdowns.obtain(out.FlowID, out.ExpiresAt)
	assert.False(t, created)
	assert.Equal(t, ResendCooldownSeconds, cd.Remaining())
	assert.False(t, cd.CanResend())
}

func TestLoginDirectTokens(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(200, []byte(`{"access": "acc", "refresh": "ref"}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	require.NotNil(t, out.Tokens)
	assert.Equal(t, "acc", out.Tokens.Access)
	assert.Equal(t, "ref", out.Tokens.Refresh)
	assert.False(t, out.OTPRequired)
}

func TestVerifyOTPStaleWithoutChallenge(t *testing.T) {
	svc, _ := newTestService(t, &mockBackend{})

	out := svc.VerifyOTP(context.Background(), "no-such-flow", "123456")
	assert.True(t, out.Stale)
	assert.Equal(t, "Session expired. Please login again", out.Error)
}

func TestVerifyOTPExpiredChallengeIsTornDown(t *testing.T) {
	api := &mockBackend{}
	svc, challenges := newTestService(t, api)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", past))

	out := svc.VerifyOTP(context.Background(), "flow-1", "123456")
	assert.True(t, out.Stale)
	assert.Empty(t, api.posts, "expired flow must not reach the backend")

	_, err := challenges.Get(context.Background(), "flow-1")
	assert.ErrorIs(t, err, session.ErrChallengeNotFound)
}

func TestVerifyOTPSuccessClearsChallenge(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			m, ok := body.(map[string]string)
			require.True(t, ok)
			assert.Equal(t, "123456", m["otp"])
			assert.Equal(t, "u-42", m["user_id"])
			return backend.Normalize(200, []byte(`{"access": "acc", "refresh": "ref"}`)), nil
		},
	}
	svc, challenges := newTestService(t, api)
	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", time.Now().Add(ChallengeTTL)))

	out := svc.VerifyOTP(context.Background(), "flow-1", "123456")
	require.Empty(t, out.Error)
	assert.Equal(t, "OTP verified successfully", out.Success)
	require.NotNil(t, out.Tokens)
	assert.Equal(t, "acc", out.Tokens.Access)

	_, err := challenges.Get(context.Background(), "flow-1")
	assert.ErrorIs(t, err, session.ErrChallengeNotFound)
}

func TestVerifyOTPWrongCodePassesBackendMessage(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(400, []byte(`{"error": "Invalid OTP"}`)), nil
		},
	}
	svc, challenges := newTestService(t, api)
	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", time.Now().Add(ChallengeTTL)))

	out := svc.VerifyOTP(context.Background(), "flow-1", "000000")
	assert.Equal(t, "Invalid OTP", out.Error)
	assert.False(t, out.Stale)

	// the flow stays redeemable for another attempt
	_, err := challenges.Get(context.Background(), "flow-1")
	assert.NoError(t, err)
}

func TestResendOTPRefusedDuringCooldown(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(200, []byte(`{"otp_required": true, "user_id": "u-42"}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	require.True(t, out.OTPRequired)
	callsAfterLogin := len(api.posts)

	res := svc.ResendOTP(context.Background(), out.FlowID)
	assert.Equal(t, "Please wait 60 seconds before requesting a new OTP.", res.Error)
	assert.Len(t, api.posts, callsAfterLogin, "gated resend must not reach the backend")
}

func TestResendOTPSuccessExtendsExpiryAndRestartsCooldown(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(200, []byte(`{"success": "OTP sent"}`)), nil
		},
	}
	svc, challenges := newTestService(t, api)
	now := time.Now()
	svc.now = func() time.Time { return now }

	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", now.Add(time.Minute)))
	cd, _ := svc.countdowns.obtain("flow-1", now.Add(time.Minute))
	cd.Start(0) // cooldown already elapsed

	out := svc.ResendOTP(context.Background(), "flow-1")
	require.Empty(t, out.Error)
	assert.Equal(t, "OTP sent successfully", out.Success)
	assert.Equal(t, now.Add(ChallengeTTL), out.ExpiresAt)

	ch, err := challenges.Get(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(ChallengeTTL).UnixMilli(), ch.ExpiresAt)

	assert.Equal(t, ResendCooldownSeconds, cd.Remaining())
	assert.False(t, cd.CanResend())
}

func TestResendOTPFailureLeavesExpiryUntouched(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(500, []byte(`{"error": "mail gateway down"}`)), nil
		},
	}
	svc, challenges := newTestService(t, api)

	expiry := time.Now().Add(time.Minute)
	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", expiry))
	cd, _ := svc.countdowns.obtain("flow-1", expiry)
	cd.Start(0)

	out := svc.ResendOTP(context.Background(), "flow-1")
	assert.Equal(t, "mail gateway down", out.Error)
	assert.Empty(t, out.Success)

	ch, err := challenges.Get(context.Background(), "flow-1")
	require.NoError(t, err)
	assert.Equal(t, expiry.UnixMilli(), ch.ExpiresAt)
	assert.True(t, cd.CanResend(), "a failed resend must not restart the cooldown")
}

func TestOTPStateRedirectsWithoutChallenge(t *testing.T) {
	svc, _ := newTestService(t, &mockBackend{})

	st := svc.OTPState(context.Background(), "no-such-flow")
	assert.True(t, st.Redirect)
}

func TestOTPStateRestartsLostCountdown(t *testing.T) {
	svc, challenges := newTestService(t, &mockBackend{})

	expiry := time.Now().Add(time.Minute)
	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", expiry))

	st := svc.OTPState(context.Background(), "flow-1")
	assert.False(t, st.Redirect)
	assert.Equal(t, ResendCooldownSeconds, st.Remaining)
	assert.False(t, st.CanResend)
	assert.Equal(t, expiry.UnixMilli(), st.ExpiresAt.UnixMilli())
}

func TestRefreshKeepsTokenWhenNotRotated(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(200, []byte(`{"access": "acc2"}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	tokens, err := svc.Refresh(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "acc2", tokens.Access)
	assert.Equal(t, "ref-1", tokens.Refresh)
}

func TestRefreshRejected(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(401, []byte(`{"error": "Token is blacklisted"}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	_, err := svc.Refresh(context.Background(), "ref-1")
	assert.Error(t, err)
}

func TestLogoutEmptyTokenIsNoop(t *testing.T) {
	api := &mockBackend{}
	svc, _ := newTestService(t, api)

	require.NoError(t, svc.Logout(context.Background(), ""))
	assert.Empty(t, api.posts)
}

func TestResendOTPExpiredChallengeIsStale(t *testing.T) {
	api := &mockBackend{}
	svc, challenges := newTestService(t, api)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", past))

	out := svc.ResendOTP(context.Background(), "flow-1")
	assert.True(t, out.Stale)
	assert.Equal(t, "Session expired. Please login again", out.Error)
	assert.Empty(t, api.posts, "expired flow must not reach the backend")
}

func TestOTPStateExpiredChallengeRedirects(t *testing.T) {
	svc, challenges := newTestService(t, &mockBackend{})

	past := time.Now().Add(-time.Minute)
	require.NoError(t, challenges.Put(context.Background(), "flow-1", "u-42", past))

	st := svc.OTPState(context.Background(), "flow-1")
	assert.True(t, st.Redirect)

	// the lapsed challenge is torn down on sight
	_, err := challenges.Get(context.Background(), "flow-1")
	assert.ErrorIs(t, err, session.ErrChallengeNotFound)
}

func TestAbandonedFlowCountdownsAreReaped(t *testing.T) {
	api := &mockBackend{
		postFunc: func(ctx context.Context, path string, body any) (*backend.Response, error) {
			return backend.Normalize(200, []byte(`{"otp_required": true, "user_id": "u-42"}`)), nil
		},
	}
	svc, _ := newTestService(t, api)

	for i := 0; i < 100; i++ {
		out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
		require.True(t, out.OTPRequired)
	}

	svc.countdowns.mu.Lock()
	before := len(svc.countdowns.m)
	svc.countdowns.mu.Unlock()
	require.Equal(t, 100, before)

	// a day later every abandoned challenge has lapsed; the next login
	// reaps all of them
	svc.countdowns.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	svc.now = svc.countdowns.now

	out := svc.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	require.True(t, out.OTPRequired)

	svc.countdowns.mu.Lock()
	after := len(svc.countdowns.m)
	svc.countdowns.mu.Unlock()
	assert.Equal(t, 1, after, "abandoned countdowns must be reaped once their challenge lapses")
}
