package auth

import (
	"net/http"

	"authgate/internal/backend"
	"authgate/internal/session"

	"github.com/gin-gonic/gin"
)

// Handler exposes the auth flow over HTTP.
type Handler struct {
	service    Service
	sessionMgr session.Manager
	api        *backend.Client
	// maxAge is the session cookie lifetime in seconds.
	maxAge int
	secure bool
}

// NewHandler creates the auth handler. secure controls the Secure flag on
// every cookie it sets.
func NewHandler(service Service, sessionMgr session.Manager, api *backend.Client, maxAge int, secure bool) *Handler {
	return &Handler{
		service:    service,
		sessionMgr: sessionMgr,
		api:        api,
		maxAge:     maxAge,
		secure:     secure,
	}
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var creds Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := h.service.Login(c.Request.Context(), creds)
	switch {
	case out.RetryAfter > 0:
		c.JSON(http.StatusTooManyRequests, gin.H{
			"errors":              out.Error,
			"retry_after_seconds": out.RetryAfter,
		})
	case out.Error != "":
		c.JSON(http.StatusUnauthorized, gin.H{"error": out.Error})
	case out.OTPRequired:
		c.SetCookie(session.FlowCookieName, out.FlowID, int(ChallengeTTL.Seconds()), "/", "", h.secure, true)
		c.JSON(http.StatusAccepted, gin.H{
			"otp_required": true,
			"otp_expiry":   out.ExpiresAt.UnixMilli(),
		})
	case out.Tokens != nil:
		h.establishSession(c, out.Tokens)
	default:
		c.Data(http.StatusOK, "application/json", out.Raw)
	}
}

// VerifyOTP handles POST /auth/otp/verify. On success the ephemeral
// challenge is gone and the encrypted session cookie is set.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flowID, _ := c.Cookie(session.FlowCookieName)
	out := h.service.VerifyOTP(c.Request.Context(), flowID, req.OTP)
	switch {
	case out.Stale:
		h.clearFlowCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": out.Error, "redirect": "/login"})
	case out.Error != "":
		c.JSON(http.StatusUnauthorized, gin.H{"error": out.Error})
	default:
		h.clearFlowCookie(c)
		h.establishSession(c, out.Tokens)
	}
}

// ResendOTP handles POST /auth/otp/resend.
func (h *Handler) ResendOTP(c *gin.Context) {
	flowID, _ := c.Cookie(session.FlowCookieName)
	out := h.service.ResendOTP(c.Request.Context(), flowID)
	switch {
	case out.Stale:
		h.clearFlowCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": out.Error, "redirect": "/login"})
	case out.Error != "":
		c.JSON(http.StatusTooManyRequests, gin.H{"error": out.Error})
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":    out.Success,
			"otp_expiry": out.ExpiresAt.UnixMilli(),
		})
	}
}

// State handles GET /auth/otp/state, the mount guard of the OTP page.
func (h *Handler) State(c *gin.Context) {
	flowID, _ := c.Cookie(session.FlowCookieName)
	st := h.service.OTPState(c.Request.Context(), flowID)
	if st.Redirect {
		h.clearFlowCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"redirect": "/login"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"remaining_seconds": st.Remaining,
		"can_resend":        st.CanResend,
		"otp_expiry":        st.ExpiresAt.UnixMilli(),
	})
}

// Refresh handles POST /auth/refresh: manual session refresh.
func (h *Handler) Refresh(c *gin.Context) {
	sess := h.currentSession(c)
	if sess == nil {
		return
	}

	tokens, err := h.service.Refresh(c.Request.Context(), sess.RefreshToken)
	if err != nil {
		h.clearSessionCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired, please login again"})
		return
	}
	h.establishSession(c, tokens)
}

// Logout handles POST /auth/logout. The refresh token is invalidated
// server-side before the cookie is cleared.
func (h *Handler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(session.CookieName); err == nil {
		if sess, err := h.sessionMgr.Decode(cookie); err == nil {
			if err := h.service.Logout(c.Request.Context(), sess.RefreshToken); err != nil {
				// cookie is cleared regardless; the token will age out
				c.Error(err) //nolint:errcheck
			}
		}
	}
	h.clearSessionCookie(c)
	h.clearFlowCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// SocialAuth handles POST /auth/social.
func (h *Handler) SocialAuth(c *gin.Context) {
	var req SocialAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := h.service.SocialAuth(c.Request.Context(), req)
	switch {
	case out.Error != "":
		c.JSON(http.StatusUnauthorized, gin.H{"error": out.Error})
	case out.Tokens != nil:
		h.establishSession(c, out.Tokens)
	default:
		c.Data(http.StatusOK, "application/json", out.Raw)
	}
}

// Recaptcha handles POST /auth/recaptcha.
func (h *Handler) Recaptcha(c *gin.Context) {
	var req RecaptchaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.VerifyRecaptcha(c.Request.Context(), req.Token); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "recaptcha verification failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CSRFToken handles GET /auth/csrf.
func (h *Handler) CSRFToken(c *gin.Context) {
	token, err := h.api.FetchCSRFToken(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to fetch csrf token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "authgate",
	})
}

func (h *Handler) establishSession(c *gin.Context, tokens *TokenPair) {
	cookie, err := h.sessionMgr.Issue(tokens.Access, tokens.Refresh, h.maxAge)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.SetCookie(session.CookieName, cookie, h.maxAge, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"success": "logged in successfully"})
}

func (h *Handler) currentSession(c *gin.Context) *session.Session {
	cookie, err := c.Cookie(session.CookieName)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: no session cookie"})
		return nil
	}
	sess, err := h.sessionMgr.Decode(cookie)
	if err != nil {
		h.clearSessionCookie(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: invalid session"})
		return nil
	}
	return sess
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	c.SetCookie(session.CookieName, "", -1, "/", "", h.secure, true)
}

func (h *Handler) clearFlowCookie(c *gin.Context) {
	c.SetCookie(session.FlowCookieName, "", -1, "/", "", h.secure, true)
}
