package server

import (
	"log/slog"
	"net/http"
	"time"

	"authgate/internal/auth"
	"authgate/internal/backend"
	"authgate/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// accessTokenKey is the gin context key the session middleware stores the
// caller's access token under.
const accessTokenKey = "access_token"

// RequestIDMiddleware tags every request with a unique ID for log
// correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggingMiddleware emits one structured log line per request.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rw := newResponseWriter(c.Writer)
		c.Writer = rw

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", float64(time.Since(start).Milliseconds()),
			"client_ip", c.ClientIP(),
			"response_size", rw.Size(),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			attrs = append(attrs, "query", query)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			slog.Error("request failed", attrs...)
		case status >= 400:
			slog.Warn("request rejected", attrs...)
		default:
			slog.Info("request completed", attrs...)
		}
	}
}

// SessionAuthMiddleware requires a valid encrypted session cookie. When
// the access token inside it has expired, the middleware exchanges the
// refresh token and reseals the cookie before letting the request through;
// when refresh fails, the cookie is cleared and the request rejected. The
// live access token is attached to the request context for backend calls.
func SessionAuthMiddleware(mgr session.Manager, authSvc auth.Service, maxAge int, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(session.CookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized: no session cookie",
			})
			return
		}

		sess, err := mgr.Decode(cookie)
		if err != nil {
			slog.Warn("invalid session cookie",
				"error", err.Error(),
				"request_id", c.GetString("request_id"),
			)
			clearSessionCookie(c, secure)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized: invalid session",
			})
			return
		}

		if mgr.AccessExpired(sess) {
			tokens, err := authSvc.Refresh(c.Request.Context(), sess.RefreshToken)
			if err != nil {
				slog.Warn("session refresh failed",
					"error", err.Error(),
					"request_id", c.GetString("request_id"),
				)
				clearSessionCookie(c, secure)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "unauthorized: session expired",
				})
				return
			}

			resealed, err := mgr.Issue(tokens.Access, tokens.Refresh, maxAge)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "failed to refresh session",
				})
				return
			}
			c.SetCookie(session.CookieName, resealed, maxAge, "/", "", secure, true)
			sess.AccessToken = tokens.Access
		}

		c.Set(accessTokenKey, sess.AccessToken)
		c.Request = c.Request.WithContext(
			backend.WithToken(c.Request.Context(), sess.AccessToken),
		)
		c.Next()
	}
}

func clearSessionCookie(c *gin.Context, secure bool) {
	c.SetCookie(session.CookieName, "", -1, "/", "", secure, true)
}
