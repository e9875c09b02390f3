// Package server wires the gateway's HTTP surface: middleware, routes,
// and the session gate in front of the user-management API.
package server

import (
	"time"

	"authgate/internal/auth"
	"authgate/internal/config"
	"authgate/internal/session"
	"authgate/internal/users"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the gateway router.
func SetupRouter(
	cfg *config.Config,
	authHandler *auth.Handler,
	userHandler *users.Handler,
	sessionMgr session.Manager,
	authSvc auth.Service,
	secure bool,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-CSRF-Token", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", authHandler.Health)

	// Public auth flow
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/otp/verify", authHandler.VerifyOTP)
		authGroup.POST("/otp/resend", authHandler.ResendOTP)
		authGroup.GET("/otp/state", authHandler.State)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.POST("/social", authHandler.SocialAuth)
		authGroup.POST("/recaptcha", authHandler.Recaptcha)
		authGroup.GET("/csrf", authHandler.CSRFToken)
	}

	// Email verification links arrive from mail clients without a session
	r.GET("/verify-email", userHandler.VerifyEmail)
	r.POST("/request-email-verification", userHandler.RequestEmailVerification)

	// User management requires a valid session
	api := r.Group("/api")
	api.Use(SessionAuthMiddleware(sessionMgr, authSvc, cfg.SessionMaxAge, secure))
	{
		u := api.Group("/users")
		{
			u.GET("", userHandler.List)
			u.POST("", userHandler.Create)
			u.GET("/:id", userHandler.Get)
			u.PATCH("/:id", userHandler.Update)
			u.DELETE("/:id", userHandler.Delete)
			u.POST("/:id/activate", userHandler.Activate)
			u.POST("/:id/deactivate", userHandler.Deactivate)
			u.POST("/:id/profile-image", userHandler.UploadProfileImage)
		}
	}

	return r
}
