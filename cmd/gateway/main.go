package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authgate/internal/auth"
	"authgate/internal/backend"
	"authgate/internal/config"
	"authgate/internal/consul"
	"authgate/internal/logger"
	"authgate/internal/server"
	"authgate/internal/session"
	"authgate/internal/storage"
	"authgate/internal/users"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	log := logger.New()
	logger.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting authgate",
		"port", cfg.Port,
		"backend", cfg.BackendURL,
		"redis_addr", cfg.RedisAddr,
	)

	// Ephemeral tier: OTP challenge markers in Redis
	store := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	codec := session.NewCodec(cfg.SessionSecret)
	challenges := session.NewChallengeStore(store, codec)
	sessionMgr := session.NewManager(codec)

	// Backend resolution: Consul when configured, static URL otherwise
	var resolver backend.Resolver = backend.StaticResolver(cfg.BackendURL)
	var consulClient *consul.Client
	if cfg.ConsulAddr != "" {
		consulClient, err = consul.NewClient(cfg.ConsulAddr, cfg.ConsulToken)
		if err != nil {
			slog.Error("Failed to create Consul client", "error", err)
			os.Exit(1)
		}
		resolver = consul.NewResolver(consulClient, cfg.BackendService, cfg.BackendURL)
		slog.Info("Backend discovery through Consul", "service", cfg.BackendService)
	}
	api := backend.NewClient(resolver, nil)

	// Object storage staging is optional
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	objStore, err := storage.New(ctx)
	cancel()
	if err != nil {
		if err != storage.ErrNotConfigured {
			slog.Warn("Object storage unavailable, staging disabled", "error", err)
		}
		objStore = nil
	} else {
		slog.Info("Object storage staging enabled")
	}

	secure := os.Getenv("APP_ENV") == "production"

	authService := auth.NewService(api, challenges, nil)
	authHandler := auth.NewHandler(authService, sessionMgr, api, cfg.SessionMaxAge, secure)

	userService := users.NewService(api, objStore)
	userHandler := users.NewHandler(userService)

	router := server.SetupRouter(cfg, authHandler, userHandler, sessionMgr, authService, secure)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Register with Consul when discovery is enabled. A static service ID
	// avoids duplicate registrations after restarts.
	serviceID := fmt.Sprintf("authgate-%s", cfg.Host)
	if consulClient != nil {
		_ = consulClient.Deregister(serviceID)
		err = consulClient.Register(&consul.ServiceConfig{
			ID:      serviceID,
			Name:    "authgate",
			Address: cfg.Host,
			Port:    cfg.Port,
			Tags:    []string{"gateway", "auth"},
			Check: &consul.HealthCheck{
				HTTP:     fmt.Sprintf("http://%s:%d/health", cfg.Host, cfg.Port),
				Interval: "10s",
				Timeout:  "3s",
			},
		})
		if err != nil {
			slog.Error("Failed to register with Consul", "error", err)
			os.Exit(1)
		}
		slog.Info("Registered with Consul", "service_id", serviceID)
	}

	go func() {
		slog.Info("authgate listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down authgate")

	if consulClient != nil {
		if err := consulClient.Deregister(serviceID); err != nil {
			slog.Warn("Failed to deregister from Consul", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("authgate stopped")
}
