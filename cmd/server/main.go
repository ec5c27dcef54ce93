package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"spin-rewards/internal/auth"
	"spin-rewards/internal/config"
	"spin-rewards/internal/engine"
	"spin-rewards/internal/handlers"
	"spin-rewards/internal/middleware"
	"spin-rewards/internal/store"
	"spin-rewards/internal/store/rest"
	"spin-rewards/internal/store/sqlstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("store connection failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	verifier, err := auth.NewVerifier(cfg.BotToken, cfg.AuthMaxAge, cfg.AuthAgeEnforced)
	if err != nil {
		logger.Error("signature verifier init failed", "error", err)
		os.Exit(1)
	}
	if !verifier.AgeEnforced() {
		logger.Warn("init-data age check disabled, stale payloads will be accepted", "max_age", cfg.AuthMaxAge)
	}

	svc := engine.New(cfg, st, verifier, logger)

	var jwtMgr *auth.Manager
	if cfg.AdminEnabled() {
		jwtMgr = auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer)
	} else {
		logger.Warn("admin credentials not fully configured, admin routes disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS(cfg.CORSOrigin))

	handler := handlers.NewHandler(cfg, svc, st, jwtMgr, logger)
	handlers.RegisterRoutes(r, handler, jwtMgr, cfg.AdminAllowedIPs)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendREST:
		return rest.New(cfg.StoreURL, cfg.StoreKey, cfg.StoreTimeout), nil
	case config.BackendSQLite:
		dsn := cfg.DatabaseURL
		if !strings.HasPrefix(dsn, "sqlite:") {
			dsn = "sqlite:" + dsn
		}
		return sqlstore.New(ctx, dsn)
	default:
		return sqlstore.New(ctx, cfg.DatabaseURL)
	}
}
