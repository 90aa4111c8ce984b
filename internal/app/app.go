// Package app はアプリケーションの起動・依存の組み立て・停止を管理する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/importdash/internal/auth"
	"github.com/hitoshi/importdash/internal/config"
	"github.com/hitoshi/importdash/internal/database"
	"github.com/hitoshi/importdash/internal/handler"
	"github.com/hitoshi/importdash/internal/logger"
	"github.com/hitoshi/importdash/internal/metrics"
	"github.com/hitoshi/importdash/internal/middleware"
	"github.com/hitoshi/importdash/internal/project"
	"github.com/hitoshi/importdash/internal/repository"
	"github.com/hitoshi/importdash/internal/rpc"
	"github.com/hitoshi/importdash/internal/security"
	"github.com/hitoshi/importdash/internal/user"
	"github.com/hitoshi/importdash/internal/worker/cleanup"
)

const (
	shutdownTimeout       = 15 * time.Second
	oauthClientTimeout    = 10 * time.Second
	healthcheckTimeout    = 3 * time.Second
	startupPingTimeout    = 5 * time.Second
	serverReadTimeout     = 10 * time.Second
	serverWriteTimeout    = 30 * time.Second
	serverIdleTimeout     = 120 * time.Second
	serverHeaderTimeout   = 5 * time.Second
	rateLimiterCleanupGap = 5 * time.Minute
)

// Init はロガーを初期化し、設定を読み込む。
// 設定不備（必須環境変数の欠落、OAuth設定の不整合）は起動時に失敗させ、
// リクエスト処理まで持ち越さない。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はサブコマンドを解析してアプリケーションを実行する。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	cfg, err := Init(w)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandHealthcheck:
		return runHealthcheck(cfg)
	default:
		return fmt.Errorf("unhandled command %q", cmd)
	}
}

// runServe はAPIサーバーを起動する。シグナル受信でグレースフルに停止する。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	projectRepo := repository.NewPostgresProjectRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// OAuthプロバイダーは3変数すべてが設定されている場合のみ構築する。
	// 一部のみの設定はconfig.Loadの時点で起動エラーになっている。
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleOAuthEnabled() {
		guard := security.NewOutboundGuard()
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, guard.NewSafeClient(oauthClientTimeout))
		slog.Info("google oauth provider enabled")
	} else {
		slog.Info("google oauth provider not configured, provider routes disabled")
	}

	authSvc := auth.NewService(oauthProvider, userRepo, identRepo, sessionRepo,
		collector, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})
	userSvc := user.NewService(userRepo, sessionRepo)
	projectSvc := project.NewService(projectRepo)

	rpcRouter := rpc.NewRouter(authSvc, collector)
	handler.RegisterProcedures(rpcRouter, authSvc, userSvc, projectSvc)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		LoginRate:       rate.Limit(float64(cfg.RateLimitLogin) / 60.0),
		LoginBurst:      cfg.RateLimitLogin,
		CleanupInterval: rateLimiterCleanupGap,
	})
	defer rateLimiter.Stop()

	authHandler := handler.NewAuthHandler(authSvc, handler.CookieConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	}, cfg.BaseURL)

	router := handler.NewRouter(handler.RouterDeps{
		Config:      cfg,
		Auth:        authHandler,
		RPC:         rpcRouter,
		Sessions:    authSvc,
		RateLimiter: rateLimiter,
		Logger:      slog.Default(),
		Metrics:     metrics.Handler(registry),
		Health:      handler.NewHealthHandler(db),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
		ReadHeaderTimeout: serverHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server started", slog.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	slog.Info("api server stopped")
	return nil
}

// runWorker は期限切れセッションの定期削除ワーカーを起動する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sessionRepo := repository.NewPostgresSessionRepo(db)
	w := cleanup.NewWorker(sessionRepo, collector, cfg.SessionCleanupInterval)
	w.Run(ctx)

	return nil
}

// runMigrate はマイグレーションを適用して終了する。
func runMigrate(cfg *config.Config) error {
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// runHealthcheck はローカルのAPIサーバーのヘルスエンドポイントを確認する。
// コンテナのHEALTHCHECKから呼ばれる想定。
func runHealthcheck(cfg *config.Config) error {
	client := &http.Client{Timeout: healthcheckTimeout}

	resp, err := client.Get("http://localhost:" + cfg.ServerPort + "/healthz")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}
