package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/importdash/internal/config"
	"github.com/hitoshi/importdash/internal/middleware"
	"github.com/hitoshi/importdash/internal/rpc"
)

// RouterDeps はルーター構築に必要な依存の集合。
type RouterDeps struct {
	Config      *config.Config
	Auth        *AuthHandler
	RPC         *rpc.Router
	Sessions    middleware.SessionResolver
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	Metrics     http.Handler
	Health      http.HandlerFunc
}

// NewRouter はアプリケーション全体のルーティングを構築する。
// Google OAuth関連のエンドポイントはプロバイダーが設定されている場合のみ登録される。
func NewRouter(deps RouterDeps) chi.Router {
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.Config.CookieSecure,
		CookieDomain: deps.Config.CookieDomain,
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.Config.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/healthz", deps.Health)
	r.Handle("/metrics", deps.Metrics)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig))

	// 認証エンドポイント。ログイン・登録はIP単位のレート制限付き。
	r.Group(func(ar chi.Router) {
		ar.Use(middleware.NewCSRFMiddleware(csrfConfig))

		ar.Group(func(lr chi.Router) {
			lr.Use(deps.RateLimiter.LoginMiddleware())
			lr.Post("/auth/signup", deps.Auth.SignUp())
			lr.Post("/auth/login", deps.Auth.Login())
		})

		ar.Post("/auth/logout", deps.Auth.Logout())

		if deps.Config.GoogleOAuthEnabled() {
			ar.Get("/auth/google/login", deps.Auth.GoogleLogin())
			ar.Get("/auth/google/callback", deps.Auth.GoogleCallback())
		}
	})

	// 認証必須エンドポイント。ユーザー単位のレート制限付き。
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.NewSessionMiddleware(deps.Sessions))
		pr.Use(deps.RateLimiter.GeneralMiddleware())
		pr.Get("/auth/me", deps.Auth.Me())
	})

	// RPC。セッション解決はプロシージャの公開範囲に応じてルーター内部で行う。
	r.Group(func(rr chi.Router) {
		rr.Use(middleware.NewCSRFMiddleware(csrfConfig))
		rr.Handle("/rpc/{procedure}", deps.RPC)
	})

	return r
}
