package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/servicehub/internal/authz"
	"github.com/hitoshi/servicehub/internal/metrics"
	"github.com/hitoshi/servicehub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver          middleware.IdentityResolver
	Guard             middleware.Decider
	Metrics           metrics.MetricsCollector
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用エンドポイント（nilの場合はルートを登録しない）
	HealthChecks   map[string]HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ロール選択・管理
	RoleService      RoleServiceInterface
	AdminUserService AdminUserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通のミドルウェア:
//
//	Recovery → RequestID → RealIP → Logging → SecurityHeaders → CORS
//
// ロール別のページとAPIはガードの配下に置く:
//
//	Guard → RateLimit(General) → CSRF
//
// ロール選択とログイン中ユーザー情報はセッションのみを要求する。
func NewRouter(deps *RouterDeps) http.Handler {
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, mc))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	roleHandler := NewRoleSelectionHandler(deps.RoleService)
	dashHandler := NewDashboardHandler()
	adminHandler := NewAdminUserHandler(deps.AdminUserService)
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	// --- 認証不要のルート ---

	if deps.HealthChecks != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Get(authz.SignInPath, authHandler.SignIn)
	r.Get(authz.UnauthorizedPath, dashHandler.Unauthorized)
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// OAuthフロー（IP単位のサインイン用レート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.SignInMiddleware())
		r.Get("/auth/google/login", authHandler.Login)
		r.Get("/auth/google/callback", authHandler.Callback)
	})

	// 期限切れセッションでもCookieを消せるようにセッション検証の外に置く
	r.With(csrf).Post("/auth/logout", authHandler.Logout)

	// --- セッションのみ要求するルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Resolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(csrf)

		r.Get(authz.RoleSelectionPath, roleHandler.Show)
		r.Post(authz.RoleSelectionPath, roleHandler.Select)
		r.Get("/auth/me", authHandler.Me)
	})

	// --- ロールで保護されたルート ---
	// ミドルウェアスタック: Guard → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewGuardMiddleware(deps.Resolver, deps.Guard, mc))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(csrf)

		r.Get("/dashboard", dashHandler.Landing)
		r.Get(authz.ViewAdminDashboard.Path(), dashHandler.View(authz.ViewAdminDashboard))
		r.Get(authz.ViewProviderDashboard.Path(), dashHandler.View(authz.ViewProviderDashboard))
		r.Get(authz.ViewClientDashboard.Path(), dashHandler.View(authz.ViewClientDashboard))

		r.Get("/api/provider/overview", dashHandler.Overview)
		r.Get("/api/client/overview", dashHandler.Overview)

		// 管理者向けユーザー管理
		r.Route("/api/admin/users", func(r chi.Router) {
			r.Get("/", adminHandler.ListUsers)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", adminHandler.GetUser)
				r.Put("/role", adminHandler.AssignRole)
				r.Put("/status", adminHandler.SetStatus)
			})
		})
	})

	return r
}
