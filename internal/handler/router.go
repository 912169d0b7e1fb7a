package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/dailytrio/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	IdentityResolver  middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// トリオ
	QueueService QueueServiceInterface
	AdminService AdminServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → CORS → Session → RateLimit(General) → RateLimit(Join, joinのみ)
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	trioHandler := NewTrioHandler(deps.QueueService)
	adminHandler := NewAdminHandler(deps.AdminService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.IdentityResolver))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/trio", func(r chi.Router) {
			r.With(deps.RateLimiter.JoinMiddleware()).Post("/queue", trioHandler.Join)
			r.Delete("/queue", trioHandler.Leave)
			r.Get("/status", trioHandler.Status)
		})

		r.Route("/api/admin/trios", func(r chi.Router) {
			r.Delete("/", adminHandler.Delete)
			r.Post("/randomize", adminHandler.Randomize)
			r.Get("/verify", adminHandler.Verify)
		})
	})

	return r
}
