package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fleetadmin/internal/middleware"
	"github.com/hitoshi/fleetadmin/internal/record"
	"github.com/hitoshi/fleetadmin/internal/view"
)

// HealthChecker はストレージの疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger   *slog.Logger
	Renderer *view.Renderer

	// ミドルウェア依存
	Sessions    middleware.StoreProvider
	Session     middleware.SessionConfig
	CSRF        middleware.CSRFConfig
	RateLimiter *middleware.RateLimiter

	// サービス
	AuthService   AuthService
	RecordService RecordService

	// 運用エンドポイント。nilの場合は登録しない、または常に正常とみなす。
	Metrics http.Handler
	Health  HealthChecker
}

// NewRouter は全画面のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Session → CSRF → RateLimit(General) → RequireSession
//
// /health と /metrics はセッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/health", healthHandler(deps.Health))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.Renderer, deps.Logger)
	recordHandler := NewRecordHandler(deps.RecordService, deps.Renderer, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.Sessions, deps.Session))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/session", authHandler.Session)

		// ログイン・サインアップの送信はIP単位の制限を追加
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Get("/login", authHandler.LoginPage)
			r.Post("/login", authHandler.Login)
			r.Get("/sign-up", authHandler.SignUpPage)
			r.Post("/sign-up", authHandler.SignUp)
		})
		r.Post("/logout", authHandler.Logout)

		// --- 認証が必要な画面 ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession)

			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, record.All[0].Path(), http.StatusSeeOther)
			})
			r.Route("/{slug}", func(r chi.Router) {
				r.Get("/", recordHandler.List)
				r.Get("/new", recordHandler.New)
				r.Post("/new", recordHandler.Create)
				r.Get("/{id}/edit", recordHandler.Edit)
				r.Post("/{id}/edit", recordHandler.Update)
			})
		})
	})

	return r
}

// healthHandler はストレージの疎通を含めたヘルスチェックを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
