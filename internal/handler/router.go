package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/memefeed/internal/metrics"
	"github.com/hitoshi/memefeed/internal/middleware"
	"github.com/hitoshi/memefeed/internal/storage"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	RecommendService RecommendServiceInterface
	ReactionService  ReactionServiceInterface
	SearchService    SearchServiceInterface
	MemeResolver     MemeResolver
	MediaStore       storage.MediaStore

	// メトリクス
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}

	memeHandler := NewMemeHandler(deps.RecommendService, deps.ReactionService, deps.MemeResolver, deps.MediaStore)
	searchHandler := NewSearchHandler(deps.SearchService)

	// --- 運用エンドポイント（レート制限なし） ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- APIルート ---

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Route("/api/users/{userID}", func(r chi.Router) {
			r.Get("/recommendation", memeHandler.GetRecommendation)
			r.Post("/reactions", memeHandler.AddReaction)
			r.Get("/stats", memeHandler.GetStats)
		})

		r.Get("/api/memes/{id}/image", memeHandler.GetImage)
		r.Get("/api/search", searchHandler.Search)
	})

	return r
}
