package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/dealmoa/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger         *slog.Logger
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ミドルウェア依存
	UserFinder  middleware.UserFinder
	RateLimiter *middleware.RateLimiter

	Keywords      KeywordServiceInterface
	DealFeed      DealFeedInterface
	PriceStats    PriceStatisticsInterface
	Notifications InboxInterface
	Devices       DeviceRegistrar
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → (/api) APIHeaders → Identity → RateLimit(General)
//
// /health と /metrics は識別ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))

	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	keywordHandler := NewKeywordHandler(deps.Keywords)
	dealHandler := NewDealHandler(deps.DealFeed, deps.PriceStats)
	notificationHandler := NewNotificationHandler(deps.Notifications)
	deviceHandler := NewDeviceHandler(deps.Devices)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAPIHeadersMiddleware())
		r.Use(middleware.NewIdentityMiddleware(deps.UserFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// キーワード管理（登録・変更は専用レート制限を追加）
		r.Route("/keywords", func(r chi.Router) {
			r.Get("/", keywordHandler.ListKeywords)

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.KeywordWriteMiddleware())
				r.Post("/", keywordHandler.AddKeyword)
				r.Post("/batch", keywordHandler.AddKeywords)
				r.Patch("/{id}", keywordHandler.UpdateKeyword)
				r.Delete("/{id}", keywordHandler.DeleteKeyword)
			})
		})

		r.Route("/deals", func(r chi.Router) {
			r.Get("/feed", dealHandler.Feed)
			r.Get("/{id}/price-stats", dealHandler.PriceStatistics)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationHandler.ListNotifications)
			r.Post("/read-all", notificationHandler.MarkAllRead)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/read", notificationHandler.MarkRead)
				r.Post("/click", notificationHandler.MarkClicked)
				r.Post("/delivered", notificationHandler.MarkDelivered)
			})
		})

		r.Post("/devices", deviceHandler.RegisterDevice)
	})

	return r
}
