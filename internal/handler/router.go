package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calendarbridge/internal/metrics"
	"github.com/hitoshi/calendarbridge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	CORSAllowedOrigin string
	SessionRenewer    middleware.SessionRenewer
	RateLimiter       *middleware.RateLimiter
	CSRF              *middleware.CSRFConfig // nilの場合はCSRF検証を行わない

	// 認証
	AuthService AuthServiceInterface
	Cookies     SessionCookies

	// カレンダー
	Calendar CalendarGateway

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → [保護ルート: Session → RateLimit(General) → CSRF]
//
// /auth/url, /auth/token, /auth/logged_in, /auth/csrf-token はセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies)
	calendarHandler := NewCalendarHandler(deps.Calendar)
	ownEmail := middleware.NewEmailParamGuard("email")

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/url", authHandler.AuthURL)
		r.Get("/token", authHandler.Token)
		r.Get("/logged_in", authHandler.LoggedIn)
		if deps.CSRF != nil {
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF))
		}
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionRenewer, deps.Cookies, deps.Metrics))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		if deps.CSRF != nil {
			r.Use(middleware.NewCSRFMiddleware(*deps.CSRF))
		}

		r.With(ownEmail).Post("/auth/logout/{email}", authHandler.Logout)
		r.With(ownEmail).Get("/calendar-events/{email}", calendarHandler.ListEvents)
		r.With(ownEmail, deps.RateLimiter.ScheduleMiddleware()).Post("/schedule-event/{email}", calendarHandler.ScheduleEvent)
		r.With(ownEmail).Delete("/delete-event/{eventId}/{email}", calendarHandler.DeleteEvent)
	})

	return r
}
