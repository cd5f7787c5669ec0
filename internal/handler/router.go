package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tracyai/tracy/internal/metrics"
	"github.com/tracyai/tracy/internal/middleware"
	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver           CredentialResolver
	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	SecurityHeaders    middleware.SecurityHeadersConfig
	RateLimiter        *middleware.RateLimiter
	Metrics            metrics.MetricsCollector
	Logger             *slog.Logger

	// MetricsHandler は/metricsで公開するハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler

	// OAuth連携
	IntegrationService IntegrationServiceInterface
	FrontendURL        string

	// Google
	Calendars       repository.CalendarRepository
	CalendarGateway CalendarGateway
	GmailGateway    GmailGateway

	// タスク・ジャーナル・チャット
	TaskService    TaskServiceInterface
	JournalService JournalServiceInterface
	ChatService    ChatServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Identity → CSRF → RateLimit
//
// OAuthルート（/integration/*）はページ遷移で呼ばれるため、操作主体の解決をハンドラー内で行う。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecurityHeaders))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))

	integrationHandler := NewIntegrationHandler(deps.IntegrationService, deps.Resolver, deps.FrontendURL)
	calendarHandler := NewCalendarHandler(deps.Calendars, deps.CalendarGateway)
	gmailHandler := NewGmailHandler(deps.GmailGateway)
	taskHandler := NewTaskHandler(deps.TaskService)
	journalHandler := NewJournalHandler(deps.JournalService)
	chatHandler := NewChatHandler(deps.ChatService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// OAuthフロー
	r.Route("/integration", func(r chi.Router) {
		for _, svc := range model.Services {
			r.Get("/"+string(svc)+"/auth", integrationHandler.Auth(svc))
			r.Get("/"+string(svc)+"/oauth2callback", integrationHandler.Callback(svc))
		}
	})

	// --- 開発用フォールバックを許可するルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewFallbackIdentityMiddleware(deps.Resolver, collector))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/calendars", calendarHandler.List)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.Resolver, collector))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// カレンダー
		r.Put("/calendars", calendarHandler.Update)
		r.Post("/calendars/sync", calendarHandler.Sync)
		r.Get("/api/calendar/events", calendarHandler.Events)

		// Gmail
		r.Get("/gmail/emails", gmailHandler.ListEmails)
		r.Post("/gmail/send", gmailHandler.Send)

		// タスク
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.List)
			r.Post("/", taskHandler.Create)
			r.Patch("/{id}", taskHandler.Update)
		})

		// ジャーナル
		r.Get("/journal", journalHandler.List)
		r.Post("/journal", journalHandler.Create)

		// チャット（AIプロバイダー呼び出しのため専用のレート制限を追加）
		r.With(deps.RateLimiter.ChatMiddleware()).Post("/chat", chatHandler.Chat)

		// ユーザー
		r.Get("/api/me", userHandler.Me)
		r.Post("/api/me/onboarding", userHandler.CompleteOnboarding)

		// 連携状態
		r.Get("/api/integrations", integrationHandler.Status)
		r.Delete("/api/integrations/{service}", integrationHandler.Disconnect)
	})

	return r
}
