package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tracyai/tracy/internal/assistant"
	"github.com/tracyai/tracy/internal/auth"
	"github.com/tracyai/tracy/internal/config"
	"github.com/tracyai/tracy/internal/database"
	"github.com/tracyai/tracy/internal/google"
	"github.com/tracyai/tracy/internal/handler"
	"github.com/tracyai/tracy/internal/integration"
	"github.com/tracyai/tracy/internal/journal"
	"github.com/tracyai/tracy/internal/logger"
	"github.com/tracyai/tracy/internal/metrics"
	"github.com/tracyai/tracy/internal/middleware"
	"github.com/tracyai/tracy/internal/repository"
	"github.com/tracyai/tracy/internal/security"
	"github.com/tracyai/tracy/internal/task"
	"github.com/tracyai/tracy/internal/user"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを再構成する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Server は組み立て済みのHTTPサーバーと後始末の関数を保持する。
type Server struct {
	HTTP    *http.Server
	cleanup []func()
}

// Close はサーバーが保持するバックグラウンド処理を停止する。
func (s *Server) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// NewServer は設定とDB接続から全依存関係をワイヤリングし、HTTPサーバーを組み立てる。
// regにはメトリクスを登録するレジストリを渡す。
func NewServer(cfg *config.Config, db *sqlx.DB, reg *prometheus.Registry) *Server {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	calendarRepo := repository.NewPostgresCalendarRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)
	journalRepo := repository.NewPostgresJournalRepo(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. 認証
	resolver := auth.NewResolver(
		auth.NewJWTVerifier(cfg.SupabaseJWTSecret),
		userRepo,
		auth.ResolverConfig{
			CookieName:      cfg.SessionCookieName,
			FallbackEnabled: cfg.FallbackUserEnabled(),
		},
	)
	if cfg.FallbackUserEnabled() {
		slog.Warn("development fallback user is enabled")
	}

	// 4. OAuth連携とGoogleゲートウェイ
	providerClient := &http.Client{Timeout: cfg.ProviderTimeout}
	stateCodec := auth.NewStateCodec(cfg.OAuthStateSecret)
	if !stateCodec.Signed() {
		slog.Warn("OAUTH_STATE_SECRET is not set; oauth state will not be verified")
	}
	integrationService := integration.NewService(
		integration.Defaults(cfg),
		tokenRepo,
		stateCodec,
		providerClient,
		collector,
	)
	for _, svc := range integrationService.Unconfigured() {
		slog.Warn("integration is not configured", slog.String("service", string(svc)))
	}

	sanitizer := security.NewTextSanitizer()
	gateway := google.NewGateway(tokenRepo, integrationService, sanitizer, collector, google.Options{
		GmailMaxResults:       cfg.GmailMaxResults,
		GmailFetchConcurrency: cfg.GmailFetchConcurrency,
		CalendarMaxResults:    cfg.CalendarMaxResults,
		Timeout:               cfg.ProviderTimeout,
	})

	// 5. ドメインサービス
	taskService := task.NewService(taskRepo, sanitizer)
	journalService := journal.NewService(journalRepo, sanitizer)
	userService := user.NewService(userRepo)

	completer := assistant.NewClient(assistant.Config{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: providerClient,
	})
	if completer == nil {
		slog.Warn("OPENAI_API_KEY is not set; chat is disabled")
	}
	chatService := assistant.NewService(completer, cfg.OpenAIModel, journalRepo, taskRepo, collector)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitChat))

	router := handler.NewRouter(&handler.RouterDeps{
		Resolver:           resolver,
		CORSAllowedOrigins: cfg.AllowedOrigins(),
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		SecurityHeaders: middleware.SecurityHeadersConfig{
			HSTS: cfg.CookieSecure,
		},
		RateLimiter:    rateLimiter,
		Metrics:        collector,
		Logger:         slog.Default(),
		MetricsHandler: metrics.Handler(reg),

		IntegrationService: integrationService,
		FrontendURL:        cfg.FrontendURL,

		Calendars:       calendarRepo,
		CalendarGateway: gateway,
		GmailGateway:    gateway,

		TaskService:    taskService,
		JournalService: journalService,
		ChatService:    chatService,
		UserService:    userService,
	})

	return &Server{
		HTTP: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// チャットはプロバイダー呼び出しを含むため余裕を持たせる
			WriteTimeout: cfg.ProviderTimeout + 30*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		cleanup: []func(){rateLimiter.Stop},
	}
}

// newRegistry はプロセスとGoランタイムのメトリクスを含むレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("command", "serve"),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("app_env", cfg.AppEnv),
	)

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	server := NewServer(cfg, db, newRegistry())
	defer server.Close()

	// 3. HTTPサーバーの起動
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.HTTP.Addr))
		if err := server.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.HTTP.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	target := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// signalContext はSIGINT/SIGTERMでキャンセルされるコンテキストを返す。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
