// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvDevelopment は開発環境を表すAPP_ENVの値。
const EnvDevelopment = "development"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Auth
	SupabaseJWTSecret string `env:"SUPABASE_JWT_SECRET,required,notEmpty"`
	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"sb-access-token"`
	// DevFallbackUser は「最近更新されたユーザー」フォールバックを有効にする。
	// AppEnvがdevelopmentの場合にのみ効力を持つ。
	DevFallbackUser bool `env:"DEV_FALLBACK_USER" envDefault:"false"`

	// OAuth
	Calendar         OAuthClient `envPrefix:"GOOGLE_CALENDAR_"`
	Gmail            OAuthClient `envPrefix:"GMAIL_"`
	OAuthStateSecret string      `env:"OAUTH_STATE_SECRET"`

	// Providers
	GmailMaxResults       int64         `env:"GMAIL_MAX_RESULTS" envDefault:"10"`
	GmailFetchConcurrency int           `env:"GMAIL_FETCH_CONCURRENCY" envDefault:"5"`
	CalendarMaxResults    int64         `env:"CALENDAR_MAX_RESULTS" envDefault:"10"`
	ProviderTimeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`

	// AI
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// Rate Limit（req/min/user）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitChat    int `env:"RATE_LIMIT_CHAT" envDefault:"20"`

	// Server
	AppEnv     string `env:"APP_ENV" envDefault:"production"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// FrontendURL はOAuth完了後のリダイレクト先のオリジン。未設定の場合は相対パスでリダイレクトする。
	FrontendURL string `env:"FRONTEND_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// OAuthClient は1つの連携先のOAuthクライアント設定。
type OAuthClient struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Configured はクライアントIDとシークレットが揃っているかを返す。
func (c OAuthClient) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if cfg.GmailMaxResults <= 0 {
		cfg.GmailMaxResults = 10
	}
	if cfg.GmailFetchConcurrency <= 0 {
		cfg.GmailFetchConcurrency = 1
	}
	if cfg.CalendarMaxResults <= 0 {
		cfg.CalendarMaxResults = 10
	}

	return cfg, nil
}

// IsDevelopment は開発環境で動作しているかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FallbackUserEnabled は開発用フォールバックユーザーが有効かを返す。
// 本番環境ではDEV_FALLBACK_USERの値に関わらず常にfalse。
func (c *Config) FallbackUserEnabled() bool {
	return c.DevFallbackUser && c.IsDevelopment()
}

// AllowedOrigins はCORSで許可するオリジンを返す。
// FRONTEND_URLが設定されていれば、CORS_ALLOWED_ORIGINSに無くても含める。
func (c *Config) AllowedOrigins() []string {
	candidates := append(append([]string{}, c.CORSAllowedOrigins...), c.FrontendURL)

	origins := make([]string, 0, len(candidates))
	seen := make(map[string]bool)
	for _, origin := range candidates {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" || seen[origin] {
			continue
		}
		seen[origin] = true
		origins = append(origins, origin)
	}
	return origins
}
