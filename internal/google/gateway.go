// Package google は保存済みトークンを使ってGmail / Google Calendar APIを呼び出すゲートウェイを提供する。
//
// 全ての操作はまずToken Storeからトークンを取得し、未接続であればプロバイダーを呼ばずに
// model.ErrIntegrationNotConnectedを返す。プロバイダー呼び出しは再試行しない。
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/tracyai/tracy/internal/integration"
	"github.com/tracyai/tracy/internal/metrics"
	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
	"github.com/tracyai/tracy/internal/security"
)

// OAuthConfigProvider は連携先ごとのx/oauth2設定を提供するインターフェース。
// integration.Serviceが実装する。
type OAuthConfigProvider interface {
	OAuth2Config(service model.Service) (*oauth2.Config, error)
	WithHTTPClient(ctx context.Context) context.Context
}

// Options はゲートウェイの動作設定。
type Options struct {
	GmailMaxResults       int64
	GmailFetchConcurrency int
	CalendarMaxResults    int64
	// Timeout は1操作あたりの上限時間。0以下なら呼び出し元のctxのみに従う。
	Timeout time.Duration
	// Endpoint はAPIのベースURLを差し替える（テスト用）。
	Endpoint string
}

// Gateway はGmail / Calendar APIへのアクセスを提供する。
type Gateway struct {
	tokens    repository.TokenRepository
	configs   OAuthConfigProvider
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	opts      Options
	now       func() time.Time
}

// NewGateway はGatewayを生成する。
func NewGateway(
	tokens repository.TokenRepository,
	configs OAuthConfigProvider,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	opts Options,
) *Gateway {
	if opts.GmailMaxResults <= 0 {
		opts.GmailMaxResults = 10
	}
	if opts.GmailFetchConcurrency <= 0 {
		opts.GmailFetchConcurrency = 1
	}
	if opts.CalendarMaxResults <= 0 {
		opts.CalendarMaxResults = 10
	}
	if collector == nil {
		collector = metrics.Nop()
	}
	return &Gateway{
		tokens:    tokens,
		configs:   configs,
		sanitizer: sanitizer,
		metrics:   collector,
		opts:      opts,
		now:       time.Now,
	}
}

// withTimeout は操作ごとのタイムアウトをctxに設定する。
func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.opts.Timeout)
}

// clientOptions は保存済みトークンで認証するAPIクライアントのオプションを返す。
// トークンが無い場合はプロバイダーに触れずにmodel.ErrIntegrationNotConnectedを返す。
func (g *Gateway) clientOptions(ctx context.Context, userID string, service model.Service) ([]option.ClientOption, error) {
	bundle, err := g.tokens.Get(ctx, userID, service)
	if errors.Is(err, model.ErrTokenNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrIntegrationNotConnected, service)
	}
	if err != nil {
		return nil, err
	}

	cfg, err := g.configs.OAuth2Config(service)
	if err != nil {
		return nil, err
	}

	httpCtx := g.configs.WithHTTPClient(ctx)
	stored := integration.TokenFromBundle(bundle)
	source := oauth2.ReuseTokenSource(stored, &persistingTokenSource{
		ctx:     ctx,
		base:    cfg.TokenSource(httpCtx, stored),
		tokens:  g.tokens,
		userID:  userID,
		service: service,
		last:    stored.AccessToken,
	})

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(httpCtx, source))}
	if g.opts.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.opts.Endpoint))
	}
	return opts, nil
}

// observe はプロバイダー呼び出しを計測する。
func (g *Gateway) observe(provider, operation string, start time.Time, err error) {
	g.metrics.RecordProviderCall(provider, operation, err, time.Since(start))
	if err != nil {
		slog.Error("provider call failed",
			slog.String("provider", provider),
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
}

// persistingTokenSource はx/oauth2がアクセストークンを更新した場合に新しいトークンを保存する。
type persistingTokenSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	tokens  repository.TokenRepository
	userID  string
	service model.Service
	last    string
}

// Token はトークンを返す。更新が発生していればToken Storeへ書き戻す。
// 書き戻しの失敗は呼び出しを失敗させず、ログのみ残す。
func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken == s.last {
		return token, nil
	}
	s.last = token.AccessToken

	if err := s.tokens.Upsert(s.ctx, s.userID, s.service, integration.BundleFromToken(token)); err != nil {
		slog.Warn("failed to persist refreshed token",
			slog.String("user_id", s.userID),
			slog.String("service", string(s.service)),
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("refreshed token persisted",
			slog.String("user_id", s.userID),
			slog.String("service", string(s.service)),
		)
	}
	return token, nil
}
