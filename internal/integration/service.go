package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tracyai/tracy/internal/auth"
	"github.com/tracyai/tracy/internal/metrics"
	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
)

// コールバック処理の失敗理由
var (
	// ErrMissingCode はコールバックにcodeパラメータが無いことを示す。交換は行わない。
	ErrMissingCode = errors.New("authorization code is missing")
	// ErrUnknownService は未対応の連携先が指定されたことを示す。
	ErrUnknownService = errors.New("unknown integration service")
)

// Status は連携先ごとの接続状態。
type Status struct {
	Service    model.Service `json:"service"`
	Configured bool          `json:"configured"`
	Connected  bool          `json:"connected"`
	UpdatedAt  *time.Time    `json:"updated_at,omitempty"`
}

// Service はOAuth連携のビジネスロジックを提供する。
type Service struct {
	integrations map[model.Service]Integration
	tokens       repository.TokenRepository
	state        *auth.StateCodec
	httpClient   *http.Client
	metrics      metrics.MetricsCollector
}

// NewService はServiceを生成する。
// httpClientはトークンエンドポイント呼び出しに使う（タイムアウトを設定したもの）。
func NewService(
	integrations []Integration,
	tokens repository.TokenRepository,
	state *auth.StateCodec,
	httpClient *http.Client,
	collector metrics.MetricsCollector,
) *Service {
	byService := make(map[model.Service]Integration, len(integrations))
	for _, i := range integrations {
		byService[i.Service] = i
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if collector == nil {
		collector = metrics.Nop()
	}
	return &Service{
		integrations: byService,
		tokens:       tokens,
		state:        state,
		httpClient:   httpClient,
		metrics:      collector,
	}
}

// Integration は連携先の定義を返す。
func (s *Service) Integration(service model.Service) (Integration, error) {
	i, ok := s.integrations[service]
	if !ok {
		return Integration{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return i, nil
}

// Unconfigured はクライアントID/シークレットが未設定の連携先を返す。
func (s *Service) Unconfigured() []model.Service {
	var out []model.Service
	for _, svc := range model.Services {
		if i, ok := s.integrations[svc]; !ok || !i.Configured() {
			out = append(out, svc)
		}
	}
	return out
}

// OAuth2Config は設定済みの連携先のx/oauth2設定を返す。
// クライアントID/シークレットが未設定の場合はmodel.ErrIntegrationNotConfiguredを返す。
func (s *Service) OAuth2Config(service model.Service) (*oauth2.Config, error) {
	i, err := s.Integration(service)
	if err != nil {
		return nil, err
	}
	if !i.Configured() {
		return nil, fmt.Errorf("%w: %s", model.ErrIntegrationNotConfigured, service)
	}
	return i.OAuth2Config(), nil
}

// WithHTTPClient はx/oauth2がトークン交換・更新に使うHTTPクライアントをctxに設定する。
func (s *Service) WithHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// AuthURL はプロバイダーの同意画面URLを返す。
// 設定不足の場合はネットワーク呼び出しを行わずにmodel.ErrIntegrationNotConfiguredを返す。
func (s *Service) AuthURL(_ context.Context, service model.Service, userID string) (string, error) {
	cfg, err := s.OAuth2Config(service)
	if err != nil {
		return "", err
	}

	state, err := s.state.Encode(userID)
	if err != nil {
		return "", err
	}

	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Complete は認可コードをトークンに交換し、Token Storeに保存する。
// userIDはコールバック時点でCookieから解決した操作主体。
//   - codeが空: ErrMissingCode（交換しない）
//   - state不一致（署名モードのみ）: auth.ErrStateMismatch（交換しない）
//   - 交換失敗: *model.UpstreamError
//   - 保存失敗: *model.StorageError
func (s *Service) Complete(ctx context.Context, service model.Service, userID, code, state string) error {
	cfg, err := s.OAuth2Config(service)
	if err != nil {
		return err
	}
	if code == "" {
		return ErrMissingCode
	}

	if err := s.state.Verify(state, userID); err != nil {
		return err
	}
	if !s.state.Signed() {
		s.logUnsignedState(ctx, service, userID, state)
	}

	start := time.Now()
	token, err := cfg.Exchange(s.WithHTTPClient(ctx), code)
	s.metrics.RecordProviderCall("google", "token.exchange", err, time.Since(start))
	if err != nil {
		s.metrics.RecordTokenExchange(string(service), metrics.OutcomeFailure)
		return model.NewUpstreamError("google", "token exchange", err)
	}

	bundle := BundleFromToken(token)
	if err := bundle.Validate(); err != nil {
		s.metrics.RecordTokenExchange(string(service), metrics.OutcomeFailure)
		return model.NewUpstreamError("google", "token exchange", err)
	}

	if err := s.tokens.Upsert(ctx, userID, service, bundle); err != nil {
		s.metrics.RecordTokenExchange(string(service), metrics.OutcomeFailure)
		return err
	}

	s.metrics.RecordTokenExchange(string(service), metrics.OutcomeSuccess)
	slog.Info("integration connected",
		slog.String("user_id", userID),
		slog.String("service", string(service)),
		slog.Bool("has_refresh_token", bundle.RefreshToken != ""),
	)
	return nil
}

// Status はユーザーの全連携先の接続状態を返す。
func (s *Service) Status(ctx context.Context, userID string) ([]Status, error) {
	connected, err := s.tokens.ListConnected(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated := make(map[model.Service]time.Time, len(connected))
	for _, c := range connected {
		updated[c.Service] = c.UpdatedAt
	}

	statuses := make([]Status, 0, len(model.Services))
	for _, svc := range model.Services {
		st := Status{Service: svc}
		if i, ok := s.integrations[svc]; ok {
			st.Configured = i.Configured()
		}
		if at, ok := updated[svc]; ok {
			at := at
			st.Connected = true
			st.UpdatedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Disconnect は保存済みのトークンを削除する。プロバイダー側の許可は取り消さない。
func (s *Service) Disconnect(ctx context.Context, userID string, service model.Service) error {
	if _, err := s.Integration(service); err != nil {
		return err
	}
	if err := s.tokens.Delete(ctx, userID, service); err != nil {
		return err
	}
	slog.Info("integration disconnected",
		slog.String("user_id", userID),
		slog.String("service", string(service)),
	)
	return nil
}

// logUnsignedState は署名なしstateを照合せずにログへ残す。
func (s *Service) logUnsignedState(ctx context.Context, service model.Service, userID, raw string) {
	if raw == "" {
		slog.DebugContext(ctx, "oauth callback without state", slog.String("service", string(service)))
		return
	}
	decoded, err := s.state.Decode(raw)
	if err != nil {
		slog.DebugContext(ctx, "failed to decode oauth state", slog.String("error", err.Error()))
		return
	}
	if decoded.UserID != userID {
		slog.WarnContext(ctx, "oauth state user differs from session user",
			slog.String("service", string(service)),
			slog.String("state_user_id", decoded.UserID),
			slog.String("user_id", userID),
		)
	}
}

// BundleFromToken はx/oauth2のトークンを保存用のTokenBundleに変換する。
func BundleFromToken(token *oauth2.Token) *model.TokenBundle {
	if token == nil {
		return nil
	}
	bundle := &model.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		bundle.Scope = scope
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		bundle.IDToken = idToken
	}
	return bundle
}

// TokenFromBundle は保存済みのTokenBundleをx/oauth2のトークンに変換する。
func TokenFromBundle(bundle *model.TokenBundle) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		TokenType:    bundle.TokenType,
		Expiry:       bundle.Expiry,
	}
}
