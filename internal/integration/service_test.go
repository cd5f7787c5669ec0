package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/tracyai/tracy/internal/auth"
	"github.com/tracyai/tracy/internal/config"
	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
)

// --- モック定義 ---

type mockTokenRepo struct {
	upsertFn        func(ctx context.Context, userID string, service model.Service, bundle *model.TokenBundle) error
	getFn           func(ctx context.Context, userID string, service model.Service) (*model.TokenBundle, error)
	deleteFn        func(ctx context.Context, userID string, service model.Service) error
	listConnectedFn func(ctx context.Context, userID string) ([]repository.ConnectedService, error)
}

func (m *mockTokenRepo) Upsert(ctx context.Context, userID string, service model.Service, bundle *model.TokenBundle) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, userID, service, bundle)
	}
	return nil
}

func (m *mockTokenRepo) Get(ctx context.Context, userID string, service model.Service) (*model.TokenBundle, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, service)
	}
	return nil, model.ErrTokenNotFound
}

func (m *mockTokenRepo) Delete(ctx context.Context, userID string, service model.Service) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, service)
	}
	return nil
}

func (m *mockTokenRepo) ListConnected(ctx context.Context, userID string) ([]repository.ConnectedService, error) {
	if m.listConnectedFn != nil {
		return m.listConnectedFn(ctx, userID)
	}
	return nil, nil
}

var _ repository.TokenRepository = (*mockTokenRepo)(nil)

// --- ヘルパー ---

// tokenEndpoint はトークンエンドポイントを模したサーバーを起動し、呼び出し回数を返す。
func tokenEndpoint(t *testing.T, status int, body map[string]any) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token request: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q, want authorization_code", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testIntegration(service model.Service, tokenURL string, configured bool) Integration {
	client := config.OAuthClient{RedirectURL: "http://localhost:8080/integration/" + string(service) + "/oauth2callback"}
	if configured {
		client.ClientID = "client-id"
		client.ClientSecret = "client-secret"
	}
	return Integration{
		Service:     service,
		Scopes:      []string{"scope-a", "scope-b"},
		SuccessPath: "/profile",
		ErrorPath:   "/profile",
		Client:      client,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/o/oauth2/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func newTestService(integrations []Integration, tokens repository.TokenRepository, stateSecret string) *Service {
	return NewService(integrations, tokens, auth.NewStateCodec(stateSecret), &http.Client{Timeout: 5 * time.Second}, nil)
}

// --- AuthURL ---

func TestAuthURL_NotConfigured_FailsBeforeNetwork(t *testing.T) {
	srv, hits := tokenEndpoint(t, http.StatusOK, nil)
	svc := newTestService([]Integration{testIntegration(model.ServiceCalendar, srv.URL, false)}, &mockTokenRepo{}, "")

	_, err := svc.AuthURL(context.Background(), model.ServiceCalendar, "u1")
	if !errors.Is(err, model.ErrIntegrationNotConfigured) {
		t.Fatalf("expected ErrIntegrationNotConfigured, got %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("provider should not be contacted, got %d calls", *hits)
	}
}

func TestAuthURL_ContainsStateScopesAndOfflineAccess(t *testing.T) {
	svc := newTestService([]Integration{testIntegration(model.ServiceGmail, "http://unused", true)}, &mockTokenRepo{}, "")

	raw, err := svc.AuthURL(context.Background(), model.ServiceGmail, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid auth url: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("scope") != "scope-a scope-b" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("prompt = %q, want consent", q.Get("prompt"))
	}

	state, err := auth.NewStateCodec("").Decode(q.Get("state"))
	if err != nil {
		t.Fatalf("state should decode: %v", err)
	}
	if state.UserID != "u1" {
		t.Errorf("state userId = %q, want u1", state.UserID)
	}
}

func TestAuthURL_UnknownService(t *testing.T) {
	svc := newTestService(nil, &mockTokenRepo{}, "")
	if _, err := svc.AuthURL(context.Background(), model.Service("dropbox"), "u1"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
}

// --- Complete ---

func TestComplete_MissingCode_NoExchange(t *testing.T) {
	srv, hits := tokenEndpoint(t, http.StatusOK, map[string]any{"access_token": "a"})
	upserted := false
	repo := &mockTokenRepo{
		upsertFn: func(_ context.Context, _ string, _ model.Service, _ *model.TokenBundle) error {
			upserted = true
			return nil
		},
	}
	svc := newTestService([]Integration{testIntegration(model.ServiceGmail, srv.URL, true)}, repo, "")

	err := svc.Complete(context.Background(), model.ServiceGmail, "u1", "", "state")
	if !errors.Is(err, ErrMissingCode) {
		t.Fatalf("expected ErrMissingCode, got %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("token endpoint should not be called, got %d calls", *hits)
	}
	if upserted {
		t.Error("nothing should be persisted")
	}
}

func TestComplete_Success_ExchangesOnceAndUpserts(t *testing.T) {
	srv, hits := tokenEndpoint(t, http.StatusOK, map[string]any{
		"access_token":  "access-1",
		"refresh_token": "refresh-1",
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "scope-a scope-b",
	})

	var saved *model.TokenBundle
	var savedUser string
	var savedService model.Service
	repo := &mockTokenRepo{
		upsertFn: func(_ context.Context, userID string, service model.Service, bundle *model.TokenBundle) error {
			savedUser, savedService, saved = userID, service, bundle
			return nil
		},
	}
	svc := newTestService([]Integration{testIntegration(model.ServiceCalendar, srv.URL, true)}, repo, "")

	if err := svc.Complete(context.Background(), model.ServiceCalendar, "u1", "auth-code", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("token endpoint calls = %d, want 1", n)
	}
	if savedUser != "u1" || savedService != model.ServiceCalendar {
		t.Errorf("upsert key = (%q, %q), want (u1, calendar)", savedUser, savedService)
	}
	if saved == nil || saved.AccessToken != "access-1" || saved.RefreshToken != "refresh-1" {
		t.Fatalf("saved bundle = %+v", saved)
	}
	if saved.Scope != "scope-a scope-b" {
		t.Errorf("scope = %q", saved.Scope)
	}
	if saved.Expiry.IsZero() {
		t.Error("expiry should be derived from expires_in")
	}
}

func TestComplete_ExchangeFailure_IsUpstreamAndNotRetried(t *testing.T) {
	srv, hits := tokenEndpoint(t, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	upserted := false
	repo := &mockTokenRepo{
		upsertFn: func(_ context.Context, _ string, _ model.Service, _ *model.TokenBundle) error {
			upserted = true
			return nil
		},
	}
	svc := newTestService([]Integration{testIntegration(model.ServiceGmail, srv.URL, true)}, repo, "")

	err := svc.Complete(context.Background(), model.ServiceGmail, "u1", "bad-code", "")
	if !model.IsUpstream(err) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Errorf("token endpoint calls = %d, want exactly 1", n)
	}
	if upserted {
		t.Error("nothing should be persisted after a failed exchange")
	}
}

func TestComplete_EmptyAccessToken_IsRejected(t *testing.T) {
	srv, _ := tokenEndpoint(t, http.StatusOK, map[string]any{"access_token": "", "token_type": "Bearer"})
	svc := newTestService([]Integration{testIntegration(model.ServiceGmail, srv.URL, true)}, &mockTokenRepo{}, "")

	if err := svc.Complete(context.Background(), model.ServiceGmail, "u1", "code", ""); err == nil {
		t.Error("expected an error for a token response without access_token")
	}
}

func TestComplete_StorageFailure_Propagates(t *testing.T) {
	srv, _ := tokenEndpoint(t, http.StatusOK, map[string]any{"access_token": "a", "token_type": "Bearer"})
	repo := &mockTokenRepo{
		upsertFn: func(_ context.Context, _ string, _ model.Service, _ *model.TokenBundle) error {
			return model.NewStorageError("upsert token", errors.New("connection refused"))
		},
	}
	svc := newTestService([]Integration{testIntegration(model.ServiceGmail, srv.URL, true)}, repo, "")

	err := svc.Complete(context.Background(), model.ServiceGmail, "u1", "code", "")
	if !model.IsStorage(err) {
		t.Errorf("expected StorageError, got %v", err)
	}
}

func TestComplete_SignedState(t *testing.T) {
	const secret = "state-secret"
	codec := auth.NewStateCodec(secret)
	stateForU1, _ := codec.Encode("u1")

	tests := []struct {
		name      string
		userID    string
		state     string
		wantErr   error
		wantCalls int32
	}{
		{name: "同一ユーザー", userID: "u1", state: stateForU1, wantCalls: 1},
		{name: "別ユーザーのセッション", userID: "u2", state: stateForU1, wantErr: auth.ErrStateMismatch},
		{name: "stateなし", userID: "u1", state: "", wantErr: auth.ErrStateMismatch},
		{name: "改ざん", userID: "u1", state: strings.Replace(stateForU1, ".", ".x", 1), wantErr: auth.ErrStateMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := tokenEndpoint(t, http.StatusOK, map[string]any{"access_token": "a", "token_type": "Bearer"})
			svc := newTestService([]Integration{testIntegration(model.ServiceGmail, srv.URL, true)}, &mockTokenRepo{}, secret)

			err := svc.Complete(context.Background(), model.ServiceGmail, tt.userID, "code", tt.state)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if n := atomic.LoadInt32(hits); n != tt.wantCalls {
				t.Errorf("token endpoint calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestComplete_NotConfigured(t *testing.T) {
	svc := newTestService([]Integration{testIntegration(model.ServiceGmail, "http://unused", false)}, &mockTokenRepo{}, "")
	if err := svc.Complete(context.Background(), model.ServiceGmail, "u1", "code", ""); !errors.Is(err, model.ErrIntegrationNotConfigured) {
		t.Errorf("expected ErrIntegrationNotConfigured, got %v", err)
	}
}

// --- Status / Disconnect ---

func TestStatus_ReportsEveryService(t *testing.T) {
	updatedAt := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	repo := &mockTokenRepo{
		listConnectedFn: func(_ context.Context, userID string) ([]repository.ConnectedService, error) {
			return []repository.ConnectedService{{Service: model.ServiceGmail, UpdatedAt: updatedAt}}, nil
		},
	}
	svc := newTestService([]Integration{
		testIntegration(model.ServiceCalendar, "http://unused", false),
		testIntegration(model.ServiceGmail, "http://unused", true),
	}, repo, "")

	statuses, err := svc.Status(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}

	byService := map[model.Service]Status{}
	for _, s := range statuses {
		byService[s.Service] = s
	}
	if cal := byService[model.ServiceCalendar]; cal.Connected || cal.Configured {
		t.Errorf("calendar status = %+v, want not configured / not connected", cal)
	}
	gm := byService[model.ServiceGmail]
	if !gm.Connected || !gm.Configured || gm.UpdatedAt == nil || !gm.UpdatedAt.Equal(updatedAt) {
		t.Errorf("gmail status = %+v", gm)
	}
}

func TestUnconfigured_ListsMissingClients(t *testing.T) {
	svc := newTestService([]Integration{
		testIntegration(model.ServiceCalendar, "http://unused", true),
		testIntegration(model.ServiceGmail, "http://unused", false),
	}, &mockTokenRepo{}, "")

	got := svc.Unconfigured()
	if len(got) != 1 || got[0] != model.ServiceGmail {
		t.Errorf("Unconfigured() = %v, want [gmail]", got)
	}

	if got := newTestService(nil, &mockTokenRepo{}, "").Unconfigured(); len(got) != len(model.Services) {
		t.Errorf("Unconfigured() without integrations = %v, want every service", got)
	}
}

func TestDisconnect_DeletesBundle(t *testing.T) {
	var deleted model.Service
	repo := &mockTokenRepo{
		deleteFn: func(_ context.Context, userID string, service model.Service) error {
			deleted = service
			return nil
		},
	}
	svc := newTestService([]Integration{testIntegration(model.ServiceCalendar, "http://unused", true)}, repo, "")

	if err := svc.Disconnect(context.Background(), "u1", model.ServiceCalendar); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != model.ServiceCalendar {
		t.Errorf("deleted = %q, want calendar", deleted)
	}
}

func TestDefaults_DerivesRedirectFromBaseURL(t *testing.T) {
	cfg := &config.Config{
		BaseURL: "https://tracy.example.com",
		Gmail:   config.OAuthClient{ClientID: "id", ClientSecret: "secret", RedirectURL: "https://custom/cb"},
	}

	integrations := Defaults(cfg)
	if len(integrations) != 2 {
		t.Fatalf("len = %d, want 2", len(integrations))
	}
	for _, i := range integrations {
		switch i.Service {
		case model.ServiceCalendar:
			if i.Client.RedirectURL != "https://tracy.example.com/integration/calendar/oauth2callback" {
				t.Errorf("calendar redirect = %q", i.Client.RedirectURL)
			}
			if i.Configured() {
				t.Error("calendar should not be configured")
			}
			if i.SuccessPath != "/calendar" {
				t.Errorf("calendar success path = %q", i.SuccessPath)
			}
		case model.ServiceGmail:
			if i.Client.RedirectURL != "https://custom/cb" {
				t.Errorf("gmail redirect = %q", i.Client.RedirectURL)
			}
			if len(i.Scopes) != 2 || !strings.Contains(i.Scopes[1], "gmail.send") {
				t.Errorf("gmail scopes = %v", i.Scopes)
			}
			if i.SuccessPath != "/profile" {
				t.Errorf("gmail success path = %q", i.SuccessPath)
			}
		}
	}
}
