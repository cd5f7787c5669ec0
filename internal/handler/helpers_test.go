package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"

	"github.com/tracyai/tracy/internal/assistant"
	"github.com/tracyai/tracy/internal/auth"
	"github.com/tracyai/tracy/internal/config"
	"github.com/tracyai/tracy/internal/google"
	"github.com/tracyai/tracy/internal/integration"
	"github.com/tracyai/tracy/internal/journal"
	"github.com/tracyai/tracy/internal/middleware"
	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
	"github.com/tracyai/tracy/internal/security"
	"github.com/tracyai/tracy/internal/task"
)

// --- モック定義 ---

var errFake = errors.New("fake failure")

// mockVerifier はトークン文字列から操作主体を引く。呼び出されたトークンを記録する。
type mockVerifier struct {
	mu         sync.Mutex
	identities map[string]string
	calls      []string
}

func (m *mockVerifier) Verify(_ context.Context, token string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, token)
	if userID, ok := m.identities[token]; ok {
		return &model.Identity{UserID: userID}, nil
	}
	return nil, auth.ErrInvalidToken
}

// mockUserStore はusersテーブルの代わりに作成済みユーザーIDを保持する。
type mockUserStore struct {
	mu          sync.Mutex
	user        *model.User
	rows        map[string]bool
	ensureErr   error
	ensureCalls int
	calls       int
}

func (m *mockUserStore) Ensure(_ context.Context, user *model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls++
	if m.ensureErr != nil {
		return nil, m.ensureErr
	}
	if m.rows == nil {
		m.rows = map[string]bool{}
	}
	m.rows[user.ID] = true
	return user, nil
}

func (m *mockUserStore) FindMostRecentlyUpdated(_ context.Context) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.user, nil
}

// exists はユーザー行が作成済みかを返す。
func (m *mockUserStore) exists(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[userID]
}

type mockTokenRepo struct {
	mu        sync.Mutex
	bundles   map[string]*model.TokenBundle
	upsertErr error
	deleted   []string

	// users が設定されている場合、ユーザー行の無いUpsertは外部キー違反として失敗する。
	users *mockUserStore
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{bundles: map[string]*model.TokenBundle{}}
}

func (m *mockTokenRepo) Upsert(_ context.Context, userID string, service model.Service, bundle *model.TokenBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.users != nil && !m.users.exists(userID) {
		return model.NewStorageError("upsert token", errors.New("violates foreign key constraint oauth_tokens_user_id_fkey"))
	}
	m.bundles[userID+"/"+string(service)] = bundle
	return nil
}

func (m *mockTokenRepo) Get(_ context.Context, userID string, service model.Service) (*model.TokenBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[userID+"/"+string(service)]
	if !ok {
		return nil, model.ErrTokenNotFound
	}
	return b, nil
}

func (m *mockTokenRepo) Delete(_ context.Context, userID string, service model.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bundles, userID+"/"+string(service))
	m.deleted = append(m.deleted, userID+"/"+string(service))
	return nil
}

func (m *mockTokenRepo) ListConnected(_ context.Context, userID string) ([]repository.ConnectedService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ConnectedService
	for _, svc := range model.Services {
		if _, ok := m.bundles[userID+"/"+string(svc)]; ok {
			out = append(out, repository.ConnectedService{Service: svc})
		}
	}
	return out, nil
}

type mockCalendarRepo struct {
	listFn   func(ctx context.Context, userID string) ([]model.Calendar, error)
	updateFn func(ctx context.Context, userID string, updates []model.CalendarUpdate) error
	syncFn   func(ctx context.Context, userID string, remote []model.RemoteCalendar) error
}

func (m *mockCalendarRepo) ListByUserID(ctx context.Context, userID string) ([]model.Calendar, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.Calendar{}, nil
}

func (m *mockCalendarRepo) UpdateForUser(ctx context.Context, userID string, updates []model.CalendarUpdate) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, updates)
	}
	return nil
}

func (m *mockCalendarRepo) SyncFromRemote(ctx context.Context, userID string, remote []model.RemoteCalendar) error {
	if m.syncFn != nil {
		return m.syncFn(ctx, userID, remote)
	}
	return nil
}

type mockTaskService struct {
	listFn   func(ctx context.Context, userID string) ([]model.Task, error)
	createFn func(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error)
	updateFn func(ctx context.Context, userID, taskID string, in task.UpdateInput) (*model.Task, error)
}

func (m *mockTaskService) List(ctx context.Context, userID string) ([]model.Task, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.Task{}, nil
}

func (m *mockTaskService) Create(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.Task{ID: "t1", UserID: userID, Title: in.Title}, nil
}

func (m *mockTaskService) Update(ctx context.Context, userID, taskID string, in task.UpdateInput) (*model.Task, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, taskID, in)
	}
	return nil, model.ErrNotFound
}

type mockJournalService struct {
	listFn   func(ctx context.Context, userID string) ([]model.JournalEntry, error)
	createFn func(ctx context.Context, userID string, in journal.CreateInput) (*model.JournalEntry, error)
}

func (m *mockJournalService) List(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.JournalEntry{}, nil
}

func (m *mockJournalService) Create(ctx context.Context, userID string, in journal.CreateInput) (*model.JournalEntry, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.JournalEntry{ID: "j1", UserID: userID, Content: in.Content}, nil
}

type mockChatService struct {
	replyFn func(ctx context.Context, userID string, history []assistant.Message) (string, error)
}

func (m *mockChatService) Reply(ctx context.Context, userID string, history []assistant.Message) (string, error) {
	if m.replyFn != nil {
		return m.replyFn(ctx, userID, history)
	}
	return "ok", nil
}

type mockUserService struct {
	meFn         func(ctx context.Context, identity *model.Identity) (*model.User, error)
	onboardingFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockUserService) Me(ctx context.Context, identity *model.Identity) (*model.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, identity)
	}
	return &model.User{ID: identity.UserID, Email: identity.Email}, nil
}

func (m *mockUserService) CompleteOnboarding(ctx context.Context, userID string) (*model.User, error) {
	if m.onboardingFn != nil {
		return m.onboardingFn(ctx, userID)
	}
	return &model.User{ID: userID, OnboardingCompleted: true}, nil
}

// --- テスト用サーバー ---

// countingServer は呼び出し回数を数えるhttptest.Server。
type countingServer struct {
	*httptest.Server
	hits int32
}

func (s *countingServer) Hits() int32 { return atomic.LoadInt32(&s.hits) }

func newCountingServer(t *testing.T, handler http.HandlerFunc) *countingServer {
	t.Helper()
	s := &countingServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.hits, 1)
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

// newTokenServer はOAuthトークンエンドポイントを模したサーバーを起動する。
func newTokenServer(t *testing.T, status int, body map[string]any) *countingServer {
	return newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	})
}

func testIntegrations(tokenURL string, configured bool) []integration.Integration {
	client := config.OAuthClient{RedirectURL: "http://api.test/integration/cb"}
	if configured {
		client.ClientID = "client-id"
		client.ClientSecret = "client-secret"
	}
	endpoint := oauth2.Endpoint{
		AuthURL:   "https://accounts.example.com/o/oauth2/auth",
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return []integration.Integration{
		{Service: model.ServiceCalendar, Scopes: []string{"calendar.readonly"}, SuccessPath: "/calendar", ErrorPath: "/calendar", Client: client, Endpoint: endpoint},
		{Service: model.ServiceGmail, Scopes: []string{"gmail.readonly", "gmail.send"}, SuccessPath: "/profile", ErrorPath: "/profile", Client: client, Endpoint: endpoint},
	}
}

// testEnv はルーター全体を組み立てたテスト環境。
type testEnv struct {
	verifier  *mockVerifier
	users     *mockUserStore
	tokens    *mockTokenRepo
	calendars *mockCalendarRepo
	tasks     *mockTaskService
	journals  *mockJournalService
	chat      *mockChatService
	userSvc   *mockUserService

	tokenServer  *countingServer
	googleServer *countingServer
	state        *auth.StateCodec
	integrations *integration.Service
	router       http.Handler
}

type envOptions struct {
	configured      bool
	fallbackEnabled bool
	stateSecret     string
	tokenStatus     int
	tokenBody       map[string]any
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.tokenStatus == 0 {
		opts.tokenStatus = http.StatusOK
	}
	if opts.tokenBody == nil {
		opts.tokenBody = map[string]any{"access_token": "access-1", "refresh_token": "refresh-1", "token_type": "Bearer", "expires_in": 3600}
	}

	env := &testEnv{
		verifier: &mockVerifier{identities: map[string]string{
			"abc":       "u1",
			"cookie-u1": "u1",
			"cookie-u2": "u2",
		}},
		users:     &mockUserStore{user: &model.User{ID: "recent"}},
		tokens:    newMockTokenRepo(),
		calendars: &mockCalendarRepo{},
		tasks:     &mockTaskService{},
		journals:  &mockJournalService{},
		chat:      &mockChatService{},
		userSvc:   &mockUserService{},
		state:     auth.NewStateCodec(opts.stateSecret),
	}
	env.tokens.users = env.users
	env.tokenServer = newTokenServer(t, opts.tokenStatus, opts.tokenBody)
	env.googleServer = newCountingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	resolver := auth.NewResolver(env.verifier, env.users, auth.ResolverConfig{FallbackEnabled: opts.fallbackEnabled})
	env.integrations = integration.NewService(
		testIntegrations(env.tokenServer.URL, opts.configured),
		env.tokens,
		env.state,
		env.tokenServer.Client(),
		nil,
	)
	gateway := google.NewGateway(env.tokens, env.integrations, security.NewTextSanitizer(), nil, google.Options{
		Endpoint: env.googleServer.URL + "/",
	})

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	env.router = NewRouter(&RouterDeps{
		Resolver:           resolver,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		RateLimiter:        rl,
		IntegrationService: env.integrations,
		Calendars:          env.calendars,
		CalendarGateway:    gateway,
		GmailGateway:       gateway,
		TaskService:        env.tasks,
		JournalService:     env.journals,
		ChatService:        env.chat,
		UserService:        env.userSvc,
	})
	return env
}

// do はリクエストを送り、レスポンスを返す。
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func withSessionCookie(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "sb-access-token", Value: token})
	return req
}

func decodeAPIError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (raw %q)", err, w.Body.String())
	}
	return body
}

var (
	_ auth.UserStore                = (*mockUserStore)(nil)
	_ repository.TokenRepository    = (*mockTokenRepo)(nil)
	_ repository.CalendarRepository = (*mockCalendarRepo)(nil)
	_ TaskServiceInterface          = (*mockTaskService)(nil)
	_ JournalServiceInterface       = (*mockJournalService)(nil)
	_ ChatServiceInterface          = (*mockChatService)(nil)
	_ UserServiceInterface          = (*mockUserService)(nil)
)
