package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/tracyai/tracy/internal/integration"
	"github.com/tracyai/tracy/internal/middleware"
	"github.com/tracyai/tracy/internal/model"
)

// IntegrationServiceInterface はOAuth連携ハンドラーが必要とするサービスインターフェース。
type IntegrationServiceInterface interface {
	// Integration は連携先の定義を返す。
	Integration(service model.Service) (integration.Integration, error)
	// AuthURL はプロバイダーの同意画面URLを返す。
	AuthURL(ctx context.Context, service model.Service, userID string) (string, error)
	// Complete は認可コードを交換し、トークンを保存する。
	Complete(ctx context.Context, service model.Service, userID, code, state string) error
	// Status は連携先ごとの接続状態を返す。
	Status(ctx context.Context, userID string) ([]integration.Status, error)
	// Disconnect は保存済みのトークンを削除する。
	Disconnect(ctx context.Context, userID string, service model.Service) error
}

// CredentialResolver はリクエストから操作主体を解決する。
// OAuthのエンドポイントはミドルウェアを通さず、ハンドラー内で解決する。
type CredentialResolver interface {
	middleware.IdentityResolver
	// ResolveFromCookie はセッションCookieのみから操作主体を解決する。
	ResolveFromCookie(r *http.Request) (*model.Identity, error)
}

// IntegrationHandler はOAuth連携のHTTPハンドラー。
type IntegrationHandler struct {
	service     IntegrationServiceInterface
	resolver    CredentialResolver
	frontendURL string
}

// NewIntegrationHandler はIntegrationHandlerを生成する。
// frontendURLはリダイレクト先のオリジン。空の場合は相対パスでリダイレクトする。
func NewIntegrationHandler(service IntegrationServiceInterface, resolver CredentialResolver, frontendURL string) *IntegrationHandler {
	return &IntegrationHandler{
		service:     service,
		resolver:    resolver,
		frontendURL: frontendURL,
	}
}

// Auth はOAuthフローを開始し、プロバイダーの同意画面へ302でリダイレクトする。
// GET /integration/{service}/auth
//
// カレンダーはフロントエンドからfetchで呼ばれるため失敗をJSONで返す。
// Gmailはページ遷移で呼ばれるため、失敗時もプロフィール画面へリダイレクトする。
func (h *IntegrationHandler) Auth(service model.Service) http.HandlerFunc {
	jsonErrors := service == model.ServiceCalendar

	return func(w http.ResponseWriter, r *http.Request) {
		integ, err := h.service.Integration(service)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		fail := func(err error) {
			if jsonErrors {
				handleIntegrationError(w, r, service, err)
				return
			}
			h.redirectError(w, r, integ, err)
		}

		// 設定不足はプロバイダーへ到達する前に失敗させる
		if !integ.Configured() {
			fail(model.ErrIntegrationNotConfigured)
			return
		}

		identity, err := h.resolver.Resolve(r)
		if err != nil {
			fail(err)
			return
		}

		authURL, err := h.service.AuthURL(r.Context(), service, identity.UserID)
		if err != nil {
			fail(err)
			return
		}

		slog.Info("oauth flow started",
			slog.String("service", string(service)),
			slog.String("user_id", identity.UserID),
		)
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// Callback はプロバイダーからのリダイレクトを受け、トークンを交換して保存する。
// 結果は常にフロントエンドへの302リダイレクトで返し、JSONは返さない。
// GET /integration/{service}/oauth2callback?code=xxx&state=yyy
func (h *IntegrationHandler) Callback(service model.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		integ, err := h.service.Integration(service)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		query := r.URL.Query()
		if providerErr := query.Get("error"); providerErr != "" {
			slog.Warn("oauth provider returned an error",
				slog.String("service", string(service)),
				slog.String("provider_error", providerErr),
			)
		}

		if !integ.Configured() {
			h.redirectError(w, r, integ, model.ErrIntegrationNotConfigured)
			return
		}

		code := query.Get("code")
		if code == "" {
			h.redirectError(w, r, integ, integration.ErrMissingCode)
			return
		}

		// コールバックはページ遷移のためCookieから操作主体を再解決する
		identity, err := h.resolver.ResolveFromCookie(r)
		if err != nil {
			h.redirectError(w, r, integ, err)
			return
		}

		if err := h.service.Complete(r.Context(), service, identity.UserID, code, query.Get("state")); err != nil {
			h.redirectError(w, r, integ, err)
			return
		}

		h.redirect(w, r, integ.SuccessPath, url.Values{"connected": {string(service)}})
	}
}

// Status は連携先ごとの接続状態を返す。
// GET /api/integrations
func (h *IntegrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	statuses, err := h.service.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statuses)
}

// Disconnect は連携を解除する。
// DELETE /api/integrations/{service}
func (h *IntegrationHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	service := model.Service(chi.URLParam(r, "service"))
	if err := h.service.Disconnect(r.Context(), userID, service); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// redirectError はエラーコードを付けて連携先のエラーページへリダイレクトする。
func (h *IntegrationHandler) redirectError(w http.ResponseWriter, r *http.Request, integ integration.Integration, err error) {
	code := callbackErrorCode(err)

	level := slog.LevelWarn
	if code == "save_failed" || code == "token_exchange_failed" || code == "not_configured" {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "oauth flow failed",
		slog.String("service", string(integ.Service)),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)

	h.redirect(w, r, integ.ErrorPath, url.Values{"error": {code}})
}

// redirect はフロントエンドのpathへ302でリダイレクトする。
func (h *IntegrationHandler) redirect(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	target := h.frontendURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}
