// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tracyai/tracy/internal/auth"
	"github.com/tracyai/tracy/internal/google"
	"github.com/tracyai/tracy/internal/integration"
	"github.com/tracyai/tracy/internal/middleware"
	"github.com/tracyai/tracy/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvに読み込む。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// requireUserID はコンテキストから操作主体のユーザーIDを取り出す。
// 取り出せない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 詳細はサーバー側のログにのみ残し、クライアントには汎用メッセージを返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *model.ValidationError
		emailErr      *google.InvalidEmailError
		upstreamErr   *model.UpstreamError
	)

	switch {
	case errors.Is(err, model.ErrUnauthenticated):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	case errors.As(err, &validationErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(validationErr.Reason))
	case errors.As(err, &emailErr):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(emailErr.Reason))
	case errors.Is(err, model.ErrNotFound):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("リソース"))
	case errors.Is(err, integration.ErrUnknownService):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUnknownIntegrationError(chi.URLParam(r, "service")))
	case errors.Is(err, model.ErrAssistantNotConfigured):
		slog.Error("assistant is not configured", slog.String("path", r.URL.Path))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewNotConfiguredError("AIアシスタント"))
	case errors.Is(err, model.ErrIntegrationNotConfigured):
		slog.Error("integration is not configured",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewNotConfiguredError("外部連携"))
	case errors.As(err, &upstreamErr):
		slog.Error("upstream provider call failed",
			slog.String("path", r.URL.Path),
			slog.String("provider", upstreamErr.Provider),
			slog.String("operation", upstreamErr.Operation),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewUpstreamFailedError())
	default:
		slog.Error("internal server error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// handleIntegrationError は連携先を特定できるエラーをその連携名付きで返す。
// それ以外はhandleServiceErrorに委ねる。
func handleIntegrationError(w http.ResponseWriter, r *http.Request, service model.Service, err error) {
	switch {
	case errors.Is(err, model.ErrIntegrationNotConnected):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewIntegrationNotConnectedError(service))
	case errors.Is(err, model.ErrIntegrationNotConfigured):
		slog.Error("integration is not configured", slog.String("service", string(service)))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewNotConfiguredError(string(service)))
	default:
		handleServiceError(w, r, err)
	}
}

// callbackErrorCode はOAuthコールバックの失敗をリダイレクト先に渡すエラーコードへ変換する。
func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, integration.ErrMissingCode):
		return "missing_code"
	case errors.Is(err, model.ErrIntegrationNotConfigured):
		return "not_configured"
	case errors.Is(err, model.ErrUnauthenticated):
		return "not_authenticated"
	case errors.Is(err, auth.ErrStateMismatch):
		return "state_mismatch"
	case model.IsUpstream(err):
		return "token_exchange_failed"
	default:
		return "save_failed"
	}
}
