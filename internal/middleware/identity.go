// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tracyai/tracy/internal/metrics"
	"github.com/tracyai/tracy/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに操作主体を格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityResolver は操作主体の解決に必要なインターフェース。
// auth.Resolverが実装する。
type IdentityResolver interface {
	Resolve(r *http.Request) (*model.Identity, error)
	ResolveWithFallback(r *http.Request) (*model.Identity, error)
}

// NewIdentityMiddleware はBearerトークンまたはセッションCookieから操作主体を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 解決できないリクエストには401を返し、後続のハンドラーは実行しない。
func NewIdentityMiddleware(resolver IdentityResolver, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return identityMiddleware(resolver.Resolve, collector)
}

// NewFallbackIdentityMiddleware はNewIdentityMiddlewareと同様だが、
// 開発用フォールバックユーザーによる解決も許可する。カレンダー一覧の取得でのみ使う。
func NewFallbackIdentityMiddleware(resolver IdentityResolver, collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return identityMiddleware(resolver.ResolveWithFallback, collector)
}

func identityMiddleware(resolve func(*http.Request) (*model.Identity, error), collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolve(r)
			if err != nil {
				if errors.Is(err, model.ErrUnauthenticated) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
					return
				}
				slog.Error("failed to resolve identity",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			collector.RecordIdentityResolution(string(identity.Source))
			noteUserID(r.Context(), identity.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// IdentityFromContext はリクエストコンテキストから操作主体を取得する。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil && identity.UserID != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 操作主体ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.UserID, nil
}

// ContextWithIdentity はコンテキストに操作主体を注入する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// ContextWithUserID はユーザーIDだけを持つ操作主体をコンテキストに注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithIdentity(ctx, &model.Identity{UserID: userID})
}
