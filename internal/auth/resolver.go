package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tracyai/tracy/internal/model"
)

// UserStore は操作主体に対応するユーザー行の作成と、
// 開発用フォールバックで使う「最近更新されたユーザー」の取得を行うインターフェース。
type UserStore interface {
	Ensure(ctx context.Context, user *model.User) (*model.User, error)
	FindMostRecentlyUpdated(ctx context.Context) (*model.User, error)
}

// ResolverConfig はResolverの設定。
type ResolverConfig struct {
	CookieName string
	// FallbackEnabled はAPP_ENV=developmentかつDEV_FALLBACK_USER=trueの場合のみtrueにする。
	FallbackEnabled bool
}

// Resolver はリクエストから操作主体を解決する。
type Resolver struct {
	verifier TokenVerifier
	users    UserStore
	config   ResolverConfig

	// provisioned はこのプロセスでユーザー行を作成済みのユーザーID。
	provisioned sync.Map
}

// NewResolver はResolverを生成する。
// usersがnilの場合、ユーザー行の作成とフォールバックは行わない。
func NewResolver(verifier TokenVerifier, users UserStore, config ResolverConfig) *Resolver {
	if config.CookieName == "" {
		config.CookieName = "sb-access-token"
	}
	if users == nil {
		config.FallbackEnabled = false
	}
	return &Resolver{verifier: verifier, users: users, config: config}
}

// Resolve はBearerトークン、セッションCookieの順に操作主体を解決する。
// 最初に検証に成功した手段を採用し、後続の手段は試さない。
// どちらも無い、または無効な場合はmodel.ErrUnauthenticatedを返す。
// 解決したユーザーの行がまだ無ければ作成する。作成に失敗した場合はStorageErrorを返す。
func (r *Resolver) Resolve(req *http.Request) (*model.Identity, error) {
	ctx := req.Context()

	if token := bearerToken(req); token != "" {
		if identity := r.verify(ctx, token, model.IdentitySourceBearer); identity != nil {
			return r.provision(ctx, identity)
		}
	}

	return r.ResolveFromCookie(req)
}

// ResolveFromCookie はセッションCookieのみで操作主体を解決する。
// OAuthコールバックのようなフルページ遷移で使う。
func (r *Resolver) ResolveFromCookie(req *http.Request) (*model.Identity, error) {
	cookie, err := req.Cookie(r.config.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, model.ErrUnauthenticated
	}

	if identity := r.verify(req.Context(), cookie.Value, model.IdentitySourceCookie); identity != nil {
		return r.provision(req.Context(), identity)
	}
	return nil, model.ErrUnauthenticated
}

// ResolveWithFallback はResolveが失敗した場合に「最近更新されたユーザー」を操作主体とする。
// フォールバックが無効な構成ではResolveと同一の結果を返す。
// フォールバックを使うたびにwarnログを出力する。
func (r *Resolver) ResolveWithFallback(req *http.Request) (*model.Identity, error) {
	identity, err := r.Resolve(req)
	if err == nil || !r.config.FallbackEnabled || !errors.Is(err, model.ErrUnauthenticated) {
		return identity, err
	}

	user, ferr := r.users.FindMostRecentlyUpdated(req.Context())
	if ferr != nil {
		return nil, ferr
	}
	if user == nil {
		return nil, model.ErrUnauthenticated
	}

	slog.Warn("resolved identity via development fallback user",
		slog.String("user_id", user.ID),
		slog.String("path", req.URL.Path),
	)
	return &model.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Source: model.IdentitySourceFallback,
	}, nil
}

// provision は初回認証時にユーザー行を作成する。
// tasks・journal_entries・oauth_tokensはusersを外部キー参照するため、書き込みより先に行が必要。
// 作成済みのユーザーはプロセス内で記憶し、2回目以降は書き込まない。
func (r *Resolver) provision(ctx context.Context, identity *model.Identity) (*model.Identity, error) {
	if r.users == nil {
		return identity, nil
	}
	if _, ok := r.provisioned.Load(identity.UserID); ok {
		return identity, nil
	}

	if _, err := r.users.Ensure(ctx, &model.User{
		ID:    identity.UserID,
		Email: identity.Email,
		Name:  identity.Name,
	}); err != nil {
		return nil, err
	}
	r.provisioned.Store(identity.UserID, struct{}{})
	slog.Debug("user provisioned", slog.String("user_id", identity.UserID))
	return identity, nil
}

// verify はトークンを検証する。無効なトークンは不在と同じ扱いでnilを返す。
func (r *Resolver) verify(ctx context.Context, token string, source model.IdentitySource) *model.Identity {
	identity, err := r.verifier.Verify(ctx, token)
	if err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, ErrInvalidToken) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "credential rejected",
			slog.String("source", string(source)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	identity.Source = source
	return identity
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// HasBearerToken はリクエストにBearerトークンが付与されているかを返す。
// CSRFミドルウェアがCookie認証のリクエストと区別するために使う。
func HasBearerToken(req *http.Request) bool {
	return bearerToken(req) != ""
}
