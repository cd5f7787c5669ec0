// Package auth はリクエストから操作主体を解決する認証機能を提供する。
//
// 解決順序はBearerトークン、セッションCookie、（一部エンドポイントのみ）開発用フォールバックの順で、
// 最初に成功した手段を採用する。OAuthのstateパラメータのエンコード・検証もこのパッケージが担う。
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tracyai/tracy/internal/model"
)

// ErrInvalidToken はトークンが検証できなかったことを示す。
// Resolverはこのエラーを「トークンなし」と同じに扱う。
var ErrInvalidToken = errors.New("invalid access token")

// TokenVerifier はアクセストークンを検証して操作主体を返すインターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*model.Identity, error)
}

// supabaseClaims はSupabaseが発行するアクセストークンのクレーム。
type supabaseClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// JWTVerifier はHS256で署名されたSupabaseのアクセストークンを検証する。
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier はJWTVerifierを生成する。
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify は署名と有効期限を検証し、subをユーザーIDとするIdentityを返す。
// Sourceは呼び出し側（Resolver）が設定する。
func (v *JWTVerifier) Verify(_ context.Context, token string) (*model.Identity, error) {
	claims := &supabaseClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	identity := &model.Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
	}
	if name, ok := claims.UserMetadata["full_name"].(string); ok {
		identity.Name = name
	} else if name, ok := claims.UserMetadata["name"].(string); ok {
		identity.Name = name
	}
	return identity, nil
}

// compile-time interface check
var _ TokenVerifier = (*JWTVerifier)(nil)
