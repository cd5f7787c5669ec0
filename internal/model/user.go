// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// IDは認証プロバイダー（Supabase）のsubjectをそのまま使用する。
type User struct {
	ID                  string    `db:"id" json:"id"`
	Email               string    `db:"email" json:"email"`
	Name                string    `db:"name" json:"name"`
	OnboardingCompleted bool      `db:"onboarding_completed" json:"onboarding_completed"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// Identity はリクエストから解決された操作主体を表す。
type Identity struct {
	UserID string
	Email  string
	Name   string
	// Source は解決に使われた手段（bearer, cookie, fallback）。
	Source IdentitySource
}

// IdentitySource はIdentityの解決手段。
type IdentitySource string

const (
	// IdentitySourceBearer はAuthorizationヘッダーのBearerトークン。
	IdentitySourceBearer IdentitySource = "bearer"
	// IdentitySourceCookie はセッションCookie。
	IdentitySourceCookie IdentitySource = "cookie"
	// IdentitySourceFallback は開発用の「最近更新されたユーザー」フォールバック。
	IdentitySourceFallback IdentitySource = "fallback"
)
