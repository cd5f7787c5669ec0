package model

import (
	"fmt"
	"time"
)

// Service はOAuth連携先の識別子。Token Storeのキーの一部になる。
type Service string

const (
	// ServiceCalendar はGoogle Calendar連携。
	ServiceCalendar Service = "calendar"
	// ServiceGmail はGmail連携。
	ServiceGmail Service = "gmail"
)

// Services は対応している全連携先。
var Services = []Service{ServiceCalendar, ServiceGmail}

// ParseService は文字列をServiceに変換する。未対応の場合はfalseを返す。
func ParseService(s string) (Service, bool) {
	switch Service(s) {
	case ServiceCalendar, ServiceGmail:
		return Service(s), true
	default:
		return "", false
	}
}

// TokenBundle はOAuthプロバイダーから取得したトークン一式。
// このシステムが実際に参照するフィールドのみを持ち、JSONBとして保存する。
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
}

// Validate は境界で受け取ったトークンを検証する。
func (b *TokenBundle) Validate() error {
	if b == nil {
		return fmt.Errorf("token bundle is nil")
	}
	if b.AccessToken == "" {
		return fmt.Errorf("token bundle has empty access token")
	}
	return nil
}

// StoredToken はoauth_tokensテーブルの1行を表す。
// (UserID, Service) ごとに高々1行。
type StoredToken struct {
	UserID    string
	Service   Service
	Tokens    TokenBundle
	UpdatedAt time.Time
}
