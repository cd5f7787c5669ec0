// Package integration はGoogle Calendar / Gmail連携のOAuth認可フローを提供する。
//
// 連携先ごとに独立した状態遷移（未接続 → 同意待ち → コールバック待ち → トークン取得 → 保存済み）を持ち、
// 認可URLの生成、認可コードの交換、Token Storeへの保存を行う。
// プロバイダー呼び出しはリクエストごとに1回のみで、再試行はしない。
package integration

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"

	"github.com/tracyai/tracy/internal/config"
	"github.com/tracyai/tracy/internal/model"
)

// Integration は1つの連携先の定義。
type Integration struct {
	Service model.Service
	Scopes  []string
	// SuccessPath / ErrorPath はコールバック完了後のリダイレクト先。
	SuccessPath string
	ErrorPath   string
	Client      config.OAuthClient
	Endpoint    oauth2.Endpoint
}

// Configured はクライアントIDとシークレットが揃っているかを返す。
func (i Integration) Configured() bool {
	return i.Client.Configured()
}

// OAuth2Config はx/oauth2の設定を返す。
func (i Integration) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     i.Client.ClientID,
		ClientSecret: i.Client.ClientSecret,
		RedirectURL:  i.Client.RedirectURL,
		Scopes:       i.Scopes,
		Endpoint:     i.Endpoint,
	}
}

// Defaults は設定から標準の連携先一覧を構築する。
func Defaults(cfg *config.Config) []Integration {
	return []Integration{
		{
			Service:     model.ServiceCalendar,
			Scopes:      []string{calendar.CalendarReadonlyScope, calendar.CalendarEventsScope},
			SuccessPath: "/calendar",
			ErrorPath:   "/calendar",
			Client:      withDefaultRedirect(cfg.Calendar, cfg.BaseURL, model.ServiceCalendar),
			Endpoint:    google.Endpoint,
		},
		{
			Service:     model.ServiceGmail,
			Scopes:      []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
			SuccessPath: "/profile",
			ErrorPath:   "/profile",
			Client:      withDefaultRedirect(cfg.Gmail, cfg.BaseURL, model.ServiceGmail),
			Endpoint:    google.Endpoint,
		},
	}
}

// withDefaultRedirect はREDIRECT_URL未設定時にBASE_URLからコールバックURLを組み立てる。
func withDefaultRedirect(client config.OAuthClient, baseURL string, service model.Service) config.OAuthClient {
	if client.RedirectURL == "" && baseURL != "" {
		client.RedirectURL = baseURL + "/integration/" + string(service) + "/oauth2callback"
	}
	return client
}
