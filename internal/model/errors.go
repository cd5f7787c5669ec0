// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, integration, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeNotConfigured           = "NOT_CONFIGURED"
	ErrCodeIntegrationNotConnected = "INTEGRATION_NOT_CONNECTED"
	ErrCodeUpstreamFailed          = "UPSTREAM_FAILED"
	ErrCodeInternal                = "INTERNAL_ERROR"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeUnknownIntegration      = "UNKNOWN_INTEGRATION"
)

// エラー分類の番兵値。
// ハンドラー層でerrors.Is/errors.Asにより判定し、HTTPステータスへ変換する。
var (
	// ErrUnauthenticated はリクエストから操作主体を解決できなかったことを示す。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrIntegrationNotConfigured は連携先のクライアントID/シークレットが未設定であることを示す。
	ErrIntegrationNotConfigured = errors.New("integration is not configured")
	// ErrIntegrationNotConnected はユーザーが連携を済ませていない（トークン未保存）ことを示す。
	ErrIntegrationNotConnected = errors.New("integration is not connected")
	// ErrTokenNotFound はToken Storeに該当するトークンが存在しないことを示す。
	ErrTokenNotFound = errors.New("token not found")
	// ErrNotFound は対象レコードが存在しない（または他ユーザーの所有）ことを示す。
	ErrNotFound = errors.New("not found")
	// ErrAssistantNotConfigured はAIプロバイダーのAPIキーが未設定であることを示す。
	ErrAssistantNotConfigured = errors.New("assistant is not configured")
)

// UpstreamError は外部プロバイダー呼び出しの失敗を表す。再試行はしない。
type UpstreamError struct {
	Provider  string
	Operation string
	Err       error
}

// Error はerrorインターフェースを実装する。
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError はUpstreamErrorを生成する。
func NewUpstreamError(provider, operation string, err error) *UpstreamError {
	return &UpstreamError{Provider: provider, Operation: operation, Err: err}
}

// StorageError はデータストアの障害を表す。
type StorageError struct {
	Op  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError はStorageErrorを生成する。
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// ValidationError はリクエスト内容の検証エラーを表す。HTTP 400に対応する。
type ValidationError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NewValidationError はValidationErrorを生成する。
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

// IsValidation はerrがValidationErrorを含むかどうかを返す。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUpstream はerrがUpstreamErrorを含むかどうかを返す。
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// IsStorage はerrがStorageErrorを含むかどうかを返す。
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInternalError は内部エラーを生成する。原因はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNotConfiguredError は連携設定の不足エラーを生成する。
// 利用者ではなく運用者が対処すべき設定不備であることを明示する。
func NewNotConfiguredError(target string) *APIError {
	return &APIError{
		Code:     ErrCodeNotConfigured,
		Message:  fmt.Sprintf("%s の連携設定がサーバーに構成されていません。", target),
		Category: "system",
		Action:   "管理者にクライアントID・シークレットの設定を依頼してください。",
	}
}

// NewIntegrationNotConnectedError は連携未接続エラーを生成する。
func NewIntegrationNotConnectedError(service Service) *APIError {
	return &APIError{
		Code:     ErrCodeIntegrationNotConnected,
		Message:  fmt.Sprintf("%s が接続されていません。", service),
		Category: "integration",
		Action:   "プロフィール画面から連携を接続してください。",
	}
}

// NewUpstreamFailedError は外部プロバイダー呼び出し失敗エラーを生成する。
func NewUpstreamFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  "外部サービスの呼び出しに失敗しました。",
		Category: "integration",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewNotFoundError は対象未検出エラーを生成する。
func NewNotFoundError(target string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された%sが見つかりません。", target),
		Category: "validation",
		Action:   "IDを確認してください。",
	}
}

// NewUnknownIntegrationError は未対応の連携先エラーを生成する。
func NewUnknownIntegrationError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownIntegration,
		Message:  fmt.Sprintf("未対応の連携先です: %s", name),
		Category: "validation",
		Action:   "calendar または gmail を指定してください。",
	}
}
