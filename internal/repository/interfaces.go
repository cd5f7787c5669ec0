// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/tracyai/tracy/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Ensure はユーザーを作成、または既存ユーザーのemail/nameとupdated_atを更新する。
	Ensure(ctx context.Context, user *model.User) (*model.User, error)

	// FindMostRecentlyUpdated はupdated_atが最も新しいユーザーを返す。存在しない場合はnilを返す。
	// 開発用フォールバック認証でのみ使用する。
	FindMostRecentlyUpdated(ctx context.Context) (*model.User, error)

	// CompleteOnboarding はオンボーディング完了フラグを立てる。
	CompleteOnboarding(ctx context.Context, id string) (*model.User, error)
}

// TokenRepository はOAuthトークン（Token Store）の永続化インターフェース。
// (user_id, service) ごとに高々1件を保持する。
type TokenRepository interface {
	// Upsert はトークンを保存する。既存の場合は全体を置き換える（フィールド単位のマージはしない）。
	Upsert(ctx context.Context, userID string, service model.Service, bundle *model.TokenBundle) error

	// Get はトークンを取得する。存在しない場合はmodel.ErrTokenNotFoundを返す。
	Get(ctx context.Context, userID string, service model.Service) (*model.TokenBundle, error)

	// Delete はトークンを削除する。存在しない場合も成功とする。
	Delete(ctx context.Context, userID string, service model.Service) error

	// ListConnected はユーザーが接続済みの連携先一覧を返す。
	ListConnected(ctx context.Context, userID string) ([]ConnectedService, error)
}

// CalendarRepository はカレンダーメタデータの永続化インターフェース。
type CalendarRepository interface {
	// ListByUserID はユーザーのカレンダー一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Calendar, error)

	// UpdateForUser はユーザーが所有するカレンダーのselected/colorを更新する。
	// 他ユーザーのカレンダーIDが含まれる場合はmodel.ErrNotFoundを返し、何も更新しない。
	UpdateForUser(ctx context.Context, userID string, updates []model.CalendarUpdate) error

	// SyncFromRemote はプロバイダーのカレンダー一覧をUPSERTする。selectedは既存値を維持する。
	SyncFromRemote(ctx context.Context, userID string, remote []model.RemoteCalendar) error
}

// TaskRepository はタスクの永続化インターフェース。
type TaskRepository interface {
	// ListByUserID はユーザーのタスク一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Task, error)

	// ListOpenByUserID は未完了タスクを期限の近い順に最大limit件返す。
	ListOpenByUserID(ctx context.Context, userID string, limit int) ([]model.Task, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// Update はユーザーが所有するタスクを部分更新する。
	// 存在しない、または他ユーザーのタスクの場合はmodel.ErrNotFoundを返す。
	Update(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error)
}

// JournalRepository はジャーナルの永続化インターフェース。
type JournalRepository interface {
	// ListByUserID はユーザーのエントリを新しい順に最大limit件返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]model.JournalEntry, error)

	// Create はエントリを作成する。
	Create(ctx context.Context, entry *model.JournalEntry) error
}

// ConnectedService は接続済み連携先の概要。トークン本体は含まない。
type ConnectedService struct {
	Service   model.Service `db:"service"`
	UpdatedAt time.Time     `db:"updated_at"`
}
