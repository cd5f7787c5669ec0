package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/tracyai/tracy/internal/model"
)

const userColumns = `id, email, name, onboarding_completed, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sqlx.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sqlx.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStorageError("find user", err)
	}
	return &user, nil
}

// Ensure はユーザーを作成、または既存ユーザーを更新する。
// 空のemail/nameで既存値を上書きしない。
func (r *PostgresUserRepo) Ensure(ctx context.Context, user *model.User) (*model.User, error) {
	var saved model.User
	err := r.db.GetContext(ctx, &saved,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (id) DO UPDATE SET
		     email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
		     name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		     updated_at = now()
		 RETURNING `+userColumns,
		user.ID, user.Email, user.Name,
	)
	if err != nil {
		return nil, model.NewStorageError("ensure user", err)
	}
	return &saved, nil
}

// FindMostRecentlyUpdated はupdated_atが最も新しいユーザーを返す。存在しない場合はnilを返す。
func (r *PostgresUserRepo) FindMostRecentlyUpdated(ctx context.Context) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users ORDER BY updated_at DESC LIMIT 1`,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewStorageError("find most recent user", err)
	}
	return &user, nil
}

// CompleteOnboarding はオンボーディング完了フラグを立てる。
// ユーザーが存在しない場合はmodel.ErrNotFoundを返す。
func (r *PostgresUserRepo) CompleteOnboarding(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user,
		`UPDATE users SET onboarding_completed = TRUE, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, model.NewStorageError("complete onboarding", err)
	}
	return &user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
