package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tracyai/tracy/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したOAuthトークンリポジトリ。
// 同時UPSERTの整合性は単一ステートメントのON CONFLICTに委ねる（後勝ち）。
type PostgresTokenRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sqlx.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db, now: time.Now}
}

// Upsert はトークンを保存する。既存の場合はtokens全体とupdated_atを置き換える。
func (r *PostgresTokenRepo) Upsert(ctx context.Context, userID string, service model.Service, bundle *model.TokenBundle) error {
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("invalid token bundle for %s: %w", service, err)
	}

	payload, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to encode token bundle: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (user_id, service, tokens, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, service) DO UPDATE SET
		     tokens = EXCLUDED.tokens,
		     updated_at = EXCLUDED.updated_at`,
		userID, string(service), payload, r.now().UTC(),
	)
	if err != nil {
		return model.NewStorageError("upsert token", err)
	}
	return nil
}

// Get はトークンを取得する。存在しない場合はmodel.ErrTokenNotFoundを返す。
func (r *PostgresTokenRepo) Get(ctx context.Context, userID string, service model.Service) (*model.TokenBundle, error) {
	var payload []byte
	err := r.db.QueryRowxContext(ctx,
		`SELECT tokens FROM oauth_tokens WHERE user_id = $1 AND service = $2`,
		userID, string(service),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTokenNotFound
	}
	if err != nil {
		return nil, model.NewStorageError("get token", err)
	}

	var bundle model.TokenBundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, model.NewStorageError("decode token", err)
	}
	return &bundle, nil
}

// Delete はトークンを削除する。
func (r *PostgresTokenRepo) Delete(ctx context.Context, userID string, service model.Service) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE user_id = $1 AND service = $2`,
		userID, string(service),
	)
	if err != nil {
		return model.NewStorageError("delete token", err)
	}
	return nil
}

// ListConnected はユーザーが接続済みの連携先一覧を返す。
func (r *PostgresTokenRepo) ListConnected(ctx context.Context, userID string) ([]ConnectedService, error) {
	var connected []ConnectedService
	err := r.db.SelectContext(ctx, &connected,
		`SELECT service, updated_at FROM oauth_tokens WHERE user_id = $1 ORDER BY service`,
		userID,
	)
	if err != nil {
		return nil, model.NewStorageError("list connected services", err)
	}
	return connected, nil
}

// compile-time interface check
var _ TokenRepository = (*PostgresTokenRepo)(nil)
