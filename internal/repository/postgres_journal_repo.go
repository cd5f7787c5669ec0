package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/tracyai/tracy/internal/model"
)

// PostgresJournalRepo はPostgreSQLを使用したジャーナルリポジトリ。
type PostgresJournalRepo struct {
	db *sqlx.DB
}

// NewPostgresJournalRepo はPostgresJournalRepoを生成する。
func NewPostgresJournalRepo(db *sqlx.DB) *PostgresJournalRepo {
	return &PostgresJournalRepo{db: db}
}

// ListByUserID はユーザーのエントリを新しい順に最大limit件返す。
func (r *PostgresJournalRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]model.JournalEntry, error) {
	entries := []model.JournalEntry{}
	err := r.db.SelectContext(ctx, &entries,
		`SELECT id, user_id, content, summary, score, created_at, updated_at
		 FROM journal_entries
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, model.NewStorageError("list journal entries", err)
	}
	return entries, nil
}

// Create はエントリを作成する。
func (r *PostgresJournalRepo) Create(ctx context.Context, entry *model.JournalEntry) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO journal_entries (id, user_id, content, summary, score, created_at, updated_at)
		 VALUES (:id, :user_id, :content, :summary, :score, :created_at, :updated_at)`,
		entry,
	)
	if err != nil {
		return model.NewStorageError("create journal entry", err)
	}
	return nil
}

// compile-time interface check
var _ JournalRepository = (*PostgresJournalRepo)(nil)
