package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/tracyai/tracy/internal/model"
)

const taskColumns = `id, user_id, title, summary, score, completed, due_date, created_at, updated_at`

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
// 全てのクエリはuser_idで絞り込む。
type PostgresTaskRepo struct {
	db *sqlx.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sqlx.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// ListByUserID はユーザーのタスク一覧を返す。
// 未完了を先に、期限の近い順（期限なしは最後）に並べる。
func (r *PostgresTaskRepo) ListByUserID(ctx context.Context, userID string) ([]model.Task, error) {
	tasks := []model.Task{}
	err := r.db.SelectContext(ctx, &tasks,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = $1
		 ORDER BY completed, due_date NULLS LAST, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, model.NewStorageError("list tasks", err)
	}
	return tasks, nil
}

// ListOpenByUserID は未完了タスクを期限の近い順に最大limit件返す。
func (r *PostgresTaskRepo) ListOpenByUserID(ctx context.Context, userID string, limit int) ([]model.Task, error) {
	tasks := []model.Task{}
	err := r.db.SelectContext(ctx, &tasks,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = $1 AND completed = FALSE
		 ORDER BY due_date NULLS LAST, created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, model.NewStorageError("list open tasks", err)
	}
	return tasks, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (:id, :user_id, :title, :summary, :score, :completed, :due_date, :created_at, :updated_at)`,
		task,
	)
	if err != nil {
		return model.NewStorageError("create task", err)
	}
	return nil
}

// Update はユーザーが所有するタスクを部分更新する。
func (r *PostgresTaskRepo) Update(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	var task model.Task
	err := r.db.GetContext(ctx, &task,
		`UPDATE tasks SET
		     title = COALESCE($3::text, title),
		     completed = COALESCE($4::boolean, completed),
		     score = COALESCE($5::integer, score),
		     due_date = COALESCE($6::timestamptz, due_date),
		     updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		taskID, userID, patch.Title, patch.Completed, patch.Score, patch.DueDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, model.NewStorageError("update task", err)
	}
	return &task, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
