package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/tracyai/tracy/internal/model"
)

// PostgresCalendarRepo はPostgreSQLを使用したカレンダーメタデータリポジトリ。
type PostgresCalendarRepo struct {
	db *sqlx.DB
}

// NewPostgresCalendarRepo はPostgresCalendarRepoを生成する。
func NewPostgresCalendarRepo(db *sqlx.DB) *PostgresCalendarRepo {
	return &PostgresCalendarRepo{db: db}
}

// ListByUserID はユーザーのカレンダー一覧を返す。
func (r *PostgresCalendarRepo) ListByUserID(ctx context.Context, userID string) ([]model.Calendar, error) {
	calendars := []model.Calendar{}
	err := r.db.SelectContext(ctx, &calendars,
		`SELECT id, user_id, google_calendar_id, summary, color, selected, updated_at
		 FROM calendars WHERE user_id = $1
		 ORDER BY summary`,
		userID,
	)
	if err != nil {
		return nil, model.NewStorageError("list calendars", err)
	}
	return calendars, nil
}

// UpdateForUser はユーザーが所有するカレンダーのselected/colorを同一トランザクションで更新する。
// 1件でも対象外のIDがあればロールバックしてmodel.ErrNotFoundを返す。
func (r *PostgresCalendarRepo) UpdateForUser(ctx context.Context, userID string, updates []model.CalendarUpdate) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.NewStorageError("begin calendar update", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		result, err := tx.ExecContext(ctx,
			`UPDATE calendars SET
			     selected = COALESCE($3::boolean, selected),
			     color = COALESCE($4::varchar, color),
			     updated_at = now()
			 WHERE id = $1 AND user_id = $2`,
			u.ID, userID, u.Selected, u.Color,
		)
		if err != nil {
			return model.NewStorageError("update calendar", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return model.NewStorageError("update calendar", err)
		}
		if n == 0 {
			return model.ErrNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewStorageError("commit calendar update", err)
	}
	return nil
}

// SyncFromRemote はプロバイダーのカレンダー一覧をUPSERTする。
// 新規カレンダーはselected=TRUEで作成し、既存カレンダーのselectedは維持する。
func (r *PostgresCalendarRepo) SyncFromRemote(ctx context.Context, userID string, remote []model.RemoteCalendar) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.NewStorageError("begin calendar sync", err)
	}
	defer tx.Rollback()

	for _, rc := range remote {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calendars (user_id, google_calendar_id, summary, color, selected, updated_at)
			 VALUES ($1, $2, $3, $4, TRUE, now())
			 ON CONFLICT (user_id, google_calendar_id) DO UPDATE SET
			     summary = EXCLUDED.summary,
			     color = EXCLUDED.color,
			     updated_at = now()`,
			userID, rc.ID, rc.Summary, rc.Color,
		)
		if err != nil {
			return model.NewStorageError("sync calendar", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewStorageError("commit calendar sync", err)
	}
	return nil
}

// compile-time interface check
var _ CalendarRepository = (*PostgresCalendarRepo)(nil)
