package model

import "time"

// Task はユーザーのタスクを表す。
type Task struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Title     string     `db:"title" json:"title"`
	Summary   string     `db:"summary" json:"summary"`
	Score     int        `db:"score" json:"score"`
	Completed bool       `db:"completed" json:"completed"`
	DueDate   *time.Time `db:"due_date" json:"due_date,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// TaskPatch はタスクの部分更新内容。nilのフィールドは変更しない。
type TaskPatch struct {
	Title     *string
	Completed *bool
	Score     *int
	DueDate   *time.Time
}

// JournalEntry はジャーナルの1エントリ。
type JournalEntry struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Content   string    `db:"content" json:"content"`
	Summary   string    `db:"summary" json:"summary"`
	Score     *int      `db:"score" json:"score,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Calendar はユーザーごとに保存されるGoogleカレンダーのメタデータ。
type Calendar struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	GoogleCalendarID string    `db:"google_calendar_id" json:"google_calendar_id"`
	Summary          string    `db:"summary" json:"summary"`
	Color            string    `db:"color" json:"color"`
	Selected         bool      `db:"selected" json:"selected"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// CalendarUpdate はPUT /calendars で受け取る1件分の更新内容。
type CalendarUpdate struct {
	ID       string
	Selected *bool
	Color    *string
}
