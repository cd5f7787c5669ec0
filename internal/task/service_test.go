package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/security"
)

// --- モック定義 ---

type mockTaskRepo struct {
	listFn     func(ctx context.Context, userID string) ([]model.Task, error)
	listOpenFn func(ctx context.Context, userID string, limit int) ([]model.Task, error)
	createFn   func(ctx context.Context, task *model.Task) error
	updateFn   func(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error)
}

func (m *mockTaskRepo) ListByUserID(ctx context.Context, userID string) ([]model.Task, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.Task{}, nil
}

func (m *mockTaskRepo) ListOpenByUserID(ctx context.Context, userID string, limit int) ([]model.Task, error) {
	if m.listOpenFn != nil {
		return m.listOpenFn(ctx, userID, limit)
	}
	return []model.Task{}, nil
}

func (m *mockTaskRepo) Create(ctx context.Context, task *model.Task) error {
	if m.createFn != nil {
		return m.createFn(ctx, task)
	}
	return nil
}

func (m *mockTaskRepo) Update(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, taskID, patch)
	}
	return nil, model.ErrNotFound
}

const validTaskID = "6f1c1f9e-7c1b-4a53-9d0e-2b1b2c3d4e5f"

// --- テスト ---

func TestCreate_BuildsTaskForUser(t *testing.T) {
	var saved *model.Task
	repo := &mockTaskRepo{
		createFn: func(_ context.Context, task *model.Task) error {
			saved = task
			return nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }

	score := 4
	due := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	task, err := svc.Create(context.Background(), "u1", CreateInput{Title: " <b>Write</b> report ", Score: &score, DueDate: &due})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil || saved.ID == "" {
		t.Fatal("task should be persisted with an ID")
	}
	if task.UserID != "u1" || task.Title != "Write report" || task.Score != 4 {
		t.Errorf("task = %+v", task)
	}
	if task.DueDate == nil || !task.DueDate.Equal(due) {
		t.Errorf("due date = %v", task.DueDate)
	}
	if task.Completed {
		t.Error("new task should not be completed")
	}
	if !task.CreatedAt.Equal(svc.now()) {
		t.Errorf("created_at = %v", task.CreatedAt)
	}
}

func TestCreate_TitleIsSingleLineSummaryKeepsLines(t *testing.T) {
	svc := NewService(&mockTaskRepo{}, security.NewTextSanitizer())

	task, err := svc.Create(context.Background(), "u1", CreateInput{
		Title:   "Plan\nweek",
		Summary: "- review goals\n- book gym",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Title != "Plan week" {
		t.Errorf("title = %q", task.Title)
	}
	if task.Summary != "- review goals\n- book gym" {
		t.Errorf("summary = %q", task.Summary)
	}
}

func TestCreate_RejectsEmptyTitle(t *testing.T) {
	svc := NewService(&mockTaskRepo{}, security.NewTextSanitizer())

	if _, err := svc.Create(context.Background(), "u1", CreateInput{Title: "<i></i>"}); !model.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestUpdate_PassesOwnershipToRepository(t *testing.T) {
	done := true
	repo := &mockTaskRepo{
		updateFn: func(_ context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
			if userID != "u1" || taskID != validTaskID {
				t.Errorf("update key = (%q, %q)", userID, taskID)
			}
			if patch.Completed == nil || !*patch.Completed || patch.Title != nil {
				t.Errorf("patch = %+v", patch)
			}
			return &model.Task{ID: taskID, UserID: userID, Completed: true}, nil
		},
	}
	svc := NewService(repo, security.NewTextSanitizer())

	task, err := svc.Update(context.Background(), "u1", validTaskID, UpdateInput{Completed: &done})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !task.Completed {
		t.Error("task should be completed")
	}
}

func TestUpdate_Errors(t *testing.T) {
	empty := ""
	tooHigh := 11
	done := true

	tests := []struct {
		name    string
		taskID  string
		in      UpdateInput
		check   func(error) bool
		checkOK string
	}{
		{name: "UUIDでないID", taskID: "42", in: UpdateInput{Completed: &done}, check: func(err error) bool { return errors.Is(err, model.ErrNotFound) }, checkOK: "ErrNotFound"},
		{name: "空のタイトル", taskID: validTaskID, in: UpdateInput{Title: &empty}, check: model.IsValidation, checkOK: "ValidationError"},
		{name: "スコア範囲外", taskID: validTaskID, in: UpdateInput{Score: &tooHigh}, check: model.IsValidation, checkOK: "ValidationError"},
		{name: "更新項目なし", taskID: validTaskID, in: UpdateInput{}, check: model.IsValidation, checkOK: "ValidationError"},
		{name: "他ユーザーのタスク", taskID: validTaskID, in: UpdateInput{Completed: &done}, check: func(err error) bool { return errors.Is(err, model.ErrNotFound) }, checkOK: "ErrNotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&mockTaskRepo{}, security.NewTextSanitizer())
			_, err := svc.Update(context.Background(), "u1", tt.taskID, tt.in)
			if !tt.check(err) {
				t.Errorf("expected %s, got %v", tt.checkOK, err)
			}
		})
	}
}
