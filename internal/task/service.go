// Package task はタスク管理のドメインロジックを提供する。
package task

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
	"github.com/tracyai/tracy/internal/security"
	"github.com/tracyai/tracy/internal/validation"
)

const maxSummaryRunes = 280

// CreateInput はタスク作成リクエスト。
type CreateInput struct {
	Title   string     `json:"title" validate:"required,max=500"`
	Summary string     `json:"summary" validate:"max=2000"`
	Score   *int       `json:"score" validate:"omitempty,min=0,max=10"`
	DueDate *time.Time `json:"due_date"`
}

// UpdateInput はタスクの部分更新リクエスト。nilの項目は変更しない。
type UpdateInput struct {
	Title     *string    `json:"title" validate:"omitempty,min=1,max=500"`
	Completed *bool      `json:"completed"`
	Score     *int       `json:"score" validate:"omitempty,min=0,max=10"`
	DueDate   *time.Time `json:"due_date"`
}

// Service はタスクのサービス層。全ての操作は呼び出し元ユーザーのタスクに限定される。
type Service struct {
	repo      repository.TaskRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.TaskRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{repo: repo, sanitizer: sanitizer, now: time.Now}
}

// List はユーザーのタスク一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.Task, error) {
	return s.repo.ListByUserID(ctx, userID)
}

// Create はタスクを作成する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Task, error) {
	in.Title = s.sanitizer.SanitizeLine(in.Title)
	in.Summary = s.sanitizer.Sanitize(in.Summary)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	task := &model.Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     in.Title,
		Summary:   security.Truncate(in.Summary, maxSummaryRunes),
		DueDate:   in.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Score != nil {
		task.Score = *in.Score
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Update はタスクを部分更新する。他ユーザーのタスクはmodel.ErrNotFoundとなる。
func (s *Service) Update(ctx context.Context, userID, taskID string, in UpdateInput) (*model.Task, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, model.ErrNotFound
	}
	if in.Title != nil {
		title := s.sanitizer.SanitizeLine(*in.Title)
		in.Title = &title
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Title == nil && in.Completed == nil && in.Score == nil && in.DueDate == nil {
		return nil, model.NewValidationError("no fields to update")
	}

	return s.repo.Update(ctx, userID, taskID, model.TaskPatch{
		Title:     in.Title,
		Completed: in.Completed,
		Score:     in.Score,
		DueDate:   in.DueDate,
	})
}
