// Package journal はジャーナルのドメインロジックを提供する。
package journal

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
	"github.com/tracyai/tracy/internal/security"
	"github.com/tracyai/tracy/internal/validation"
)

const (
	// ListLimit はGET /journalで返す最大件数。
	ListLimit = 50
	// MaxSummaryRunes は要約の最大文字数。
	MaxSummaryRunes = 140
)

// CreateInput はエントリ作成リクエスト。
type CreateInput struct {
	Content string `json:"content" validate:"required,max=20000"`
	Score   *int   `json:"score" validate:"omitempty,min=1,max=10"`
}

// Service はジャーナルのサービス層。
type Service struct {
	repo      repository.JournalRepository
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.JournalRepository, sanitizer security.TextSanitizer) *Service {
	return &Service{repo: repo, sanitizer: sanitizer, now: time.Now}
}

// List はユーザーのエントリを新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.JournalEntry, error) {
	return s.repo.ListByUserID(ctx, userID, ListLimit)
}

// Create はエントリを作成する。要約は本文から導出する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.JournalEntry, error) {
	in.Content = s.sanitizer.Sanitize(in.Content)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := &model.JournalEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   in.Content,
		Summary:   Summarize(in.Content),
		Score:     in.Score,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Summarize は本文の最初の文をMaxSummaryRunes文字以内で返す。
func Summarize(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.IndexAny(content, ".!?。！？\n"); i >= 0 {
		// 区切り文字自体は要約に含める（改行は除く）
		end := i
		if content[i] != '\n' {
			_, size := utf8.DecodeRuneInString(content[i:])
			end = i + size
		}
		content = content[:end]
	}
	return security.Truncate(strings.TrimSpace(content), MaxSummaryRunes)
}
