// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// Me は操作主体に対応するユーザーを作成または更新して返す。
// updated_atが更新されるため、開発用フォールバックの「最近のユーザー」判定にも使われる。
func (s *Service) Me(ctx context.Context, identity *model.Identity) (*model.User, error) {
	user, err := s.userRepo.Ensure(ctx, &model.User{
		ID:    identity.UserID,
		Email: identity.Email,
		Name:  identity.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return user, nil
}

// CompleteOnboarding はオンボーディング完了を記録する。
func (s *Service) CompleteOnboarding(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.CompleteOnboarding(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete onboarding: %w", err)
	}

	slog.Info("onboarding completed", slog.String("user_id", userID))
	return user, nil
}
