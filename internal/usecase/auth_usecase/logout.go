package auth

import (
	"context"
	"errors"

	"marketplace/internal/repository"
)

var ErrUserNotFound = errors.New("user not found")

// 全端末ログアウト。token_version を上げて発行済みトークンを無効にする。
type LogoutAllUsecase struct {
	userRepo repository.UserRepository
}

func NewLogoutAllUsecase(userRepo repository.UserRepository) *LogoutAllUsecase {
	return &LogoutAllUsecase{userRepo: userRepo}
}

func (u *LogoutAllUsecase) Execute(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrUserNotFound
	}
	if err := u.userRepo.IncrementTokenVersion(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}
