// Package users — service.go содержит бизнес-логику работы с игроками.
package users

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Service управляет игроками.
type Service struct {
	repo *Repository
}

// NewService создаёт сервис игроков.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// GetOrCreate возвращает игрока по кошельку, создавая запись при первом входе.
// referredBy учитывается только при создании: у существующего игрока
// реферальная связь не меняется.
func (s *Service) GetOrCreate(ctx context.Context, wallet, username string, referredBy *int64) (*User, error) {
	if err := s.repo.Create(ctx, &User{
		WalletAddress: wallet,
		Username:      username,
		ReferredBy:    referredBy,
	}); err != nil {
		return nil, err
	}

	u, err := s.repo.GetByWallet(ctx, wallet)
	if err != nil {
		return nil, err
	}

	if u.Username == "" && username != "" {
		if err := s.repo.UpdateUsername(ctx, u.ID, username); err != nil {
			log.WithError(err).WithField("user_id", u.ID).Warn("Не удалось обновить имя игрока")
		} else {
			u.Username = username
		}
	}
	return u, nil
}

// GetByID возвращает игрока по внутреннему ID.
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}
