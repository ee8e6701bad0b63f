// Package roomconfig — service.go выдаёт активную экономику типа комнаты.
// Мутирующего API у игрового цикла нет: конфиги правит оператор напрямую в БД.
package roomconfig

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"snake-arena/internal/config"
)

// Service — провайдер конфигов комнат с самовосстанавливающимся bootstrap:
// отсутствие активной записи лечится созданием из дефолтов окружения.
type Service struct {
	repo *Repository
	cfg  *config.Config
}

// NewService создаёт провайдер конфигов.
func NewService(repo *Repository, cfg *config.Config) *Service {
	return &Service{repo: repo, cfg: cfg}
}

// GetActiveConfig возвращает активный конфиг типа комнаты,
// создавая запись из дефолтов окружения, если её ещё нет.
func (s *Service) GetActiveConfig(ctx context.Context, roomType string) (*Config, error) {
	c, err := s.repo.GetActive(ctx, roomType)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	// Активной записи нет — создаём из дефолтов. Гонку двух bootstrap'ов
	// разрешает частичный уникальный индекс, после вставки перечитываем.
	if err := s.repo.Insert(ctx, &Config{
		RoomType:           roomType,
		EntryFee:           s.cfg.RoomEntryFee,
		RewardRatePlayer:   s.cfg.RoomRewardRatePlayer,
		RewardRateTreasury: s.cfg.RoomRewardRateTreasury,
		RespawnCost:        s.cfg.RoomRespawnCost,
		MaxClients:         s.cfg.RoomMaxClients,
		TickRate:           s.cfg.RoomTickRate,
	}); err != nil {
		return nil, err
	}

	log.WithField("room_type", roomType).Info("Создан конфиг комнаты из дефолтов")

	c, err = s.repo.GetActive(ctx, roomType)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("конфиг комнаты %s не появился после bootstrap", roomType)
	}
	return c, nil
}
