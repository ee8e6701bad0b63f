// Package roomconfig — repository.go выполняет операции с таблицей vip_room_configs.
package roomconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"snake-arena/internal/db/postgres"
)

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

const configColumns = `id, room_type, entry_fee, reward_rate_player, reward_rate_treasury,
	respawn_cost, max_clients, tick_rate, is_active, created_at, updated_at`

// GetActive возвращает активный конфиг типа комнаты.
// Если записи нет — возвращает (nil, nil): отсутствие конфига не ошибка,
// сервис создаст запись из дефолтов.
func (r *Repository) GetActive(ctx context.Context, roomType string) (*Config, error) {
	query := `SELECT ` + configColumns + `
		FROM vip_room_configs
		WHERE room_type = $1 AND is_active = TRUE`

	var c Config
	err := r.db.QueryRow(ctx, query, roomType).Scan(
		&c.ID, &c.RoomType, &c.EntryFee, &c.RewardRatePlayer, &c.RewardRateTreasury,
		&c.RespawnCost, &c.MaxClients, &c.TickRate, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения конфига комнаты: %w", err)
	}
	return &c, nil
}

// Insert создаёт активный конфиг. Частичный уникальный индекс
// (room_type WHERE is_active) гарантирует единственность активной записи:
// проигравшая гонку вставка просто не добавит строку.
func (r *Repository) Insert(ctx context.Context, c *Config) error {
	query := `
		INSERT INTO vip_room_configs
			(room_type, entry_fee, reward_rate_player, reward_rate_treasury,
			 respawn_cost, max_clients, tick_rate, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		c.RoomType, c.EntryFee, c.RewardRatePlayer, c.RewardRateTreasury,
		c.RespawnCost, c.MaxClients, c.TickRate,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания конфига комнаты: %w", err)
	}
	return nil
}
