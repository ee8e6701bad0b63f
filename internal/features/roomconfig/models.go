// Package roomconfig управляет экономическими параметрами типов комнат.
// models.go описывает структуры для таблицы vip_room_configs.
package roomconfig

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config — экономика одного типа комнаты.
// Для каждого типа активна ровно одна запись. Работающая комната читает
// конфиг один раз при создании: изменения применяются только к новым комнатам.
type Config struct {
	ID       int64  `db:"id"`
	RoomType string `db:"room_type"` // Тип комнаты, например "vip_snake"
	// Входной взнос: блокируется на балансе при потреблении билета.
	EntryFee decimal.Decimal `db:"entry_fee"`
	// Фиксированная выплата киллеру за один килл.
	RewardRatePlayer decimal.Decimal `db:"reward_rate_player"`
	// Фиксированная казначейская доля за один килл (никому не начисляется).
	RewardRateTreasury decimal.Decimal `db:"reward_rate_treasury"`
	// Стоимость респауна.
	RespawnCost decimal.Decimal `db:"respawn_cost"`
	MaxClients  int             `db:"max_clients"`
	TickRate    int             `db:"tick_rate"`
	IsActive    bool            `db:"is_active"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// TotalKillDebit — полное списание с жертвы за один килл.
func (c *Config) TotalKillDebit() decimal.Decimal {
	return c.RewardRatePlayer.Add(c.RewardRateTreasury)
}
