// Package settlement — расчётный движок: превращает событие килла/смерти
// в атомарное, идемпотентное и аудируемое изменение балансов.
// models.go описывает структуры для таблицы kill_logs и результаты расчётов.
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// KillLog — одна запись на уникальный killReference.
// Уникальное ограничение на kill_reference — якорь идемпотентности всего
// конвейера: первый успешный insert выигрывает, повторная доставка события
// разрешается чтением уже записанного результата.
type KillLog struct {
	ID            int64  `db:"id"`
	KillReference string `db:"kill_reference"`
	// Билеты и игроки. Киллер nil для смерти об стену.
	KillerTicketID *int64          `db:"killer_ticket_id"`
	VictimTicketID int64           `db:"victim_ticket_id"`
	KillerUserID   *int64          `db:"killer_user_id"`
	VictimUserID   int64           `db:"victim_user_id"`
	RoomInstanceID string          `db:"room_instance_id"`
	RewardAmount   decimal.Decimal `db:"reward_amount"`
	FeeAmount      decimal.Decimal `db:"fee_amount"`
	CreatedAt      time.Time       `db:"created_at"`
}

// KillResult — зафиксированный результат расчёта килла.
// Суммы — точные decimal; строковое форматирование делает транспорт.
type KillResult struct {
	KillerUserID int64
	VictimUserID int64
	KillerCredit decimal.Decimal // available киллера после расчёта
	VictimCredit decimal.Decimal // available жертвы после расчёта
	RewardAmount decimal.Decimal
	FeeAmount    decimal.Decimal
	// true, если killReference уже был рассчитан ранее (повторная доставка).
	AlreadyProcessed bool
}

// CollisionResult — результат расчёта смерти об стену.
type CollisionResult struct {
	UserID        int64
	Credit        decimal.Decimal // available после списания
	PenaltyAmount decimal.Decimal
}

// RespawnResult — результат расчёта респауна.
type RespawnResult struct {
	UserID int64
	Credit decimal.Decimal // available после списания
	Cost   decimal.Decimal
}
