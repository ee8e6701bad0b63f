// Package referral начисляет реферальные комиссии с казначейской доли
// рассчитанных событий. models.go описывает структуры для таблицы referral_rewards.
package referral

import (
	"time"

	"github.com/shopspring/decimal"
)

// Статусы комиссии. PENDING → CONFIRMED (терминальное).
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
)

// Reward — одна комиссия. Уникальность на
// (referrer_id, referee_id, kill_log_id, action_type) — якорь идемпотентности
// выплат, независимый от идемпотентности самого kill_log.
type Reward struct {
	ID         int64           `db:"id"`
	ReferrerID int64           `db:"referrer_id"` // кто получает комиссию
	RefereeID  int64           `db:"referee_id"`  // чьё событие её породило
	KillLogID  int64           `db:"kill_log_id"`
	ActionType string          `db:"action_type"` // kill / death
	Amount     decimal.Decimal `db:"amount"`
	Status     string          `db:"status"`
	CreatedAt  time.Time       `db:"created_at"`
	// Когда выплата зафиксирована на балансе реферера.
	ConfirmedAt *time.Time `db:"confirmed_at"`
}
