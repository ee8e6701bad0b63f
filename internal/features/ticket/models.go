// Package ticket управляет VIP-билетами — одноразовым правом на платную игру.
// models.go описывает структуры для таблицы vip_tickets.
package ticket

import (
	"time"

	"github.com/shopspring/decimal"
)

// Состояния билета. ISSUED → CONSUMED (терминальное) либо EXPIRED.
const (
	StatusIssued   = "ISSUED"   // выдан, взнос ещё не заблокирован
	StatusConsumed = "CONSUMED" // использован для входа в комнату
	StatusExpired  = "EXPIRED"  // протух неиспользованным
)

// Ticket — одно оплаченное право на игру.
// Выдаётся после проверки доступности взноса (резервация, не списание);
// потребляется ровно один раз, транзакционно, с блокировкой взноса.
// Никогда не переиспользуется между комнатами.
type Ticket struct {
	ID       int64  `db:"id"`
	UserID   int64  `db:"user_id"`
	RoomType string `db:"room_type"`
	// Уникальный код билета.
	TicketCode string `db:"ticket_code"`
	// Снимок входного взноса на момент выдачи. При потреблении
	// перечитывается из актуального конфига (мог измениться).
	EntryFee decimal.Decimal `db:"entry_fee"`
	Status   string          `db:"status"`
	// Экземпляр комнаты, в котором билет потреблён.
	RoomInstanceID *string    `db:"room_instance_id"`
	ConsumedAt     *time.Time `db:"consumed_at"`
	// Когда заблокированный взнос окончательно списан или возвращён.
	SettledAt *time.Time `db:"settled_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// AccessResult — результат проверки доступа в платную комнату.
type AccessResult struct {
	CanJoin bool
	Reason  string  // причина отказа, если CanJoin=false
	Ticket  *Ticket // выданный билет, если CanJoin=true
}
