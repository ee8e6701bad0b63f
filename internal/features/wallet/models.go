// Package wallet управляет кредитными балансами игроков.
// models.go описывает структуры для таблицы wallet_balances.
package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance представляет баланс игрока.
// Каждый игрок имеет ровно одну запись в таблице wallet_balances,
// создаваемую лениво при первом обращении.
//
// Инвариант: Available >= 0 всегда. Любая мутация выполняется только
// внутри транзакции, держащей блокировку строки (FOR UPDATE).
type Balance struct {
	ID        int64           `db:"id"`               // ID записи
	UserID    int64           `db:"user_id"`          // ID игрока (уникальный)
	Available decimal.Decimal `db:"available_amount"` // Доступно для игры и вывода
	Locked    decimal.Decimal `db:"locked_amount"`    // Заблокировано входным взносом комнаты
	// Последняя транзакция, изменившая баланс — для аудита.
	LastTransactionID *int64    `db:"last_transaction_id"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Delta — изменение баланса, применяемое к строке под блокировкой.
// Положительный Available — начисление, отрицательный — списание.
type Delta struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
}
