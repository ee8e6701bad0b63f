// Package wallet — journal.go ведёт неизменяемый журнал движений кредитов
// (таблица transactions). Записи только добавляются и никогда не меняются.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"snake-arena/internal/db/postgres"
)

// Типы записей журнала.
const (
	TxTypeReward      = "REWARD"       // выплата киллеру (и реферальная комиссия)
	TxTypePenalty     = "PENALTY"      // списание с жертвы (килл, стена, респаун)
	TxTypeEntryFee    = "ENTRY_FEE"    // списание заблокированного входного взноса
	TxTypeEntryRefund = "ENTRY_REFUND" // возврат заблокированного взноса
)

// TxStatusConfirmed — все записи расчётного контура создаются сразу
// подтверждёнными: pending-состояния в этой подсистеме нет.
const TxStatusConfirmed = "CONFIRMED"

// Transaction — одна запись журнала.
type Transaction struct {
	ID        int64           `db:"id"`
	UserID    int64           `db:"user_id"`    // Чей баланс изменился
	Type      string          `db:"tx_type"`    // REWARD / PENALTY / ...
	Amount    decimal.Decimal `db:"amount"`     // Сумма изменения (всегда положительная)
	FeeAmount decimal.Decimal `db:"fee_amount"` // Казначейская доля события
	Status    string          `db:"status"`
	// Ссылка на породившее событие (killReference и т.п.) — для аудита.
	ReferenceID *string        `db:"reference_id"`
	Metadata    map[string]any `db:"metadata"` // килл, комната, оппонент
	CreatedAt   time.Time      `db:"created_at"`
}

// InsertTransaction добавляет запись журнала и возвращает её ID.
// Вызывается внутри той же транзакции БД, что и изменение баланса.
func (r *Repository) InsertTransaction(ctx context.Context, tx postgres.DBTX, t *Transaction) (int64, error) {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (user_id, tx_type, amount, fee_amount, status, reference_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, t.UserID, t.Type, t.Amount, t.FeeAmount, TxStatusConfirmed, t.ReferenceID, meta).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка записи транзакции: %w", err)
	}
	return id, nil
}

// GetRecentTransactions возвращает последние N записей журнала игрока.
func (r *Repository) GetRecentTransactions(ctx context.Context, db postgres.DBTX, userID int64, limit int) ([]*Transaction, error) {
	if db == nil {
		db = r.db
	}
	rows, err := db.Query(ctx, `
		SELECT id, user_id, tx_type, amount, fee_amount, status, reference_id, metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения транзакций: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var t Transaction
		var meta []byte
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Type, &t.Amount, &t.FeeAmount,
			&t.Status, &t.ReferenceID, &meta, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования транзакции: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return nil, fmt.Errorf("ошибка разбора метаданных: %w", err)
			}
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}
