// Package wallet — repository.go выполняет все операции с таблицей wallet_balances.
// Все денежные мутации выполняются через DBTX открытой транзакции:
// репозиторий не открывает транзакции сам, это делает вызывающий сервис.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"snake-arena/internal/common"
	"snake-arena/internal/db/postgres"
)

// Repository предоставляет методы для работы с балансами.
type Repository struct {
	db postgres.DBTX
}

// NewRepository создаёт репозиторий балансов. db — пул для обычных чтений;
// транзакционные методы принимают DBTX открытой транзакции явно.
func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

const balanceColumns = `id, user_id, available_amount, locked_amount, last_transaction_id, created_at, updated_at`

func scanBalance(row pgx.Row) (*Balance, error) {
	var b Balance
	err := row.Scan(
		&b.ID, &b.UserID, &b.Available, &b.Locked,
		&b.LastTransactionID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetOrCreate возвращает баланс игрока, создавая нулевую запись при первом
// обращении. Гонка двух одновременных созданий разрешается уникальным
// ограничением на user_id: ON CONFLICT DO NOTHING + повторное чтение.
func (r *Repository) GetOrCreate(ctx context.Context, db postgres.DBTX, userID int64) (*Balance, error) {
	if db == nil {
		db = r.db
	}
	_, err := db.Exec(ctx, `
		INSERT INTO wallet_balances (user_id, available_amount, locked_amount)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания баланса: %w", err)
	}

	b, err := scanBalance(db.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM wallet_balances WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения баланса: %w", err)
	}
	return b, nil
}

// GetByUserID возвращает баланс без блокировки (только чтение).
func (r *Repository) GetByUserID(ctx context.Context, db postgres.DBTX, userID int64) (*Balance, error) {
	if db == nil {
		db = r.db
	}
	b, err := scanBalance(db.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM wallet_balances WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrBalanceNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения баланса: %w", err)
	}
	return b, nil
}

// LockForUpdate читает баланс с эксклюзивной блокировкой строки.
// Блокировка живёт до конца транзакции tx; конкурирующая транзакция
// будет ждать на этой строке до нашего Commit/Rollback.
func (r *Repository) LockForUpdate(ctx context.Context, tx postgres.DBTX, userID int64) (*Balance, error) {
	b, err := scanBalance(tx.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM wallet_balances WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user_id=%d: %w", userID, common.ErrBalanceNotFound)
		}
		return nil, postgres.WrapConflict(fmt.Errorf("ошибка блокировки баланса: %w", err))
	}
	return b, nil
}

// UpdateAmounts записывает новые суммы баланса. Вызывается только под
// блокировкой LockForUpdate в той же транзакции.
func (r *Repository) UpdateAmounts(ctx context.Context, tx postgres.DBTX, userID int64, available, locked decimal.Decimal, lastTxID *int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallet_balances
		SET available_amount = $2, locked_amount = $3, last_transaction_id = $4, updated_at = NOW()
		WHERE user_id = $1
	`, userID, available, locked, lastTxID)
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	return nil
}
