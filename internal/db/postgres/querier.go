// Package postgres — querier.go определяет общие контракты доступа к БД.
//
// DBTX позволяет репозиториям работать одинаково и с пулом, и с открытой
// транзакцией: денежный метод принимает DBTX и НЕ знает, кто держит транзакцию.
// TxRunner — единственное место, где транзакции открываются и закрываются:
// блокировки строк живут ровно до Commit/Rollback.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"snake-arena/internal/common"
)

// DBTX — минимальный интерфейс запросов, который реализуют
// и *pgxpool.Pool, и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner выполняет функцию внутри одной транзакции БД.
// В тестах подменяется fake-реализацией без настоящей БД.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx DBTX) error) error
}

// PoolRunner — TxRunner поверх пула соединений.
type PoolRunner struct {
	pool *pgxpool.Pool
}

// NewPoolRunner создаёт исполнитель транзакций поверх пула.
func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

// InTx открывает транзакцию, выполняет fn и коммитит.
// Если fn вернула ошибку — транзакция откатывается целиком,
// частичных изменений не бывает.
func (r *PoolRunner) InTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Коды ошибок PostgreSQL, которые нас интересуют.
const (
	pgUniqueViolation = "23505" // нарушение уникального ограничения
	pgLockNotAvail    = "55P03" // lock_timeout истёк
	pgDeadlock        = "40P01" // обнаружен deadlock
	pgSerialization   = "40001" // сбой сериализации
)

// IsUniqueViolation проверяет, что ошибка — нарушение уникальности.
// Если constraint не пустой — дополнительно сверяет имя ограничения.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsLockConflict проверяет, что ошибка — транзиентный конфликт блокировок.
// Такие ошибки безопасно повторять (для киллов — с тем же killReference).
func IsLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgLockNotAvail, pgDeadlock, pgSerialization:
		return true
	}
	return false
}

// WrapConflict переводит транзиентные ошибки БД в ErrSettlementConflict,
// остальные возвращает как есть.
func WrapConflict(err error) error {
	if err == nil {
		return nil
	}
	if IsLockConflict(err) {
		return fmt.Errorf("%w: %s", common.ErrSettlementConflict, err)
	}
	return err
}
