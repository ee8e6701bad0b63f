// Package referral — repository.go выполняет операции с таблицей referral_rewards.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"snake-arena/internal/db/postgres"
)

// Имя уникального ограничения идемпотентности выплат.
const PayoutConstraint = "referral_rewards_payout_key"

type Repository struct {
	db postgres.DBTX
}

func NewRepository(db postgres.DBTX) *Repository {
	return &Repository{db: db}
}

const rewardColumns = `id, referrer_id, referee_id, kill_log_id, action_type,
	amount, status, created_at, confirmed_at`

func scanReward(row pgx.Row) (*Reward, error) {
	var rw Reward
	err := row.Scan(
		&rw.ID, &rw.ReferrerID, &rw.RefereeID, &rw.KillLogID, &rw.ActionType,
		&rw.Amount, &rw.Status, &rw.CreatedAt, &rw.ConfirmedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rw, nil
}

// FindByKey ищет комиссию по ключу идемпотентности.
// Отсутствие записи — не ошибка: возвращается (nil, nil).
func (r *Repository) FindByKey(ctx context.Context, db postgres.DBTX, referrerID, refereeID, killLogID int64, action string) (*Reward, error) {
	if db == nil {
		db = r.db
	}
	rw, err := scanReward(db.QueryRow(ctx, `
		SELECT `+rewardColumns+`
		FROM referral_rewards
		WHERE referrer_id = $1 AND referee_id = $2 AND kill_log_id = $3 AND action_type = $4
	`, referrerID, refereeID, killLogID, action))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка поиска комиссии: %w", err)
	}
	return rw, nil
}

// InsertPending создаёт комиссию в состоянии PENDING и возвращает её с ID.
// Нарушение уникальности отдаётся вызывающему как есть: сервис распознаёт
// проигранную гонку и перечитывает существующую запись.
func (r *Repository) InsertPending(ctx context.Context, rw *Reward) (*Reward, error) {
	out, err := scanReward(r.db.QueryRow(ctx, `
		INSERT INTO referral_rewards (referrer_id, referee_id, kill_log_id, action_type, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+rewardColumns,
		rw.ReferrerID, rw.RefereeID, rw.KillLogID, rw.ActionType, rw.Amount, StatusPending,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания комиссии: %w", err)
	}
	return out, nil
}

// ConfirmPending переводит PENDING-комиссию в CONFIRMED.
// Возвращает false, если запись уже была подтверждена кем-то другим —
// тогда выплату делать нельзя (она уже сделана).
func (r *Repository) ConfirmPending(ctx context.Context, tx postgres.DBTX, id int64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE referral_rewards
		SET status = $2, confirmed_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, StatusConfirmed, StatusPending)
	if err != nil {
		return false, fmt.Errorf("ошибка подтверждения комиссии: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SumConfirmed возвращает сумму уже выплаченных комиссий от конкретного
// реферала конкретному рефереру — для проверки пожизненного лимита.
func (r *Repository) SumConfirmed(ctx context.Context, referrerID, refereeID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM referral_rewards
		WHERE referrer_id = $1 AND referee_id = $2 AND status = $3
	`, referrerID, refereeID, StatusConfirmed).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ошибка суммирования комиссий: %w", err)
	}
	return sum, nil
}

// FindStalePending возвращает зависшие PENDING-комиссии (создана запись,
// но выплата не дошла до подтверждения — например, упал процесс).
func (r *Repository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Reward, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+rewardColumns+`
		FROM referral_rewards
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, StatusPending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска зависших комиссий: %w", err)
	}
	defer rows.Close()

	var out []*Reward
	for rows.Next() {
		rw, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования комиссии: %w", err)
		}
		out = append(out, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}
