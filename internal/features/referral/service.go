// Package referral — service.go начисляет комиссию рефереру за событие
// его реферала. Выполняется строго ПОСЛЕ коммита расчётной транзакции,
// в собственных транзакциях: сбой здесь никогда не влияет на уже
// зафиксированный расчёт килла.
//
// Двухфазная схема ради восстановимости:
//  1. запись PENDING в собственной транзакции — якорь идемпотентности;
//  2. выплата + CONFIRMED одной транзакцией.
// Упали между фазами — зависший PENDING дорасчитает планировщик.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"snake-arena/internal/common"
	"snake-arena/internal/config"
	"snake-arena/internal/db/postgres"
	"snake-arena/internal/features/settlement"
	"snake-arena/internal/features/users"
	"snake-arena/internal/features/wallet"
)

// UserSource — чтение игроков (нужна реферальная связь).
type UserSource interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
}

// Store — операции хранения комиссий.
type Store interface {
	FindByKey(ctx context.Context, db postgres.DBTX, referrerID, refereeID, killLogID int64, action string) (*Reward, error)
	InsertPending(ctx context.Context, rw *Reward) (*Reward, error)
	ConfirmPending(ctx context.Context, tx postgres.DBTX, id int64) (bool, error)
	SumConfirmed(ctx context.Context, referrerID, refereeID int64) (decimal.Decimal, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Reward, error)
}

// Ledger — примитивы кошелька для выплаты.
type Ledger interface {
	LockForUpdate(ctx context.Context, tx postgres.DBTX, userID int64) (*wallet.Balance, error)
	ApplyDelta(b *wallet.Balance, d wallet.Delta) (*wallet.Balance, error)
	Persist(ctx context.Context, tx postgres.DBTX, b *wallet.Balance, lastTxID *int64) error
	InsertTransaction(ctx context.Context, tx postgres.DBTX, t *wallet.Transaction) (int64, error)
}

// Service — обработчик реферальных комиссий.
type Service struct {
	store  Store
	users  UserSource
	ledger Ledger
	runner postgres.TxRunner

	killRate  decimal.Decimal
	deathRate decimal.Decimal
	cap       decimal.Decimal // 0 = без лимита
	scale     int32
}

// NewService создаёт обработчик комиссий.
func NewService(store Store, userSource UserSource, ledger Ledger, runner postgres.TxRunner, cfg *config.Config) *Service {
	return &Service{
		store:     store,
		users:     userSource,
		ledger:    ledger,
		runner:    runner,
		killRate:  cfg.ReferralKillRate,
		deathRate: cfg.ReferralDeathRate,
		cap:       cfg.ReferralCommissionCap,
		scale:     cfg.TokenDecimals,
	}
}

// ProcessTask начисляет комиссию за одну сторону рассчитанного события.
// Безопасен к повторному вызову: на ключ (referrer, referee, kill_log, action)
// существует максимум одна выплата. Если у реферала нет реферера —
// возвращает (nil, nil).
func (s *Service) ProcessTask(ctx context.Context, task settlement.CommissionTask) (*Reward, error) {
	referee, err := s.users.GetByID(ctx, task.RefereeUserID)
	if err != nil {
		return nil, err
	}
	if referee.ReferredBy == nil {
		return nil, nil
	}
	referrerID := *referee.ReferredBy

	rate := s.killRate
	if task.Action == settlement.ActionDeath {
		rate = s.deathRate
	}
	commission := common.Quantize(task.FeeAmount.Mul(rate), s.scale)
	if !commission.IsPositive() {
		return nil, nil
	}

	// Идемпотентность: уже существующая запись означает, что выплата
	// сделана или зависла — второй раз деньги не начисляем.
	existing, err := s.store.FindByKey(ctx, nil, referrerID, task.RefereeUserID, task.KillLogID, string(task.Action))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == StatusConfirmed {
			return existing, nil
		}
		return s.payAndConfirm(ctx, existing)
	}

	// Пожизненный лимит комиссий с одного реферала.
	if s.cap.IsPositive() {
		paid, err := s.store.SumConfirmed(ctx, referrerID, task.RefereeUserID)
		if err != nil {
			return nil, err
		}
		if paid.Add(commission).GreaterThan(s.cap) {
			return nil, fmt.Errorf("выплачено %s, лимит %s: %w", paid, s.cap, common.ErrCommissionCapExceeded)
		}
	}

	rw, err := s.store.InsertPending(ctx, &Reward{
		ReferrerID: referrerID,
		RefereeID:  task.RefereeUserID,
		KillLogID:  task.KillLogID,
		ActionType: string(task.Action),
		Amount:     commission,
	})
	if err != nil {
		// Проигранная гонка: запись уже создал кто-то другой.
		if postgres.IsUniqueViolation(err, PayoutConstraint) {
			rw, ferr := s.store.FindByKey(ctx, nil, referrerID, task.RefereeUserID, task.KillLogID, string(task.Action))
			if ferr != nil {
				return nil, ferr
			}
			if rw != nil && rw.Status == StatusConfirmed {
				return rw, nil
			}
			if rw != nil {
				return s.payAndConfirm(ctx, rw)
			}
		}
		return nil, err
	}

	return s.payAndConfirm(ctx, rw)
}

// errAlreadyConfirmed — кто-то успел подтвердить выплату раньше нас.
var errAlreadyConfirmed = errors.New("комиссия уже подтверждена")

// payAndConfirm атомарно начисляет комиссию рефереру и подтверждает запись.
// Подтверждение защищено условием status=PENDING: двойная выплата невозможна
// даже при двух параллельных воркерах.
func (s *Service) payAndConfirm(ctx context.Context, rw *Reward) (*Reward, error) {
	err := s.runner.InTx(ctx, func(tx postgres.DBTX) error {
		ok, err := s.store.ConfirmPending(ctx, tx, rw.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyConfirmed
		}

		bal, err := s.ledger.LockForUpdate(ctx, tx, rw.ReferrerID)
		if err != nil {
			return err
		}
		txID, err := s.ledger.InsertTransaction(ctx, tx, &wallet.Transaction{
			UserID: rw.ReferrerID,
			Type:   wallet.TxTypeReward,
			Amount: rw.Amount,
			Metadata: map[string]any{
				"kill_log_id": rw.KillLogID,
				"referee_id":  rw.RefereeID,
				"action_type": rw.ActionType,
				"cause":       "referral_commission",
			},
		})
		if err != nil {
			return err
		}
		next, err := s.ledger.ApplyDelta(bal, wallet.Delta{Available: rw.Amount})
		if err != nil {
			return err
		}
		return s.ledger.Persist(ctx, tx, next, &txID)
	})
	if err != nil {
		if errors.Is(err, errAlreadyConfirmed) {
			return s.store.FindByKey(ctx, nil, rw.ReferrerID, rw.RefereeID, rw.KillLogID, rw.ActionType)
		}
		return nil, postgres.WrapConflict(err)
	}

	log.WithFields(log.Fields{
		"referrer":    rw.ReferrerID,
		"referee":     rw.RefereeID,
		"kill_log_id": rw.KillLogID,
		"action":      rw.ActionType,
		"amount":      common.FormatAmount(rw.Amount, s.scale),
	}).Info("Реферальная комиссия выплачена")

	confirmed := *rw
	confirmed.Status = StatusConfirmed
	now := time.Now().UTC()
	confirmed.ConfirmedAt = &now
	return &confirmed, nil
}

// ReconfirmStale дорасчитывает зависшие PENDING-комиссии.
// Вызывается планировщиком.
func (s *Service) ReconfirmStale(ctx context.Context, olderThan time.Duration, limit int) error {
	stale, err := s.store.FindStalePending(ctx, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return err
	}
	for _, rw := range stale {
		if _, err := s.payAndConfirm(ctx, rw); err != nil {
			log.WithError(err).WithField("reward_id", rw.ID).Error("Не удалось дорасчитать комиссию")
		}
	}
	if len(stale) > 0 {
		log.WithField("count", len(stale)).Info("Дорасчёт зависших комиссий завершён")
	}
	return nil
}
