// Package ticket — service.go содержит бизнес-логику билетов:
// проверку доступа, валидацию, одноразовое потребление и расчёт взноса.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"snake-arena/internal/common"
	"snake-arena/internal/db/postgres"
	"snake-arena/internal/features/roomconfig"
	"snake-arena/internal/features/wallet"
)

// Сколько раз повторяем потребление билета при транзиентном конфликте блокировок.
const consumeRetries = 3

// Store — операции хранения билетов, нужные сервису.
type Store interface {
	Insert(ctx context.Context, db postgres.DBTX, t *Ticket) (*Ticket, error)
	GetByID(ctx context.Context, db postgres.DBTX, id int64) (*Ticket, error)
	LockByID(ctx context.Context, tx postgres.DBTX, id int64) (*Ticket, error)
	MarkConsumed(ctx context.Context, tx postgres.DBTX, id int64, roomInstanceID string, entryFee decimal.Decimal) error
	MarkSettled(ctx context.Context, tx postgres.DBTX, id int64) error
	FindConsumedUnsettled(ctx context.Context, limit int) ([]*Ticket, error)
	ExpireStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// Ledger — примитивы кошелька, нужные сервису билетов.
type Ledger interface {
	GetOrCreate(ctx context.Context, db postgres.DBTX, userID int64) (*wallet.Balance, error)
	LockForUpdate(ctx context.Context, tx postgres.DBTX, userID int64) (*wallet.Balance, error)
	ApplyDelta(b *wallet.Balance, d wallet.Delta) (*wallet.Balance, error)
	Persist(ctx context.Context, tx postgres.DBTX, b *wallet.Balance, lastTxID *int64) error
	InsertTransaction(ctx context.Context, tx postgres.DBTX, t *wallet.Transaction) (int64, error)
}

// ConfigSource выдаёт активную экономику типа комнаты.
type ConfigSource interface {
	GetActiveConfig(ctx context.Context, roomType string) (*roomconfig.Config, error)
}

// Service — хранилище билетов: выдача, валидация, потребление.
type Service struct {
	store   Store
	ledger  Ledger
	configs ConfigSource
	runner  postgres.TxRunner
}

// NewService создаёт сервис билетов.
func NewService(store Store, ledger Ledger, configs ConfigSource, runner postgres.TxRunner) *Service {
	return &Service{store: store, ledger: ledger, configs: configs, runner: runner}
}

// CheckAccess проверяет, может ли игрок войти в платную комнату, и при
// достаточном балансе выдаёт билет. Взнос НЕ списывается — это резервация:
// деньги заблокируются при потреблении билета.
func (s *Service) CheckAccess(ctx context.Context, userID int64, roomType string) (*AccessResult, error) {
	cfg, err := s.configs.GetActiveConfig(ctx, roomType)
	if err != nil {
		return nil, err
	}

	bal, err := s.ledger.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	if bal.Available.LessThan(cfg.EntryFee) {
		return &AccessResult{
			CanJoin: false,
			Reason: fmt.Sprintf("недостаточно кредитов: нужно %s, доступно %s",
				cfg.EntryFee, bal.Available),
		}, nil
	}

	t, err := s.store.Insert(ctx, nil, &Ticket{
		UserID:     userID,
		RoomType:   roomType,
		TicketCode: uuid.NewString(),
		EntryFee:   cfg.EntryFee,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"user_id":   userID,
		"ticket_id": t.ID,
		"room_type": roomType,
		"entry_fee": cfg.EntryFee,
	}).Info("Выдан билет")

	return &AccessResult{CanJoin: true, Ticket: t}, nil
}

// Validate проверяет билет перед входом в комнату.
// Билет должен быть в состоянии ISSUED и принадлежать expectedUserID
// (0 — владельца не проверять).
func (s *Service) Validate(ctx context.Context, ticketID, expectedUserID int64) (*Ticket, error) {
	t, err := s.store.GetByID(ctx, nil, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusIssued {
		return nil, fmt.Errorf("билет %d в состоянии %s: %w", t.ID, t.Status, common.ErrTicketAlreadyConsumed)
	}
	if expectedUserID != 0 && t.UserID != expectedUserID {
		return nil, common.ErrTicketOwnershipMismatch
	}
	return t, nil
}

// Consume потребляет билет ровно один раз: блокирует строку билета,
// перепроверяет состояние и актуальный взнос, переносит взнос из available
// в locked и отмечает билет CONSUMED с привязкой к экземпляру комнаты.
// Транзиентные конфликты блокировок повторяются ограниченное число раз.
func (s *Service) Consume(ctx context.Context, ticketID int64, roomInstanceID string) (*Ticket, error) {
	var lastErr error
	for attempt := 1; attempt <= consumeRetries; attempt++ {
		t, err := s.consumeOnce(ctx, ticketID, roomInstanceID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, common.ErrSettlementConflict) {
			return nil, err
		}
		lastErr = err
		log.WithFields(log.Fields{
			"ticket_id": ticketID,
			"attempt":   attempt,
		}).Warn("Конфликт при потреблении билета, повторяем")
	}
	return nil, lastErr
}

func (s *Service) consumeOnce(ctx context.Context, ticketID int64, roomInstanceID string) (*Ticket, error) {
	var out *Ticket
	err := s.runner.InTx(ctx, func(tx postgres.DBTX) error {
		t, err := s.store.LockByID(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		// Перепроверка под блокировкой: проигравший конкурентное потребление
		// видит здесь уже CONSUMED и падает, а не «тихо» проходит.
		if t.Status != StatusIssued {
			return fmt.Errorf("билет %d в состоянии %s: %w", t.ID, t.Status, common.ErrTicketAlreadyConsumed)
		}

		// Взнос мог измениться с момента выдачи — берём актуальный.
		cfg, err := s.configs.GetActiveConfig(ctx, t.RoomType)
		if err != nil {
			return err
		}
		fee := cfg.EntryFee

		bal, err := s.ledger.LockForUpdate(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(fee) {
			return fmt.Errorf("нужно %s, доступно %s: %w", fee, bal.Available, common.ErrInsufficientCredit)
		}

		next, err := s.ledger.ApplyDelta(bal, wallet.Delta{Available: fee.Neg(), Locked: fee})
		if err != nil {
			return err
		}
		if err := s.ledger.Persist(ctx, tx, next, nil); err != nil {
			return err
		}
		if err := s.store.MarkConsumed(ctx, tx, t.ID, roomInstanceID, fee); err != nil {
			return err
		}

		consumed := *t
		consumed.Status = StatusConsumed
		consumed.RoomInstanceID = &roomInstanceID
		consumed.EntryFee = fee
		now := time.Now().UTC()
		consumed.ConsumedAt = &now
		out = &consumed
		return nil
	})
	if err != nil {
		return nil, postgres.WrapConflict(err)
	}

	log.WithFields(log.Fields{
		"ticket_id":     ticketID,
		"room_instance": roomInstanceID,
	}).Info("Билет потреблён, взнос заблокирован")
	return out, nil
}

// SettleExit окончательно списывает заблокированный взнос при штатном
// выходе из комнаты. Взнос уходит казне: locked уменьшается, available
// не меняется. Повторный вызов по тому же билету — ошибка.
func (s *Service) SettleExit(ctx context.Context, ticketID int64) error {
	return s.settleLocked(ctx, ticketID, false)
}

// Refund возвращает заблокированный взнос на available.
// Используется, когда вход в комнату сорвался уже после потребления билета.
func (s *Service) Refund(ctx context.Context, ticketID int64) error {
	return s.settleLocked(ctx, ticketID, true)
}

func (s *Service) settleLocked(ctx context.Context, ticketID int64, refund bool) error {
	err := s.runner.InTx(ctx, func(tx postgres.DBTX) error {
		t, err := s.store.LockByID(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != StatusConsumed {
			return fmt.Errorf("билет %d в состоянии %s: %w", t.ID, t.Status, common.ErrTicketNotInRoom)
		}
		if t.SettledAt != nil {
			return fmt.Errorf("билет %d: %w", t.ID, common.ErrTicketAlreadySettled)
		}

		bal, err := s.ledger.LockForUpdate(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		delta := wallet.Delta{Locked: t.EntryFee.Neg()}
		txType := wallet.TxTypeEntryFee
		if refund {
			delta.Available = t.EntryFee
			txType = wallet.TxTypeEntryRefund
		}
		next, err := s.ledger.ApplyDelta(bal, delta)
		if err != nil {
			return err
		}

		txID, err := s.ledger.InsertTransaction(ctx, tx, &wallet.Transaction{
			UserID: t.UserID,
			Type:   txType,
			Amount: t.EntryFee,
			Metadata: map[string]any{
				"ticket_id":     t.ID,
				"room_instance": t.RoomInstanceID,
			},
		})
		if err != nil {
			return err
		}
		if err := s.ledger.Persist(ctx, tx, next, &txID); err != nil {
			return err
		}
		return s.store.MarkSettled(ctx, tx, t.ID)
	})
	return postgres.WrapConflict(err)
}

// ExpireStale переводит протухшие ISSUED-билеты в EXPIRED.
// Вызывается планировщиком.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return s.store.ExpireStale(ctx, time.Now().UTC().Add(-ttl))
}

// максимум осиротевших билетов, возвращаемых за один старт
const orphanBatch = 1000

// RefundOrphaned возвращает взносы по потреблённым, но не рассчитанным
// билетам. Комнаты живут в памяти процесса, поэтому на старте сервера любой
// такой билет осиротел: его комната умерла вместе с прошлым процессом.
func (s *Service) RefundOrphaned(ctx context.Context) (int, error) {
	orphans, err := s.store.FindConsumedUnsettled(ctx, orphanBatch)
	if err != nil {
		return 0, err
	}
	refunded := 0
	for _, t := range orphans {
		if err := s.Refund(ctx, t.ID); err != nil {
			log.WithError(err).WithField("ticket_id", t.ID).
				Error("Не удалось вернуть взнос по осиротевшему билету")
			continue
		}
		refunded++
	}
	if refunded > 0 {
		log.WithField("count", refunded).Info("Взносы по осиротевшим билетам возвращены")
	}
	return refunded, nil
}
