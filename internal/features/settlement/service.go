// Package settlement — service.go: ядро расчётного движка.
//
// Каждый расчёт — одна короткая ACID-транзакция:
//  1. проверка идемпотентности по killReference ДО взятия блокировок;
//  2. блокировки в фиксированном глобальном порядке: билет киллера,
//     билет жертвы, затем балансы по возрастанию user id;
//  3. суммы из активного конфига комнаты на момент расчёта;
//  4. защита от минуса у жертвы — событие отклоняется целиком;
//  5. атомарная запись: kill_log (якорь идемпотентности) + две записи
//     журнала + обновление двух балансов;
//  6. комиссионные задачи уходят в outbox только после коммита.
package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"snake-arena/internal/common"
	"snake-arena/internal/db/postgres"
	"snake-arena/internal/features/roomconfig"
	"snake-arena/internal/features/ticket"
	"snake-arena/internal/features/wallet"
)

// KillStore — операции хранения kill_logs, нужные движку.
type KillStore interface {
	FindByReference(ctx context.Context, db postgres.DBTX, ref string) (*KillLog, error)
	Insert(ctx context.Context, tx postgres.DBTX, kl *KillLog) (int64, error)
}

// TicketSource — блокирующее чтение билетов внутри расчётной транзакции.
type TicketSource interface {
	LockByID(ctx context.Context, tx postgres.DBTX, id int64) (*ticket.Ticket, error)
}

// Ledger — примитивы кошелька, нужные движку.
type Ledger interface {
	GetByUserID(ctx context.Context, db postgres.DBTX, userID int64) (*wallet.Balance, error)
	LockForUpdate(ctx context.Context, tx postgres.DBTX, userID int64) (*wallet.Balance, error)
	ApplyDelta(b *wallet.Balance, d wallet.Delta) (*wallet.Balance, error)
	Persist(ctx context.Context, tx postgres.DBTX, b *wallet.Balance, lastTxID *int64) error
	InsertTransaction(ctx context.Context, tx postgres.DBTX, t *wallet.Transaction) (int64, error)
}

// ConfigSource выдаёт активную экономику типа комнаты.
type ConfigSource interface {
	GetActiveConfig(ctx context.Context, roomType string) (*roomconfig.Config, error)
}

// Service — расчётный движок.
type Service struct {
	kills   KillStore
	tickets TicketSource
	ledger  Ledger
	configs ConfigSource
	runner  postgres.TxRunner
	outbox  *Outbox
	scale   int32
}

// NewService создаёт расчётный движок.
func NewService(kills KillStore, tickets TicketSource, ledger Ledger, configs ConfigSource, runner postgres.TxRunner, outbox *Outbox, scale int32) *Service {
	return &Service{
		kills:   kills,
		tickets: tickets,
		ledger:  ledger,
		configs: configs,
		runner:  runner,
		outbox:  outbox,
		scale:   scale,
	}
}

// SettleKill атомарно рассчитывает килл: киллеру +reward, с жертвы
// -(reward+fee). Повторный вызов с тем же killReference безопасен и
// возвращает уже зафиксированный результат.
func (s *Service) SettleKill(ctx context.Context, killerTicketID, victimTicketID int64, killReference, roomInstanceID string) (*KillResult, error) {
	// Идемпотентность проверяется до любых блокировок: повторная доставка
	// не должна толкаться в очереди на горячих строках балансов.
	if kl, err := s.kills.FindByReference(ctx, nil, killReference); err != nil {
		return nil, err
	} else if kl != nil {
		return s.reconstruct(ctx, kl)
	}

	var (
		res   *KillResult
		tasks []CommissionTask
	)
	err := s.runner.InTx(ctx, func(tx postgres.DBTX) error {
		// Фиксированный порядок: сначала билеты (киллер, жертва).
		kt, err := s.lockConsumedTicket(ctx, tx, killerTicketID, roomInstanceID)
		if err != nil {
			return err
		}
		vt, err := s.lockConsumedTicket(ctx, tx, victimTicketID, roomInstanceID)
		if err != nil {
			return err
		}
		if kt.UserID == vt.UserID {
			return fmt.Errorf("киллер и жертва — один игрок (user_id=%d): %w",
				kt.UserID, common.ErrTicketOwnershipMismatch)
		}

		// Суммы — из АКТИВНОГО конфига на момент расчёта, не из снимка билета.
		cfg, err := s.configs.GetActiveConfig(ctx, kt.RoomType)
		if err != nil {
			return err
		}
		reward := common.Quantize(cfg.RewardRatePlayer, s.scale)
		fee := common.Quantize(cfg.RewardRateTreasury, s.scale)
		totalDebit := reward.Add(fee)

		// Балансы блокируются по возрастанию user id независимо от ролей:
		// «A убил B» и «B убил A» берут блокировки в одном порядке.
		balances, err := s.lockBalancesOrdered(ctx, tx, kt.UserID, vt.UserID)
		if err != nil {
			return err
		}
		killerBal, victimBal := balances[kt.UserID], balances[vt.UserID]

		if victimBal.Available.LessThan(totalDebit) {
			return fmt.Errorf("нужно %s, доступно %s: %w",
				totalDebit, victimBal.Available, common.ErrInsufficientVictimCredit)
		}

		// Якорь идемпотентности. Если две транзакции одновременно дошли сюда
		// с одним killReference — вторая упадёт на уникальности и перечитает
		// результат победителя.
		killLogID, err := s.kills.Insert(ctx, tx, &KillLog{
			KillReference:  killReference,
			KillerTicketID: &kt.ID,
			VictimTicketID: vt.ID,
			KillerUserID:   &kt.UserID,
			VictimUserID:   vt.UserID,
			RoomInstanceID: roomInstanceID,
			RewardAmount:   reward,
			FeeAmount:      fee,
		})
		if err != nil {
			return err
		}

		rewardTxID, err := s.ledger.InsertTransaction(ctx, tx, &wallet.Transaction{
			UserID:      kt.UserID,
			Type:        wallet.TxTypeReward,
			Amount:      reward,
			FeeAmount:   fee,
			ReferenceID: &killReference,
			Metadata: map[string]any{
				"kill_log_id":   killLogID,
				"room_instance": roomInstanceID,
				"opponent_id":   vt.UserID,
			},
		})
		if err != nil {
			return err
		}
		penaltyTxID, err := s.ledger.InsertTransaction(ctx, tx, &wallet.Transaction{
			UserID:      vt.UserID,
			Type:        wallet.TxTypePenalty,
			Amount:      totalDebit,
			FeeAmount:   fee,
			ReferenceID: &killReference,
			Metadata: map[string]any{
				"kill_log_id":   killLogID,
				"room_instance": roomInstanceID,
				"opponent_id":   kt.UserID,
			},
		})
		if err != nil {
			return err
		}

		newKiller, err := s.ledger.ApplyDelta(killerBal, wallet.Delta{Available: reward})
		if err != nil {
			return err
		}
		newVictim, err := s.ledger.ApplyDelta(victimBal, wallet.Delta{Available: totalDebit.Neg()})
		if err != nil {
			return err
		}
		if err := s.ledger.Persist(ctx, tx, newKiller, &rewardTxID); err != nil {
			return err
		}
		if err := s.ledger.Persist(ctx, tx, newVictim, &penaltyTxID); err != nil {
			return err
		}

		res = &KillResult{
			KillerUserID: kt.UserID,
			VictimUserID: vt.UserID,
			KillerCredit: newKiller.Available,
			VictimCredit: newVictim.Available,
			RewardAmount: reward,
			FeeAmount:    fee,
		}
		tasks = []CommissionTask{
			{KillLogID: killLogID, RefereeUserID: kt.UserID, Action: ActionKill, FeeAmount: fee},
			{KillLogID: killLogID, RefereeUserID: vt.UserID, Action: ActionDeath, FeeAmount: fee},
		}
		return nil
	})
	if err != nil {
		// Проигранная гонка двух одновременных расчётов одного события:
		// перечитываем результат победителя как дубликат.
		if postgres.IsUniqueViolation(err, KillReferenceConstraint) {
			kl, ferr := s.kills.FindByReference(ctx, nil, killReference)
			if ferr == nil && kl != nil {
				return s.reconstruct(ctx, kl)
			}
		}
		return nil, postgres.WrapConflict(err)
	}

	log.WithFields(log.Fields{
		"kill_reference": killReference,
		"killer":         res.KillerUserID,
		"victim":         res.VictimUserID,
		"reward":         common.FormatAmount(res.RewardAmount, s.scale),
		"fee":            common.FormatAmount(res.FeeAmount, s.scale),
	}).Info("Килл рассчитан")

	// Комиссии — строго после коммита, не блокируя вызывающего.
	s.outbox.Enqueue(tasks...)
	return res, nil
}

// SettleWallCollision рассчитывает смерть об стену: то же списание с жертвы,
// но киллера нет — сумма reward+fee никому не начисляется.
func (s *Service) SettleWallCollision(ctx context.Context, victimTicketID int64, roomInstanceID string) (*CollisionResult, error) {
	// Столкновения со стеной не имеют внешнего идентификатора события:
	// ссылку генерируем сами, дубликатов доставки у этого пути нет.
	ref := "wall:" + uuid.NewString()

	var (
		res  *CollisionResult
		task CommissionTask
	)
	err := s.runner.InTx(ctx, func(tx postgres.DBTX) error {
		vt, err := s.lockConsumedTicket(ctx, tx, victimTicketID, roomInstanceID)
		if err != nil {
			return err
		}
		cfg, err := s.configs.GetActiveConfig(ctx, vt.RoomType)
		if err != nil {
			return err
		}
		reward := common.Quantize(cfg.RewardRatePlayer, s.scale)
		fee := common.Quantize(cfg.RewardRateTreasury, s.scale)
		totalDebit := reward.Add(fee)

		bal, err := s.ledger.LockForUpdate(ctx, tx, vt.UserID)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(totalDebit) {
			return fmt.Errorf("нужно %s, доступно %s: %w",
				totalDebit, bal.Available, common.ErrInsufficientVictimCredit)
		}

		killLogID, err := s.kills.Insert(ctx, tx, &KillLog{
			KillReference:  ref,
			VictimTicketID: vt.ID,
			VictimUserID:   vt.UserID,
			RoomInstanceID: roomInstanceID,
			RewardAmount:   reward,
			FeeAmount:      fee,
		})
		if err != nil {
			return err
		}

		penaltyTxID, err := s.ledger.InsertTransaction(ctx, tx, &wallet.Transaction{
			UserID:      vt.UserID,
			Type:        wallet.TxTypePenalty,
			Amount:      totalDebit,
			FeeAmount:   fee,
			ReferenceID: &ref,
			Metadata: map[string]any{
				"kill_log_id":   killLogID,
				"room_instance": roomInstanceID,
				"cause":         "wall_collision",
			},
		})
		if err != nil {
			return err
		}

		next, err := s.ledger.ApplyDelta(bal, wallet.Delta{Available: totalDebit.Neg()})
		if err != nil {
			return err
		}
		if err := s.ledger.Persist(ctx, tx, next, &penaltyTxID); err != nil {
			return err
		}

		res = &CollisionResult{
			UserID:        vt.UserID,
			Credit:        next.Available,
			PenaltyAmount: totalDebit,
		}
		task = CommissionTask{
			KillLogID:     killLogID,
			RefereeUserID: vt.UserID,
			Action:        ActionDeath,
			FeeAmount:     fee,
		}
		return nil
	})
	if err != nil {
		return nil, postgres.WrapConflict(err)
	}

	s.outbox.Enqueue(task)
	return res, nil
}

// SettleRespawn списывает стоимость респауна с владельца билета.
// Требование к балансу — max(entryFee, respawnCost): после респауна игрок
// должен оставаться платёжеспособным. Якорь идемпотентности не нужен:
// вызов происходит один раз на явное действие игрока.
func (s *Service) SettleRespawn(ctx context.Context, ticketID int64) (*RespawnResult, error) {
	var res *RespawnResult
	err := s.runner.InTx(ctx, func(tx postgres.DBTX) error {
		t, err := s.tickets.LockByID(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if t.Status != ticket.StatusConsumed {
			return fmt.Errorf("билет %d в состоянии %s: %w", t.ID, t.Status, common.ErrTicketNotInRoom)
		}

		cfg, err := s.configs.GetActiveConfig(ctx, t.RoomType)
		if err != nil {
			return err
		}
		cost := common.Quantize(cfg.RespawnCost, s.scale)
		required := common.MaxAmount(cfg.EntryFee, cost)

		bal, err := s.ledger.LockForUpdate(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(required) {
			return fmt.Errorf("нужно %s, доступно %s: %w",
				required, bal.Available, common.ErrInsufficientCreditForRespawn)
		}

		txID, err := s.ledger.InsertTransaction(ctx, tx, &wallet.Transaction{
			UserID: t.UserID,
			Type:   wallet.TxTypePenalty,
			Amount: cost,
			Metadata: map[string]any{
				"ticket_id": t.ID,
				"cause":     "respawn",
			},
		})
		if err != nil {
			return err
		}

		next, err := s.ledger.ApplyDelta(bal, wallet.Delta{Available: cost.Neg()})
		if err != nil {
			return err
		}
		if err := s.ledger.Persist(ctx, tx, next, &txID); err != nil {
			return err
		}

		res = &RespawnResult{UserID: t.UserID, Credit: next.Available, Cost: cost}
		return nil
	})
	if err != nil {
		return nil, postgres.WrapConflict(err)
	}
	return res, nil
}

// lockConsumedTicket блокирует билет и проверяет, что он потреблён
// именно в этом экземпляре комнаты.
func (s *Service) lockConsumedTicket(ctx context.Context, tx postgres.DBTX, ticketID int64, roomInstanceID string) (*ticket.Ticket, error) {
	t, err := s.tickets.LockByID(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != ticket.StatusConsumed {
		return nil, fmt.Errorf("билет %d в состоянии %s: %w", t.ID, t.Status, common.ErrTicketNotInRoom)
	}
	if t.RoomInstanceID == nil || *t.RoomInstanceID != roomInstanceID {
		return nil, fmt.Errorf("билет %d: %w", t.ID, common.ErrTicketNotInRoom)
	}
	return t, nil
}

// lockBalancesOrdered блокирует балансы двух игроков по возрастанию user id,
// устраняя взаимоблокировки между встречными киллами одной пары.
func (s *Service) lockBalancesOrdered(ctx context.Context, tx postgres.DBTX, a, b int64) (map[int64]*wallet.Balance, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	out := make(map[int64]*wallet.Balance, 2)
	for _, id := range []int64{first, second} {
		bal, err := s.ledger.LockForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out[id] = bal
	}
	return out, nil
}

// reconstruct восстанавливает результат уже рассчитанного килла:
// суммы из kill_log, кредиты — текущие балансы сторон.
func (s *Service) reconstruct(ctx context.Context, kl *KillLog) (*KillResult, error) {
	res := &KillResult{
		VictimUserID:     kl.VictimUserID,
		RewardAmount:     kl.RewardAmount,
		FeeAmount:        kl.FeeAmount,
		AlreadyProcessed: true,
	}

	victimBal, err := s.ledger.GetByUserID(ctx, nil, kl.VictimUserID)
	if err != nil {
		return nil, err
	}
	res.VictimCredit = victimBal.Available

	if kl.KillerUserID != nil {
		res.KillerUserID = *kl.KillerUserID
		killerBal, err := s.ledger.GetByUserID(ctx, nil, *kl.KillerUserID)
		if err != nil {
			return nil, err
		}
		res.KillerCredit = killerBal.Available
	}

	log.WithFields(log.Fields{
		"kill_reference": kl.KillReference,
		"kill_log_id":    kl.ID,
	}).Debug("Повторная доставка килла, возвращаем зафиксированный результат")
	return res, nil
}
