// Package wallet — service.go содержит низкоуровневые примитивы леджера.
// Сервис не открывает транзакций: атомарность обеспечивают вызывающие
// модули (билеты, расчётный движок, комиссии), передавая DBTX.
package wallet

import (
	"context"
	"fmt"

	"snake-arena/internal/common"
	"snake-arena/internal/db/postgres"
)

// Service — леджер кошельков: примитивы чтения, блокировки и арифметики.
type Service struct {
	repo  *Repository
	scale int32 // точность токена (знаков после запятой)
}

// NewService создаёт леджер кошельков.
func NewService(repo *Repository, scale int32) *Service {
	return &Service{repo: repo, scale: scale}
}

// GetOrCreate возвращает баланс игрока, лениво создавая нулевую запись.
func (s *Service) GetOrCreate(ctx context.Context, db postgres.DBTX, userID int64) (*Balance, error) {
	return s.repo.GetOrCreate(ctx, db, userID)
}

// GetByUserID возвращает баланс без блокировки.
func (s *Service) GetByUserID(ctx context.Context, db postgres.DBTX, userID int64) (*Balance, error) {
	return s.repo.GetByUserID(ctx, db, userID)
}

// LockForUpdate блокирует строку баланса до конца транзакции.
func (s *Service) LockForUpdate(ctx context.Context, tx postgres.DBTX, userID int64) (*Balance, error) {
	return s.repo.LockForUpdate(ctx, tx, userID)
}

// ApplyDelta — чистая арифметика: считает новые суммы баланса
// и отклоняет изменение, если available уйдёт в минус.
// Никуда не пишет; результат сохраняется отдельным Persist.
func (s *Service) ApplyDelta(b *Balance, d Delta) (*Balance, error) {
	newAvailable := common.Quantize(b.Available.Add(d.Available), s.scale)
	newLocked := common.Quantize(b.Locked.Add(d.Locked), s.scale)

	if newAvailable.IsNegative() {
		return nil, fmt.Errorf("available %s + delta %s: %w",
			b.Available, d.Available, common.ErrInsufficientCredit)
	}
	if newLocked.IsNegative() {
		return nil, fmt.Errorf("locked %s + delta %s: %w",
			b.Locked, d.Locked, common.ErrInvalidAmount)
	}

	out := *b
	out.Available = newAvailable
	out.Locked = newLocked
	return &out, nil
}

// Persist записывает суммы баланса, рассчитанные ApplyDelta.
// Вызывается только под блокировкой LockForUpdate в той же транзакции.
func (s *Service) Persist(ctx context.Context, tx postgres.DBTX, b *Balance, lastTxID *int64) error {
	if lastTxID == nil {
		lastTxID = b.LastTransactionID
	}
	return s.repo.UpdateAmounts(ctx, tx, b.UserID, b.Available, b.Locked, lastTxID)
}

// InsertTransaction пишет запись журнала в рамках транзакции tx.
// Сумма приводится к точности токена на записи.
func (s *Service) InsertTransaction(ctx context.Context, tx postgres.DBTX, t *Transaction) (int64, error) {
	t.Amount = common.Quantize(t.Amount, s.scale)
	t.FeeAmount = common.Quantize(t.FeeAmount, s.scale)
	return s.repo.InsertTransaction(ctx, tx, t)
}

// RecentTransactions возвращает последние записи журнала игрока.
func (s *Service) RecentTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error) {
	return s.repo.GetRecentTransactions(ctx, nil, userID, limit)
}

// Format возвращает сумму в строковом виде с точностью токена.
func (s *Service) Format(b *Balance) string {
	return common.FormatAmount(b.Available, s.scale)
}
