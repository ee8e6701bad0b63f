package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snake-arena/internal/common"
	"snake-arena/internal/db/postgres"
	"snake-arena/internal/features/roomconfig"
	"snake-arena/internal/features/wallet"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeRunner выполняет fn без настоящей БД. Откат не эмулируется:
// fake-хранилища мутируют состояние только в Persist/Mark*, до которых
// при ошибке дело не доходит.
type fakeRunner struct{}

func (fakeRunner) InTx(_ context.Context, fn func(tx postgres.DBTX) error) error {
	return fn(nil)
}

type fakeStore struct {
	tickets map[int64]*Ticket
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{tickets: make(map[int64]*Ticket)}
}

func (f *fakeStore) Insert(_ context.Context, _ postgres.DBTX, t *Ticket) (*Ticket, error) {
	f.nextID++
	stored := *t
	stored.ID = f.nextID
	stored.Status = StatusIssued
	stored.CreatedAt = time.Now().UTC()
	f.tickets[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (f *fakeStore) GetByID(_ context.Context, _ postgres.DBTX, id int64) (*Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return nil, common.ErrTicketNotFound
	}
	out := *t
	return &out, nil
}

func (f *fakeStore) LockByID(ctx context.Context, _ postgres.DBTX, id int64) (*Ticket, error) {
	return f.GetByID(ctx, nil, id)
}

func (f *fakeStore) MarkConsumed(_ context.Context, _ postgres.DBTX, id int64, roomInstanceID string, entryFee decimal.Decimal) error {
	t := f.tickets[id]
	now := time.Now().UTC()
	t.Status = StatusConsumed
	t.RoomInstanceID = &roomInstanceID
	t.EntryFee = entryFee
	t.ConsumedAt = &now
	return nil
}

func (f *fakeStore) MarkSettled(_ context.Context, _ postgres.DBTX, id int64) error {
	now := time.Now().UTC()
	f.tickets[id].SettledAt = &now
	return nil
}

func (f *fakeStore) FindConsumedUnsettled(_ context.Context, limit int) ([]*Ticket, error) {
	var out []*Ticket
	for _, t := range f.tickets {
		if t.Status == StatusConsumed && t.SettledAt == nil {
			cp := *t
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ExpireStale(_ context.Context, olderThan time.Time) (int64, error) {
	var n int64
	for _, t := range f.tickets {
		if t.Status == StatusIssued && t.CreatedAt.Before(olderThan) {
			t.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

type fakeLedger struct {
	arith    *wallet.Service
	balances map[int64]*wallet.Balance
	txs      []*wallet.Transaction
	nextTxID int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		arith:    wallet.NewService(nil, 6),
		balances: make(map[int64]*wallet.Balance),
	}
}

func (f *fakeLedger) setBalance(userID int64, available string) {
	f.balances[userID] = &wallet.Balance{
		ID: userID, UserID: userID,
		Available: dec(available), Locked: decimal.Zero,
	}
}

func (f *fakeLedger) GetOrCreate(_ context.Context, _ postgres.DBTX, userID int64) (*wallet.Balance, error) {
	if b, ok := f.balances[userID]; ok {
		out := *b
		return &out, nil
	}
	f.setBalance(userID, "0")
	out := *f.balances[userID]
	return &out, nil
}

func (f *fakeLedger) LockForUpdate(_ context.Context, _ postgres.DBTX, userID int64) (*wallet.Balance, error) {
	b, ok := f.balances[userID]
	if !ok {
		return nil, common.ErrBalanceNotFound
	}
	out := *b
	return &out, nil
}

func (f *fakeLedger) ApplyDelta(b *wallet.Balance, d wallet.Delta) (*wallet.Balance, error) {
	return f.arith.ApplyDelta(b, d)
}

func (f *fakeLedger) Persist(_ context.Context, _ postgres.DBTX, b *wallet.Balance, lastTxID *int64) error {
	stored := *b
	if lastTxID != nil {
		stored.LastTransactionID = lastTxID
	}
	f.balances[b.UserID] = &stored
	return nil
}

func (f *fakeLedger) InsertTransaction(_ context.Context, _ postgres.DBTX, t *wallet.Transaction) (int64, error) {
	f.nextTxID++
	stored := *t
	stored.ID = f.nextTxID
	f.txs = append(f.txs, &stored)
	return stored.ID, nil
}

type fakeConfigs struct {
	cfg *roomconfig.Config
}

func (f *fakeConfigs) GetActiveConfig(_ context.Context, _ string) (*roomconfig.Config, error) {
	out := *f.cfg
	return &out, nil
}

func testConfig() *roomconfig.Config {
	return &roomconfig.Config{
		ID:                 1,
		RoomType:           "vip_snake",
		EntryFee:           dec("1"),
		RewardRatePlayer:   dec("0.9"),
		RewardRateTreasury: dec("0.1"),
		RespawnCost:        dec("0.1"),
		MaxClients:         20,
		TickRate:           20,
		IsActive:           true,
	}
}

func newTestService() (*Service, *fakeStore, *fakeLedger) {
	store := newFakeStore()
	ledger := newFakeLedger()
	svc := NewService(store, ledger, &fakeConfigs{cfg: testConfig()}, fakeRunner{})
	return svc, store, ledger
}

func TestCheckAccessIssuesTicket(t *testing.T) {
	svc, store, ledger := newTestService()
	ledger.setBalance(1, "10")

	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)
	assert.True(t, res.CanJoin)
	require.NotNil(t, res.Ticket)
	assert.Equal(t, StatusIssued, res.Ticket.Status)
	assert.NotEmpty(t, res.Ticket.TicketCode)

	// резервация, не списание
	assert.Equal(t, "10.000000", common.FormatAmount(ledger.balances[1].Available, 6))
	assert.Len(t, store.tickets, 1)
}

func TestCheckAccessInsufficientCredit(t *testing.T) {
	svc, store, ledger := newTestService()
	ledger.setBalance(1, "0.5")

	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)
	assert.False(t, res.CanJoin)
	assert.NotEmpty(t, res.Reason)
	assert.Nil(t, res.Ticket)
	assert.Empty(t, store.tickets)
}

func TestValidate(t *testing.T) {
	svc, _, ledger := newTestService()
	ledger.setBalance(1, "10")
	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)
	id := res.Ticket.ID

	// свой билет
	got, err := svc.Validate(context.Background(), id, 1)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	// чужой билет
	_, err = svc.Validate(context.Background(), id, 2)
	assert.ErrorIs(t, err, common.ErrTicketOwnershipMismatch)

	// expectedUserID=0 — владельца не проверяем
	_, err = svc.Validate(context.Background(), id, 0)
	assert.NoError(t, err)

	// несуществующий билет
	_, err = svc.Validate(context.Background(), 999, 1)
	assert.ErrorIs(t, err, common.ErrTicketNotFound)
}

func TestConsumeMovesFeeToLocked(t *testing.T) {
	svc, store, ledger := newTestService()
	ledger.setBalance(1, "10")
	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)

	consumed, err := svc.Consume(context.Background(), res.Ticket.ID, "room-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConsumed, consumed.Status)
	require.NotNil(t, consumed.RoomInstanceID)
	assert.Equal(t, "room-1", *consumed.RoomInstanceID)
	assert.NotNil(t, consumed.ConsumedAt)

	bal := ledger.balances[1]
	assert.Equal(t, "9.000000", common.FormatAmount(bal.Available, 6))
	assert.Equal(t, "1.000000", common.FormatAmount(bal.Locked, 6))
	assert.Equal(t, StatusConsumed, store.tickets[consumed.ID].Status)
}

func TestConsumeAtMostOnce(t *testing.T) {
	svc, _, ledger := newTestService()
	ledger.setBalance(1, "10")
	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)

	_, err = svc.Consume(context.Background(), res.Ticket.ID, "room-1")
	require.NoError(t, err)

	// повторное потребление падает, а не проходит тихо
	_, err = svc.Consume(context.Background(), res.Ticket.ID, "room-2")
	assert.ErrorIs(t, err, common.ErrTicketAlreadyConsumed)

	// деньги заблокированы ровно один раз
	bal := ledger.balances[1]
	assert.Equal(t, "9.000000", common.FormatAmount(bal.Available, 6))
	assert.Equal(t, "1.000000", common.FormatAmount(bal.Locked, 6))
}

func TestConsumeInsufficientCredit(t *testing.T) {
	svc, _, ledger := newTestService()
	ledger.setBalance(1, "10")
	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)

	// баланс просел между выдачей и потреблением
	ledger.setBalance(1, "0.5")
	_, err = svc.Consume(context.Background(), res.Ticket.ID, "room-1")
	assert.ErrorIs(t, err, common.ErrInsufficientCredit)
}

func TestSettleExitChargesLockedFee(t *testing.T) {
	svc, _, ledger := newTestService()
	ledger.setBalance(1, "10")
	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)
	_, err = svc.Consume(context.Background(), res.Ticket.ID, "room-1")
	require.NoError(t, err)

	require.NoError(t, svc.SettleExit(context.Background(), res.Ticket.ID))

	// взнос ушёл казне: locked обнулился, available не вырос
	bal := ledger.balances[1]
	assert.Equal(t, "9.000000", common.FormatAmount(bal.Available, 6))
	assert.Equal(t, "0.000000", common.FormatAmount(bal.Locked, 6))

	require.Len(t, ledger.txs, 1)
	assert.Equal(t, wallet.TxTypeEntryFee, ledger.txs[0].Type)
	assert.Equal(t, "1.000000", common.FormatAmount(ledger.txs[0].Amount, 6))

	// повторный расчёт того же билета — ошибка
	err = svc.SettleExit(context.Background(), res.Ticket.ID)
	assert.ErrorIs(t, err, common.ErrTicketAlreadySettled)
}

func TestRefundReturnsLockedFee(t *testing.T) {
	svc, _, ledger := newTestService()
	ledger.setBalance(1, "10")
	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)
	_, err = svc.Consume(context.Background(), res.Ticket.ID, "room-1")
	require.NoError(t, err)

	require.NoError(t, svc.Refund(context.Background(), res.Ticket.ID))

	bal := ledger.balances[1]
	assert.Equal(t, "10.000000", common.FormatAmount(bal.Available, 6))
	assert.Equal(t, "0.000000", common.FormatAmount(bal.Locked, 6))

	require.Len(t, ledger.txs, 1)
	assert.Equal(t, wallet.TxTypeEntryRefund, ledger.txs[0].Type)
}

func TestSettleExitRequiresConsumed(t *testing.T) {
	svc, _, ledger := newTestService()
	ledger.setBalance(1, "10")
	res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)

	// ISSUED билет расчёту не подлежит
	err = svc.SettleExit(context.Background(), res.Ticket.ID)
	assert.ErrorIs(t, err, common.ErrTicketNotInRoom)
}

func TestExpireStale(t *testing.T) {
	svc, store, ledger := newTestService()
	ledger.setBalance(1, "10")

	for i := 0; i < 3; i++ {
		res, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
		require.NoError(t, err)
		// состариваем выдачу вручную
		store.tickets[res.Ticket.ID].CreatedAt = time.Now().UTC().Add(-time.Hour)
	}
	fresh, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)

	n, err := svc.ExpireStale(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, StatusIssued, store.tickets[fresh.Ticket.ID].Status)
}

// Рестарт сервера: потреблённый без расчёта билет осиротел,
// взнос возвращается на available.
func TestRefundOrphaned(t *testing.T) {
	svc, store, ledger := newTestService()
	ledger.setBalance(1, "10")

	orphan, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)
	_, err = svc.Consume(context.Background(), orphan.Ticket.ID, "room-dead")
	require.NoError(t, err)

	settled, err := svc.CheckAccess(context.Background(), 1, "vip_snake")
	require.NoError(t, err)
	_, err = svc.Consume(context.Background(), settled.Ticket.ID, "room-dead")
	require.NoError(t, err)
	require.NoError(t, svc.SettleExit(context.Background(), settled.Ticket.ID))

	n, err := svc.RefundOrphaned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// первый взнос вернулся, второй остался списанным
	bal := ledger.balances[1]
	assert.Equal(t, "9.000000", common.FormatAmount(bal.Available, 6))
	assert.Equal(t, "0.000000", common.FormatAmount(bal.Locked, 6))
	assert.NotNil(t, store.tickets[orphan.Ticket.ID].SettledAt)
}
