package referral

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snake-arena/internal/common"
	"snake-arena/internal/config"
	"snake-arena/internal/db/postgres"
	"snake-arena/internal/features/settlement"
	"snake-arena/internal/features/users"
	"snake-arena/internal/features/wallet"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeRunner struct{}

func (fakeRunner) InTx(_ context.Context, fn func(tx postgres.DBTX) error) error {
	return fn(nil)
}

type fakeUsers struct {
	byID map[int64]*users.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*users.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

type fakeStore struct {
	rewards map[string]*Reward
	nextID  int64
	// если задана — ConfirmPending падает, не трогая запись
	confirmErr error
	// вызывается в начале InsertPending: имитация конкурента,
	// успевшего вставить запись между FindByKey и InsertPending
	onInsert func(f *fakeStore)
}

func newFakeStore() *fakeStore {
	return &fakeStore{rewards: make(map[string]*Reward)}
}

func payoutKey(referrerID, refereeID, killLogID int64, action string) string {
	return fmt.Sprintf("%d/%d/%d/%s", referrerID, refereeID, killLogID, action)
}

func (f *fakeStore) FindByKey(_ context.Context, _ postgres.DBTX, referrerID, refereeID, killLogID int64, action string) (*Reward, error) {
	rw, ok := f.rewards[payoutKey(referrerID, refereeID, killLogID, action)]
	if !ok {
		return nil, nil
	}
	out := *rw
	return &out, nil
}

func (f *fakeStore) InsertPending(_ context.Context, rw *Reward) (*Reward, error) {
	if f.onInsert != nil {
		f.onInsert(f)
	}
	key := payoutKey(rw.ReferrerID, rw.RefereeID, rw.KillLogID, rw.ActionType)
	if _, exists := f.rewards[key]; exists {
		// та же ошибка, что отдаёт драйвер при нарушении уникальности
		return nil, &pgconn.PgError{Code: "23505", ConstraintName: PayoutConstraint}
	}
	f.nextID++
	stored := *rw
	stored.ID = f.nextID
	stored.Status = StatusPending
	stored.CreatedAt = time.Now().UTC()
	f.rewards[key] = &stored
	out := stored
	return &out, nil
}

func (f *fakeStore) ConfirmPending(_ context.Context, _ postgres.DBTX, id int64) (bool, error) {
	if f.confirmErr != nil {
		return false, f.confirmErr
	}
	for _, rw := range f.rewards {
		if rw.ID == id {
			if rw.Status != StatusPending {
				return false, nil
			}
			now := time.Now().UTC()
			rw.Status = StatusConfirmed
			rw.ConfirmedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) SumConfirmed(_ context.Context, referrerID, refereeID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, rw := range f.rewards {
		if rw.ReferrerID == referrerID && rw.RefereeID == refereeID && rw.Status == StatusConfirmed {
			sum = sum.Add(rw.Amount)
		}
	}
	return sum, nil
}

func (f *fakeStore) FindStalePending(_ context.Context, olderThan time.Time, limit int) ([]*Reward, error) {
	var out []*Reward
	for _, rw := range f.rewards {
		if rw.Status == StatusPending && rw.CreatedAt.Before(olderThan) {
			cp := *rw
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
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

type fixture struct {
	svc    *Service
	users  *fakeUsers
	store  *fakeStore
	ledger *fakeLedger
}

func newFixture(cap string) *fixture {
	us := &fakeUsers{byID: make(map[int64]*users.User)}
	store := newFakeStore()
	ledger := newFakeLedger()
	cfg := &config.Config{
		TokenDecimals:         6,
		ReferralKillRate:      dec("0.05"),
		ReferralDeathRate:     dec("0.01"),
		ReferralCommissionCap: dec(cap),
	}
	svc := NewService(store, us, ledger, fakeRunner{}, cfg)
	return &fixture{svc: svc, users: us, store: store, ledger: ledger}
}

func (fx *fixture) addReferredUser(id, referrerID int64) {
	fx.users.byID[id] = &users.User{ID: id, WalletAddress: fmt.Sprintf("0x%02d", id), ReferredBy: &referrerID}
	if _, ok := fx.ledger.balances[referrerID]; !ok {
		fx.ledger.setBalance(referrerID, "0")
	}
}

func deathTask(killLogID, refereeID int64, fee string) settlement.CommissionTask {
	return settlement.CommissionTask{
		KillLogID:     killLogID,
		RefereeUserID: refereeID,
		Action:        settlement.ActionDeath,
		FeeAmount:     dec(fee),
	}
}

// Опорный сценарий: казна события 0.1, ставка за смерть 0.01 —
// реферер жертвы получает ровно 0.001000.
func TestProcessTaskDeathCommission(t *testing.T) {
	fx := newFixture("0")
	fx.addReferredUser(2, 9)

	rw, err := fx.svc.ProcessTask(context.Background(), deathTask(1, 2, "0.1"))
	require.NoError(t, err)
	require.NotNil(t, rw)
	assert.Equal(t, StatusConfirmed, rw.Status)
	assert.Equal(t, "0.001000", common.FormatAmount(rw.Amount, 6))
	assert.NotNil(t, rw.ConfirmedAt)

	assert.Equal(t, "0.001000", common.FormatAmount(fx.ledger.balances[9].Available, 6))
	require.Len(t, fx.ledger.txs, 1)
	assert.Equal(t, wallet.TxTypeReward, fx.ledger.txs[0].Type)
}

func TestProcessTaskKillCommissionRate(t *testing.T) {
	fx := newFixture("0")
	fx.addReferredUser(1, 9)

	rw, err := fx.svc.ProcessTask(context.Background(), settlement.CommissionTask{
		KillLogID: 1, RefereeUserID: 1,
		Action: settlement.ActionKill, FeeAmount: dec("0.1"),
	})
	require.NoError(t, err)
	require.NotNil(t, rw)
	// ставка за килл 0.05: 0.1 × 0.05 = 0.005
	assert.Equal(t, "0.005000", common.FormatAmount(rw.Amount, 6))
}

func TestProcessTaskNoReferrer(t *testing.T) {
	fx := newFixture("0")
	fx.users.byID[2] = &users.User{ID: 2, WalletAddress: "0x02"}

	rw, err := fx.svc.ProcessTask(context.Background(), deathTask(1, 2, "0.1"))
	require.NoError(t, err)
	assert.Nil(t, rw)
	assert.Empty(t, fx.store.rewards)
	assert.Empty(t, fx.ledger.txs)
}

func TestProcessTaskIdempotent(t *testing.T) {
	fx := newFixture("0")
	fx.addReferredUser(2, 9)
	task := deathTask(1, 2, "0.1")

	first, err := fx.svc.ProcessTask(context.Background(), task)
	require.NoError(t, err)

	second, err := fx.svc.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// ровно одна запись и одна выплата
	assert.Len(t, fx.store.rewards, 1)
	assert.Len(t, fx.ledger.txs, 1)
	assert.Equal(t, "0.001000", common.FormatAmount(fx.ledger.balances[9].Available, 6))
}

// seed вставляет запись так, как будто её создал другой воркер.
func (f *fakeStore) seed(rw *Reward) {
	f.nextID++
	stored := *rw
	stored.ID = f.nextID
	stored.CreatedAt = time.Now().UTC()
	f.rewards[payoutKey(rw.ReferrerID, rw.RefereeID, rw.KillLogID, rw.ActionType)] = &stored
}

// Проигранная гонка вставки: конкурент создал PENDING-запись между
// проверкой FindByKey и INSERT. Нарушение уникальности перечитывает
// чужую запись и дорасчитывает её — ровно одна выплата.
func TestProcessTaskInsertRaceRereadsPending(t *testing.T) {
	fx := newFixture("0")
	fx.addReferredUser(2, 9)

	fx.store.onInsert = func(f *fakeStore) {
		f.onInsert = nil
		f.seed(&Reward{
			ReferrerID: 9, RefereeID: 2, KillLogID: 1,
			ActionType: string(settlement.ActionDeath),
			Amount:     dec("0.001"), Status: StatusPending,
		})
	}

	rw, err := fx.svc.ProcessTask(context.Background(), deathTask(1, 2, "0.1"))
	require.NoError(t, err)
	require.NotNil(t, rw)
	assert.Equal(t, StatusConfirmed, rw.Status)

	assert.Len(t, fx.store.rewards, 1)
	assert.Len(t, fx.ledger.txs, 1)
	assert.Equal(t, "0.001000", common.FormatAmount(fx.ledger.balances[9].Available, 6))
}

// Конкурент успел и вставить, и подтвердить: перечитанная CONFIRMED-запись
// возвращается как есть, нового начисления нет.
func TestProcessTaskInsertRaceAlreadyConfirmed(t *testing.T) {
	fx := newFixture("0")
	fx.addReferredUser(2, 9)

	fx.store.onInsert = func(f *fakeStore) {
		f.onInsert = nil
		now := time.Now().UTC()
		f.seed(&Reward{
			ReferrerID: 9, RefereeID: 2, KillLogID: 1,
			ActionType: string(settlement.ActionDeath),
			Amount:     dec("0.001"), Status: StatusConfirmed, ConfirmedAt: &now,
		})
	}

	rw, err := fx.svc.ProcessTask(context.Background(), deathTask(1, 2, "0.1"))
	require.NoError(t, err)
	require.NotNil(t, rw)
	assert.Equal(t, StatusConfirmed, rw.Status)

	assert.Empty(t, fx.ledger.txs)
	assert.True(t, fx.ledger.balances[9].Available.IsZero())
}

func TestProcessTaskCommissionCap(t *testing.T) {
	fx := newFixture("0.0005")
	fx.addReferredUser(2, 9)

	_, err := fx.svc.ProcessTask(context.Background(), deathTask(1, 2, "0.1"))
	assert.ErrorIs(t, err, common.ErrCommissionCapExceeded)
	assert.Empty(t, fx.store.rewards)
	assert.True(t, fx.ledger.balances[9].Available.IsZero())
}

func TestProcessTaskZeroCommissionSkipped(t *testing.T) {
	fx := newFixture("0")
	fx.addReferredUser(2, 9)

	// казначейская доля нулевая — начислять нечего
	rw, err := fx.svc.ProcessTask(context.Background(), deathTask(1, 2, "0"))
	require.NoError(t, err)
	assert.Nil(t, rw)
	assert.Empty(t, fx.store.rewards)
}

// Сбой выплаты оставляет запись в PENDING; дожим планировщиком
// доводит её до CONFIRMED без двойного начисления.
func TestReconfirmStaleRecoversPending(t *testing.T) {
	fx := newFixture("0")
	fx.addReferredUser(2, 9)
	task := deathTask(1, 2, "0.1")

	fx.store.confirmErr = errors.New("connection reset")
	_, err := fx.svc.ProcessTask(context.Background(), task)
	require.Error(t, err)

	// деньги не начислены, запись зависла в PENDING
	assert.True(t, fx.ledger.balances[9].Available.IsZero())
	require.Len(t, fx.store.rewards, 1)
	for _, rw := range fx.store.rewards {
		assert.Equal(t, StatusPending, rw.Status)
		rw.CreatedAt = time.Now().UTC().Add(-time.Hour)
	}

	fx.store.confirmErr = nil
	require.NoError(t, fx.svc.ReconfirmStale(context.Background(), 30*time.Minute, 100))

	for _, rw := range fx.store.rewards {
		assert.Equal(t, StatusConfirmed, rw.Status)
	}
	assert.Equal(t, "0.001000", common.FormatAmount(fx.ledger.balances[9].Available, 6))
	assert.Len(t, fx.ledger.txs, 1)
}

// Воркер переживает и ошибки, и паники обработчика: очередь комиссий
// не имеет права уронить процесс.
func TestWorkerSurvivesFailures(t *testing.T) {
	fx := newFixture("0")
	// пользователя нет — ProcessTask вернёт ошибку
	tasks := make(chan settlement.CommissionTask, 2)
	tasks <- deathTask(1, 777, "0.1")
	close(tasks)

	w := NewWorker(fx.svc, tasks)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("воркер не завершился после закрытия очереди")
	}
	assert.Empty(t, fx.ledger.txs)
}
