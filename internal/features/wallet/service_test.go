package wallet

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snake-arena/internal/common"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyDelta(t *testing.T) {
	svc := NewService(nil, 6)
	bal := &Balance{UserID: 1, Available: dec("10"), Locked: dec("1")}

	next, err := svc.ApplyDelta(bal, Delta{Available: dec("0.9")})
	require.NoError(t, err)
	assert.Equal(t, "10.900000", common.FormatAmount(next.Available, 6))
	assert.Equal(t, "1.000000", common.FormatAmount(next.Locked, 6))

	// исходный баланс не трогается
	assert.Equal(t, "10.000000", common.FormatAmount(bal.Available, 6))
}

func TestApplyDeltaRejectsNegativeAvailable(t *testing.T) {
	svc := NewService(nil, 6)
	bal := &Balance{UserID: 1, Available: dec("0.5")}

	_, err := svc.ApplyDelta(bal, Delta{Available: dec("-1")})
	assert.ErrorIs(t, err, common.ErrInsufficientCredit)
}

func TestApplyDeltaRejectsNegativeLocked(t *testing.T) {
	svc := NewService(nil, 6)
	bal := &Balance{UserID: 1, Available: dec("10"), Locked: dec("0.5")}

	_, err := svc.ApplyDelta(bal, Delta{Locked: dec("-1")})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestApplyDeltaExactZero(t *testing.T) {
	svc := NewService(nil, 6)
	bal := &Balance{UserID: 1, Available: dec("1")}

	// списание в точный ноль — допустимо
	next, err := svc.ApplyDelta(bal, Delta{Available: dec("-1")})
	require.NoError(t, err)
	assert.True(t, next.Available.IsZero())
}

func TestApplyDeltaQuantizes(t *testing.T) {
	svc := NewService(nil, 6)
	bal := &Balance{UserID: 1, Available: dec("1")}

	next, err := svc.ApplyDelta(bal, Delta{Available: dec("0.0000009")})
	require.NoError(t, err)
	// хвост за пределами точности токена отбрасывается
	assert.Equal(t, "1.000000", common.FormatAmount(next.Available, 6))
}
