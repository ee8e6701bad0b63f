package common

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizeTruncatesTowardsZero(t *testing.T) {
	d := decimal.RequireFromString("1.2345678")
	assert.Equal(t, "1.234567", FormatAmount(Quantize(d, 6), 6))

	// отрицательные тоже режутся к нулю, а не вниз
	n := decimal.RequireFromString("-1.2345678")
	assert.Equal(t, "-1.234567", FormatAmount(Quantize(n, 6), 6))
}

func TestFormatAmountFixedScale(t *testing.T) {
	assert.Equal(t, "0.900000", FormatAmount(decimal.RequireFromString("0.9"), 6))
	assert.Equal(t, "10.000000", FormatAmount(decimal.NewFromInt(10), 6))
	assert.Equal(t, "0.001000", FormatAmount(decimal.RequireFromString("0.001"), 6))
}

func TestParseAmountRejectsNegative(t *testing.T) {
	_, err := ParseAmount("-1")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseAmount("не число")
	assert.Error(t, err)

	d, err := ParseAmount("1.5")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("1.5")))
}

func TestMaxAmount(t *testing.T) {
	a := decimal.RequireFromString("1")
	b := decimal.RequireFromString("0.1")
	assert.True(t, MaxAmount(a, b).Equal(a))
	assert.True(t, MaxAmount(b, a).Equal(a))
	assert.True(t, MaxAmount(a, a).Equal(a))
}

// Тысяча минимальных начислений обязана сойтись в точную сумму.
// Именно эта гарантия ломается на float64.
func TestAccumulationNoDrift(t *testing.T) {
	step := decimal.RequireFromString("0.000001")
	sum := decimal.Zero
	for i := 0; i < 1000; i++ {
		sum = Quantize(sum.Add(step), 6)
	}
	assert.Equal(t, "0.001000", FormatAmount(sum, 6))

	// и десять тысяч раз по 0.9 — ровно 9000
	reward := decimal.RequireFromString("0.9")
	sum = decimal.Zero
	for i := 0; i < 10000; i++ {
		sum = Quantize(sum.Add(reward), 6)
	}
	assert.Equal(t, "9000.000000", FormatAmount(sum, 6))
}
