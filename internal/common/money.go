// Package common содержит общие утилиты, используемые во всём проекте.
// money.go — работа с денежными суммами: фиксированная точность, форматирование.
//
// Все суммы внутри сервиса — decimal.Decimal, никогда float64.
// Накопительная ошибка за тысячи киллов обязана быть нулевой.
package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantize приводит сумму к точности токена (scale знаков после запятой).
// Лишние знаки отбрасываются в сторону нуля — деньги никогда не "дорисовываются".
func Quantize(d decimal.Decimal, scale int32) decimal.Decimal {
	return d.Truncate(scale)
}

// FormatAmount форматирует сумму как строку с фиксированным числом знаков.
// Именно в таком виде суммы уходят клиентам и пишутся в журнал.
func FormatAmount(d decimal.Decimal, scale int32) string {
	return d.StringFixed(scale)
}

// ParseAmount разбирает денежную строку. Отрицательные суммы не принимаются.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("некорректная сумма %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MaxAmount возвращает большую из двух сумм.
func MaxAmount(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}
