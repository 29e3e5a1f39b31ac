// Package pricing содержит денежную арифметику магазина.
// Все расчёты выполняются в десятичных числах, суммы хранятся в копейках.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// ErrInvalidAmount возвращается для сумм, которые нельзя разобрать или которые не положительны.
var ErrInvalidAmount = errors.New("invalid amount")

// Cost вычисляет стоимость заказа в копейках по цене за 1000 единиц:
// round(price / 1000 * quantity, 2).
func Cost(pricePer1K string, quantity int) (int64, error) {
	price, err := decimal.NewFromString(pricePer1K)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", pricePer1K, err)
	}
	if !price.IsPositive() {
		return 0, fmt.Errorf("price %q: %w", pricePer1K, ErrInvalidAmount)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("quantity %d: %w", quantity, ErrInvalidAmount)
	}

	cost := price.Div(thousand).Mul(decimal.NewFromInt(int64(quantity))).Round(2)

	return cost.Mul(decimal.NewFromInt(100)).IntPart(), nil
}

// ParseAmount разбирает введённую пользователем сумму в копейки.
func ParseAmount(text string) (int64, error) {
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", text, ErrInvalidAmount)
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount %q: %w", text, ErrInvalidAmount)
	}
	if amount.Exponent() < -2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places: %w", text, ErrInvalidAmount)
	}

	return amount.Mul(decimal.NewFromInt(100)).IntPart(), nil
}

// FormatCents форматирует сумму в копейках как строку с двумя знаками после запятой.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
