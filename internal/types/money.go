// README: Shared identifier and money helpers used across modules.
package types

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// Ptr returns a pointer to a copy of id.
func (id ID) Ptr() *ID {
	return &id
}

// Money amounts are decimals with two fractional digits at rest (NUMERIC(12,2)).
type Money = decimal.Decimal

var Zero = decimal.Zero

// Sum adds amounts left to right.
func Sum(amounts ...Money) Money {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// Round rounds to cents using banker's rounding, matching NUMERIC(12,2) storage.
func Round(m Money) Money {
	return m.RoundBank(2)
}
