package sales

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	// DefaultDenominationFactor scales whole units to the token's smallest
	// denomination (9 decimals).
	DefaultDenominationFactor uint64 = 1_000_000_000
	// DefaultPricePerUnit is 0.001 of the native currency, in its smallest unit.
	DefaultPricePerUnit uint64 = 1_000_000
)

// Pricing holds the fixed conversion constants of a campaign.
type Pricing struct {
	DenominationFactor uint64 `toml:"DenominationFactor" json:"denomination_factor"`
	PricePerUnit       uint64 `toml:"PricePerUnit" json:"price_per_unit"`
}

// DefaultPricing returns the pricing the sale program ships with.
func DefaultPricing() Pricing {
	return Pricing{
		DenominationFactor: DefaultDenominationFactor,
		PricePerUnit:       DefaultPricePerUnit,
	}
}

// Validate rejects pricing that would make every conversion zero.
func (p Pricing) Validate() error {
	if p.DenominationFactor == 0 {
		return errors.New("sale: denomination factor must be greater than zero")
	}
	if p.PricePerUnit == 0 {
		return errors.New("sale: price per unit must be greater than zero")
	}
	return nil
}

// RawUnits converts whole units to the smallest token denomination.
func (p Pricing) RawUnits(units uint64) (uint64, error) {
	return checkedMul(units, p.DenominationFactor)
}

// Cost returns the native-currency payment for units.
func (p Pricing) Cost(units uint64) (uint64, error) {
	return checkedMul(units, p.PricePerUnit)
}

func checkedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	return lo, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}
