package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/raine/ewaste-quote/internal/ewaste"
)

const (
	DefaultWeightRate = 1.5
	DefaultMarketRate = 0.2
)

// Table maps each category to its base price. Categories missing from the
// table are priced as ewaste.Other.
type Table map[ewaste.Category]float64

// DefaultTable returns the stock base prices.
func DefaultTable() Table {
	return Table{
		ewaste.Laptop:   20.0,
		ewaste.Phone:    10.0,
		ewaste.Tablet:   15.0,
		ewaste.Monitor:  25.0,
		ewaste.Desktop:  30.0,
		ewaste.Keyboard: 5.0,
		ewaste.Mouse:    2.0,
		ewaste.Printer:  15.0,
		ewaste.Speaker:  7.0,
		ewaste.Other:    5.0,
	}
}

// TableFromMap builds a table from string keys, as found in settings files
// and model artifacts. Keys are matched case-insensitively and must name a
// taxonomy member; unknown keys are rejected rather than folded into OTHER.
func TableFromMap(m map[string]float64) (Table, error) {
	t := make(Table, len(m))
	for key, price := range m {
		c := ewaste.Category(strings.ToUpper(strings.TrimSpace(key)))
		if !c.Valid() {
			return nil, fmt.Errorf("unknown category %q in price table", key)
		}
		t[c] = price
	}
	return t, nil
}

// Base returns the base price for c, falling back to the OTHER entry.
func (t Table) Base(c ewaste.Category) float64 {
	if price, ok := t[c]; ok {
		return price
	}
	return t[ewaste.Other]
}

// Merge returns a copy of t with the entries of override applied on top.
func (t Table) Merge(override Table) Table {
	merged := make(Table, len(t)+len(override))
	for c, price := range t {
		merged[c] = price
	}
	for c, price := range override {
		merged[c] = price
	}
	return merged
}

// Validate checks that every price is finite and non-negative and that the
// OTHER fallback is present.
func (t Table) Validate() error {
	if _, ok := t[ewaste.Other]; !ok {
		return fmt.Errorf("price table has no %s entry", ewaste.Other)
	}
	for c, price := range t {
		if !c.Valid() {
			return fmt.Errorf("unknown category %q in price table", c)
		}
		if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
			return fmt.Errorf("invalid base price %v for %s", price, c)
		}
	}
	return nil
}

// Params are the tunable inputs of the pricing formula.
type Params struct {
	Table      Table
	WeightRate float64
	MarketRate float64
}

// DefaultParams returns the stock table and rates.
func DefaultParams() Params {
	return Params{
		Table:      DefaultTable(),
		WeightRate: DefaultWeightRate,
		MarketRate: DefaultMarketRate,
	}
}

// Validate checks the table and rates. The weight rate must be positive so the
// weight factor grows with weight; the market rate may be zero.
func (p Params) Validate() error {
	if err := p.Table.Validate(); err != nil {
		return err
	}
	if !finite(p.WeightRate) || p.WeightRate <= 0 {
		return fmt.Errorf("invalid weight rate %v", p.WeightRate)
	}
	if !finite(p.MarketRate) || p.MarketRate < 0 {
		return fmt.Errorf("invalid market rate %v", p.MarketRate)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
