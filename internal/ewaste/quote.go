package ewaste

import (
	"math"
	"strconv"
	"strings"
)

// Breakdown holds the itemized components of a price quote. The components are
// the source of truth; the quote total is derived from them.
type Breakdown struct {
	BasePrice        float64 `json:"basePrice"`
	WeightFactor     float64 `json:"weightFactor"`
	MarketAdjustment float64 `json:"marketAdjustment"`
}

// Sum adds the components without rounding.
func (b Breakdown) Sum() float64 {
	return b.BasePrice + b.WeightFactor + b.MarketAdjustment
}

// PriceQuote is the priced estimate for one (category, weight) pair.
type PriceQuote struct {
	EstimatedPrice float64   `json:"estimatedPrice"`
	Breakdown      Breakdown `json:"breakdown"`
}

// NewPriceQuote derives the rounded total from b.
func NewPriceQuote(b Breakdown) PriceQuote {
	return PriceQuote{EstimatedPrice: Round2(b.Sum()), Breakdown: b}
}

// Round2 rounds v to two decimal places, half away from zero, on its decimal
// value. So 7.125 becomes 7.13 and 1.005 becomes 1.01 even though neither is
// exact in binary.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	// A sum such as 5 + 0.71*1.5 + 1 comes out as 7.0649999999999995. Snap to
	// the 15 significant digits a float64 holds before looking for the tie.
	snapped, err := strconv.ParseFloat(strconv.FormatFloat(math.Abs(v), 'g', 15, 64), 64)
	if err != nil {
		return v
	}
	s := strconv.FormatFloat(snapped, 'f', -1, 64)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) <= 2 {
		return v
	}
	// Past 15 integer digits there are no cents left to round.
	if len(whole) > 15 {
		return v
	}
	cents, err := strconv.ParseInt(whole+frac[:2], 10, 64)
	if err != nil {
		return v
	}
	if frac[2] >= '5' {
		cents++
	}
	rounded := float64(cents) / 100
	if v < 0 {
		rounded = -rounded
	}
	return rounded
}
