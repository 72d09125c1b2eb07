package pricing

import (
	"math"
	"strconv"
	"strings"

	"github.com/raine/ewaste-quote/internal/ewaste"
)

// ParseWeight parses a weight argument. Only finite values strictly greater
// than zero are accepted.
func ParseWeight(raw string) (float64, error) {
	w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &ewaste.InvalidWeightError{Value: raw}
	}
	if reason := weightProblem(w); reason != "" {
		return 0, &ewaste.InvalidWeightError{Value: raw, Reason: reason}
	}
	return w, nil
}

// ValidateWeight rejects zero, negative, NaN and infinite weights.
func ValidateWeight(w float64) error {
	if reason := weightProblem(w); reason != "" {
		return &ewaste.InvalidWeightError{Value: strconv.FormatFloat(w, 'g', -1, 64), Reason: reason}
	}
	return nil
}

func weightProblem(w float64) string {
	switch {
	case math.IsNaN(w):
		return "not a number"
	case math.IsInf(w, 0):
		return "must be finite"
	case w <= 0:
		return "must be positive"
	}
	return ""
}
