package ewaste

import (
	"encoding/json"
	"image"
	"math"
)

// BBox is an axis-aligned pixel rectangle. A valid box has X2 > X1 and Y2 > Y1.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// BBoxFromRect converts r to a BBox without reordering its corners.
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Degenerate reports whether the box has no area.
func (b BBox) Degenerate() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Within reports whether the box lies inside bounds.
func (b BBox) Within(bounds image.Rectangle) bool {
	return b.X1 >= bounds.Min.X && b.Y1 >= bounds.Min.Y &&
		b.X2 <= bounds.Max.X && b.Y2 <= bounds.Max.Y
}

// Clip intersects the box with bounds. The result may be degenerate.
func (b BBox) Clip(bounds image.Rectangle) BBox {
	return BBox{
		X1: clampInt(b.X1, bounds.Min.X, bounds.Max.X),
		Y1: clampInt(b.Y1, bounds.Min.Y, bounds.Max.Y),
		X2: clampInt(b.X2, bounds.Min.X, bounds.Max.X),
		Y2: clampInt(b.Y2, bounds.Min.Y, bounds.Max.Y),
	}
}

// Detection is one located, classified item.
type Detection struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	BBox       BBox     `json:"bbox"`
}

// Valid reports whether d satisfies the detection invariants inside bounds.
func (d Detection) Valid(bounds image.Rectangle) bool {
	return d.Category.Valid() &&
		!math.IsNaN(d.Confidence) && d.Confidence >= 0 && d.Confidence <= 1 &&
		!d.BBox.Degenerate() && d.BBox.Within(bounds)
}

// DetectionSet keeps detections in the order the model produced them.
type DetectionSet []Detection

// MarshalJSON encodes an empty set as [] rather than null.
func (s DetectionSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Detection(s))
}

// ClampConfidence limits c to [0, 1].
func ClampConfidence(c float64) float64 {
	return math.Max(0, math.Min(1, c))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
