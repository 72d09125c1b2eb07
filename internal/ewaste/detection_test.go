package ewaste

import (
	"encoding/json"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBBox_Clip(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)

	b := BBox{X1: -20, Y1: 10, X2: 700, Y2: 500}.Clip(bounds)
	assert.Equal(t, BBox{X1: 0, Y1: 10, X2: 640, Y2: 480}, b)
	assert.True(t, b.Within(bounds))
	assert.False(t, b.Degenerate())

	outside := BBox{X1: 650, Y1: 10, X2: 700, Y2: 50}.Clip(bounds)
	assert.True(t, outside.Degenerate())
}

func TestDetection_Valid(t *testing.T) {
	bounds := image.Rect(0, 0, 600, 500)
	d := Detection{Category: Laptop, Confidence: 0.92, BBox: BBox{X1: 100, Y1: 150, X2: 350, Y2: 450}}
	assert.True(t, d.Valid(bounds))

	d.Confidence = 1.2
	assert.False(t, d.Valid(bounds))
	d.Confidence = math.NaN()
	assert.False(t, d.Valid(bounds))

	d.Confidence = 0.5
	d.BBox = BBox{X1: 100, Y1: 150, X2: 100, Y2: 450}
	assert.False(t, d.Valid(bounds))
}

func TestDetectionSet_JSONShape(t *testing.T) {
	set := DetectionSet{
		{Category: Laptop, Confidence: 0.92, BBox: BBox{X1: 100, Y1: 150, X2: 350, Y2: 450}},
	}
	out, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"category":"LAPTOP","confidence":0.92,"bbox":{"x1":100,"y1":150,"x2":350,"y2":450}}]`, string(out))

	var empty DetectionSet
	out, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.1))
	assert.Equal(t, 1.0, ClampConfidence(1.0001))
	assert.Equal(t, 0.4, ClampConfidence(0.4))
}
