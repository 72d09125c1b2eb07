package detect

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writePNG writes a solid w x h PNG into dir and returns its path.
func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// twoItemManifest reproduces the reference mock: a laptop and a phone.
const twoItemManifest = `{
	"kind": "static",
	"detections": [
		{"category": "LAPTOP", "confidence": 0.92, "bbox": {"x1": 100, "y1": 150, "x2": 350, "y2": 450}},
		{"category": "PHONE", "confidence": 0.85, "bbox": {"x1": 400, "y1": 200, "x2": 500, "y2": 300}}
	]
}`
