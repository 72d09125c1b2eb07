package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeminiDetections_ScalesBoxes(t *testing.T) {
	text := "```json\n" + `[
		{"label": "LAPTOP", "confidence": 0.9, "box_2d": [100, 250, 500, 750]},
		{"label": "mouse", "confidence": 0.6, "box_2d": [0, 0, 1000, 1000]}
	]` + "\n```"

	candidates, err := parseGeminiDetections(text, image.Rect(0, 0, 800, 600))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, Candidate{Label: "LAPTOP", Confidence: 0.9, Box: image.Rect(200, 60, 600, 300)}, candidates[0])
	assert.Equal(t, image.Rect(0, 0, 800, 600), candidates[1].Box)
}

func TestParseGeminiDetections_SkipsBoxlessAndKeepsMissingConfidenceAsNaN(t *testing.T) {
	candidates, err := parseGeminiDetections(`[
		{"label": "PHONE", "confidence": 0.8},
		{"label": "TABLET", "box_2d": [0, 0, 10, 10]}
	]`, image.Rect(0, 0, 100, 100))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "TABLET", candidates[0].Label)
	assert.True(t, math.IsNaN(candidates[0].Confidence))

	set := Normalize(candidates, image.Rect(0, 0, 100, 100))
	assert.Empty(t, set)
}

func TestParseGeminiDetections_EmptyAndInvalid(t *testing.T) {
	candidates, err := parseGeminiDetections("[]", image.Rect(0, 0, 10, 10))
	require.NoError(t, err)
	assert.Empty(t, candidates)

	_, err = parseGeminiDetections("I see a laptop", image.Rect(0, 0, 10, 10))
	assert.Error(t, err)
}

func TestGeminiBackend_RequiresAPIKey(t *testing.T) {
	t.Setenv("EWASTE_TEST_GEMINI_KEY", "")
	dir := t.TempDir()
	img := writePNG(t, dir, 16, 16)
	model := writeFile(t, dir, "gemini.json", `{"kind": "gemini", "api_key_env": "EWASTE_TEST_GEMINI_KEY"}`)

	_, err := NewService(nil).Detect(context.Background(), img, model)
	assert.True(t, errors.Is(err, ewaste.ErrModelLoad))
	assert.Contains(t, err.Error(), "EWASTE_TEST_GEMINI_KEY is not set")
}

// geminiServer answers generateContent calls with reply and records the size
// of the uploaded image.
func geminiServer(t *testing.T, reply string, uploaded *image.Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)

		var req struct {
			Contents []struct {
				Parts []struct {
					InlineData *struct {
						Data     string `json:"data"`
						MIMEType string `json:"mimeType"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		for _, c := range req.Contents {
			for _, p := range c.Parts {
				if p.InlineData == nil {
					continue
				}
				assert.Equal(t, "image/jpeg", p.InlineData.MIMEType)
				data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					data, err = base64.URLEncoding.DecodeString(p.InlineData.Data)
				}
				if !assert.NoError(t, err) {
					return
				}
				cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, "jpeg", format)
				*uploaded = cfg
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func geminiReply(t *testing.T, text string) string {
	t.Helper()
	out, err := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 7},
	})
	require.NoError(t, err)
	return string(out)
}

func geminiRegistry() *Registry {
	r := NewRegistry()
	r.Register("gemini", &GeminiBackend{APIKey: "test-key"})
	return r
}

func TestGeminiModel_DetectsThroughAPI(t *testing.T) {
	var uploaded image.Config
	srv := geminiServer(t, geminiReply(t, `[
		{"label": "laptop", "confidence": 0.9, "box_2d": [100, 250, 500, 750]},
		{"label": "mouse", "confidence": 0.3, "box_2d": [0, 0, 100, 100]}
	]`), &uploaded)

	dir := t.TempDir()
	img := writePNG(t, dir, 2000, 1000)
	model := writeFile(t, dir, "gemini.json", `{
		"kind": "gemini",
		"base_url": "`+srv.URL+`",
		"max_dimension": 500,
		"min_confidence": 0.5
	}`)

	set, err := NewService(geminiRegistry()).Detect(context.Background(), img, model)
	require.NoError(t, err)

	// Downscaled to fit 500x500 before upload.
	assert.Equal(t, 500, uploaded.Width)
	assert.Equal(t, 250, uploaded.Height)

	// The mouse is under min_confidence; the laptop box is in source pixels.
	require.Len(t, set, 1)
	assert.Equal(t, ewaste.Laptop, set[0].Category)
	assert.Equal(t, 0.9, set[0].Confidence)
	assert.Equal(t, ewaste.BBox{X1: 500, Y1: 100, X2: 1500, Y2: 500}, set[0].BBox)
}

func TestGeminiModel_SmallImageUploadedAsIs(t *testing.T) {
	var uploaded image.Config
	srv := geminiServer(t, geminiReply(t, "[]"), &uploaded)

	dir := t.TempDir()
	img := writePNG(t, dir, 300, 200)
	model := writeFile(t, dir, "gemini.json", `{"kind": "gemini", "base_url": "`+srv.URL+`"}`)

	set, err := NewService(geminiRegistry()).Detect(context.Background(), img, model)
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Equal(t, 300, uploaded.Width)
	assert.Equal(t, 200, uploaded.Height)
}

func TestGeminiModel_NoCandidates(t *testing.T) {
	var uploaded image.Config
	srv := geminiServer(t, `{"candidates": []}`, &uploaded)

	dir := t.TempDir()
	img := writePNG(t, dir, 64, 64)
	model := writeFile(t, dir, "gemini.json", `{"kind": "gemini", "base_url": "`+srv.URL+`"}`)

	_, err := NewService(geminiRegistry()).Detect(context.Background(), img, model)
	var inferErr *ewaste.InferenceError
	require.True(t, errors.As(err, &inferErr), "got %v", err)
	assert.Equal(t, "gemini", inferErr.Backend)
	assert.Contains(t, err.Error(), "no response from Gemini")
}
