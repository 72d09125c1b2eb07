package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strings"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel        = "gemini-2.5-flash"
	defaultGeminiMaxDimension = 1024
	geminiBoxScale            = 1000.0
)

var geminiPrompt = strings.TrimSpace(dedent.Dedent(`
	Detect every discarded electronic item in this image.

	Use one of these labels for each item: LAPTOP, PHONE, TABLET, MONITOR, DESKTOP,
	KEYBOARD, MOUSE, PRINTER, SPEAKER, OTHER.

	Respond with a JSON array. Each element has:
	- label: one of the labels above
	- confidence: your certainty between 0 and 1
	- box_2d: [ymin, xmin, ymax, xmax] normalized to 0-1000

	Example response:
	[{"label": "LAPTOP", "confidence": 0.9, "box_2d": [120, 80, 640, 520]}]

	Respond with [] if there are no electronic items. Respond ONLY with the JSON array.
`))

// geminiManifest configures detection through a Gemini vision model.
type geminiManifest struct {
	Model         string  `json:"model"`
	APIKeyEnv     string  `json:"api_key_env"`
	BaseURL       string  `json:"base_url"`
	MaxDimension  int     `json:"max_dimension"`
	MinConfidence float64 `json:"min_confidence"`
}

// GeminiBackend loads Gemini-backed models. APIKey takes precedence over the
// environment variable named in the manifest (GEMINI_API_KEY by default).
type GeminiBackend struct {
	APIKey string
}

type geminiModel struct {
	client        *genai.Client
	model         string
	maxDimension  int
	minConfidence float64
}

func (b *GeminiBackend) Load(ctx context.Context, m Manifest) (Model, error) {
	gm := geminiManifest{
		Model:        defaultGeminiModel,
		APIKeyEnv:    "GEMINI_API_KEY",
		MaxDimension: defaultGeminiMaxDimension,
	}
	if err := m.Decode(&gm); err != nil {
		return nil, err
	}

	apiKey := b.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(gm.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s is not set", gm.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: gm.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiModel{
		client:        client,
		model:         gm.Model,
		maxDimension:  gm.MaxDimension,
		minConfidence: gm.MinConfidence,
	}, nil
}

func (g *geminiModel) Infer(ctx context.Context, in Input) ([]Candidate, error) {
	jpeg, err := EncodeJPEG(in.Image, g.maxDimension)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(geminiPrompt),
		{InlineData: &genai.Blob{Data: jpeg, MIMEType: "image/jpeg"}},
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("no response from Gemini")
	}

	candidates, err := parseGeminiDetections(result.Text(), in.Image.Bounds())
	if err != nil {
		return nil, err
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if c.Confidence >= g.minConfidence {
			kept = append(kept, c)
		}
	}

	event := log.Debug().Str("model", g.model).Int("candidates", len(kept))
	if result.UsageMetadata != nil {
		event = event.
			Int64("inputTokens", int64(result.UsageMetadata.PromptTokenCount)).
			Int64("outputTokens", int64(result.UsageMetadata.CandidatesTokenCount))
	}
	event.Msg("vision llm call")

	return kept, nil
}

func (g *geminiModel) Close() error { return nil }

type geminiDetection struct {
	Label      string    `json:"label"`
	Confidence *float64  `json:"confidence"`
	Box        []float64 `json:"box_2d"`
}

// parseGeminiDetections converts Gemini's 0-1000 normalized boxes into pixel
// rectangles for an image with the given bounds. Text around the JSON array,
// such as a markdown fence, is ignored.
func parseGeminiDetections(text string, bounds image.Rectangle) ([]Candidate, error) {
	jsonStr, err := extractJSONArray(text)
	if err != nil {
		return nil, err
	}
	var raw []geminiDetection
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w (response: %s)", err, jsonStr)
	}

	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	candidates := make([]Candidate, 0, len(raw))
	for _, d := range raw {
		if len(d.Box) != 4 {
			log.Debug().Str("label", d.Label).Msg("skipping gemini detection without box")
			continue
		}
		confidence := math.NaN()
		if d.Confidence != nil {
			confidence = *d.Confidence
		}
		ymin, xmin, ymax, xmax := d.Box[0], d.Box[1], d.Box[2], d.Box[3]
		candidates = append(candidates, Candidate{
			Label:      d.Label,
			Confidence: confidence,
			Box: image.Rect(
				bounds.Min.X+int(math.Round(xmin/geminiBoxScale*w)),
				bounds.Min.Y+int(math.Round(ymin/geminiBoxScale*h)),
				bounds.Min.X+int(math.Round(xmax/geminiBoxScale*w)),
				bounds.Min.Y+int(math.Round(ymax/geminiBoxScale*h)),
			),
		})
	}
	return candidates, nil
}

func extractJSONArray(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON array found in response: %s", text)
	}
	return text[start : end+1], nil
}

func init() {
	Register("gemini", &GeminiBackend{})
}
