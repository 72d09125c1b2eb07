// Package cli implements the detect, estimate-price and quote commands. Each
// Run function writes a single JSON document to stdout on success and returns
// the process exit code.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lithammer/dedent"
	"github.com/raine/ewaste-quote/internal/config"
	"github.com/raine/ewaste-quote/internal/detect"
	"github.com/raine/ewaste-quote/internal/modelstore"
	"github.com/raine/ewaste-quote/internal/pipeline"
	"github.com/raine/ewaste-quote/internal/pricing"
	"github.com/raine/ewaste-quote/internal/storage"
	"github.com/rs/zerolog/log"
)

const (
	exitOK      = 0
	exitFailure = 1
)

var (
	detectUsage = strings.TrimSpace(dedent.Dedent(`
		Usage: detect <image_path> <model_path>

		Detects e-waste items in an image and prints them as a JSON array.
		model_path may be a local file or an http(s):// or gs:// URL.
	`))

	estimatePriceUsage = strings.TrimSpace(dedent.Dedent(`
		Usage: estimate-price <category> <weight> <model_path>

		Prints a price quote for an item of the given category and weight (kg).
		Categories: LAPTOP PHONE TABLET MONITOR DESKTOP KEYBOARD MOUSE PRINTER SPEAKER OTHER
	`))

	quoteUsage = strings.TrimSpace(dedent.Dedent(`
		Usage: quote <image_path> <detection_model> <price_model> [weight ...]

		Detects items in an image and prices them. Weights (kg) are matched to
		detected items in order; items without a weight are listed unpriced.
	`))
)

// app carries what every command needs once settings are loaded.
type app struct {
	cfg    *config.Config
	models *modelstore.Store
	stdout io.Writer
	stderr io.Writer
	close  []func()
}

func setup(stdout, stderr io.Writer) (*app, error) {
	envFile, err := config.LoadEnvFile()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	closeLog, err := SetupLogging(cfg.LogLevel, cfg.LogFile, stderr)
	if err != nil {
		return nil, err
	}
	if envFile != "" {
		log.Debug().Str("path", envFile).Msg("loaded env file")
	}

	models := modelstore.New(cfg.ModelDir).
		WithMaxAge(cfg.ModelMaxAge).
		WithTimeout(cfg.ModelTimeout)

	return &app{
		cfg:    cfg,
		models: models,
		stdout: stdout,
		stderr: stderr,
		close:  []func(){closeLog},
	}, nil
}

func (a *app) shutdown() {
	for i := len(a.close) - 1; i >= 0; i-- {
		a.close[i]()
	}
}

// detector builds the detector for this run, with the result cache when one
// is configured.
func (a *app) detector() detect.Detector {
	registry := detect.DefaultRegistry().Clone()
	if a.cfg.GeminiAPIKey != "" {
		registry.Register("gemini", &detect.GeminiBackend{APIKey: a.cfg.GeminiAPIKey})
	}
	service := detect.NewService(registry)
	if a.cfg.CacheDBPath == "" {
		return service
	}

	store, err := storage.NewSQLiteStore(a.cfg.CacheDBPath)
	if err != nil {
		log.Warn().Err(err).Str("path", a.cfg.CacheDBPath).Msg("detection cache unavailable")
		return service
	}
	a.close = append(a.close, func() { store.Close() })

	if a.cfg.CacheMaxAge > 0 {
		pruned, err := store.PruneDetections(time.Now().Add(-a.cfg.CacheMaxAge))
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune detection cache")
		} else if pruned > 0 {
			log.Debug().Int64("rows", pruned).Msg("pruned detection cache")
		}
	}
	return detect.NewCachedDetector(service, store)
}

func (a *app) estimator() *pricing.Estimator {
	return pricing.NewEstimator(a.cfg.Pricing)
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %s\n", err)
	return exitFailure
}

func usage(stderr io.Writer, text string) int {
	fmt.Fprintln(stderr, text)
	return exitFailure
}

// RunDetect implements `detect <image_path> <model_path>`.
func RunDetect(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		return usage(stderr, detectUsage)
	}
	imagePath, modelRef := args[0], args[1]

	a, err := setup(stdout, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.shutdown()

	if err := detect.CheckImage(imagePath); err != nil {
		return fail(stderr, err)
	}
	modelPath, err := a.models.Resolve(ctx, modelRef)
	if err != nil {
		return fail(stderr, err)
	}

	log.Info().Str("image", imagePath).Str("model", modelRef).Msg("running detection")
	detections, err := a.detector().Detect(ctx, imagePath, modelPath)
	if err != nil {
		return fail(stderr, err)
	}
	log.Info().Int("items", len(detections)).Msg("detection complete")

	if err := a.writeJSON(detections); err != nil {
		return fail(stderr, err)
	}
	return exitOK
}

// RunEstimatePrice implements `estimate-price <category> <weight> <model_path>`.
func RunEstimatePrice(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		return usage(stderr, estimatePriceUsage)
	}
	category, rawWeight, modelRef := args[0], args[1], args[2]

	weight, err := pricing.ParseWeight(rawWeight)
	if err != nil {
		return fail(stderr, err)
	}

	a, err := setup(stdout, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.shutdown()

	modelPath, err := a.models.Resolve(ctx, modelRef)
	if err != nil {
		return fail(stderr, err)
	}

	log.Info().Str("category", category).Float64("weight", weight).Msg("estimating price")
	quote, err := a.estimator().EstimatePrice(category, weight, modelPath)
	if err != nil {
		return fail(stderr, err)
	}

	if err := a.writeJSON(quote); err != nil {
		return fail(stderr, err)
	}
	return exitOK
}

// RunQuote implements `quote <image_path> <detection_model> <price_model> [weight ...]`.
func RunQuote(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 3 {
		return usage(stderr, quoteUsage)
	}
	imagePath, detectionRef, priceRef := args[0], args[1], args[2]

	weights := make([]float64, 0, len(args)-3)
	for _, raw := range args[3:] {
		w, err := pricing.ParseWeight(raw)
		if err != nil {
			return fail(stderr, err)
		}
		weights = append(weights, w)
	}

	a, err := setup(stdout, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer a.shutdown()

	if err := detect.CheckImage(imagePath); err != nil {
		return fail(stderr, err)
	}
	detectionModel, err := a.models.Resolve(ctx, detectionRef)
	if err != nil {
		return fail(stderr, err)
	}
	priceModel, err := a.models.Resolve(ctx, priceRef)
	if err != nil {
		return fail(stderr, err)
	}

	p := pipeline.New(a.detector(), a.estimator(), a.cfg.Workers)
	scan, err := p.Run(ctx, pipeline.Request{
		ImagePath:      imagePath,
		DetectionModel: detectionModel,
		PriceModel:     priceModel,
		Weights:        weights,
	})
	if err != nil {
		return fail(stderr, err)
	}
	log.Info().Str("scan", scan.ID).Int("items", len(scan.Items)).Float64("total", scan.Total).Msg("quote complete")

	if err := a.writeJSON(scan); err != nil {
		return fail(stderr, err)
	}
	return exitOK
}
