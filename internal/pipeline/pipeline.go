package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/raine/ewaste-quote/internal/detect"
	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/raine/ewaste-quote/internal/pricing"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PriceEstimator prices a single item.
type PriceEstimator interface {
	EstimatePrice(category string, weight float64, modelPath string) (ewaste.PriceQuote, error)
}

// Request names the inputs of one scan. Weights are matched to detections by
// position; detections beyond the last weight are reported without a quote.
type Request struct {
	ImagePath      string
	DetectionModel string
	PriceModel     string
	Weights        []float64
}

// Item is one detection and, when it was weighed, its quote.
type Item struct {
	Detection ewaste.Detection   `json:"detection"`
	Weight    float64            `json:"weight,omitempty"`
	Quote     *ewaste.PriceQuote `json:"quote,omitempty"`
}

// Scan is the aggregated result for one image.
type Scan struct {
	ID    string  `json:"id"`
	Items []Item  `json:"items"`
	Total float64 `json:"total"`
}

// Pipeline runs detection and then prices each weighed detection.
type Pipeline struct {
	detector  detect.Detector
	estimator PriceEstimator
	workers   int
}

// New creates a pipeline that prices up to workers items at a time.
func New(detector detect.Detector, estimator PriceEstimator, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{detector: detector, estimator: estimator, workers: workers}
}

// Run detects items in the image and prices them. Any failure fails the whole
// scan. Weights are validated before detection runs.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Scan, error) {
	for _, w := range req.Weights {
		if err := pricing.ValidateWeight(w); err != nil {
			return nil, err
		}
	}

	detections, err := p.detector.Detect(ctx, req.ImagePath, req.DetectionModel)
	if err != nil {
		return nil, err
	}
	if len(req.Weights) > len(detections) {
		return nil, &ewaste.InvalidWeightError{
			Value:  fmt.Sprintf("%d weights", len(req.Weights)),
			Reason: fmt.Sprintf("only %d items detected", len(detections)),
		}
	}

	scan := &Scan{
		ID:    uuid.New().String(),
		Items: make([]Item, len(detections)),
	}
	for i, d := range detections {
		scan.Items[i].Detection = d
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, weight := range req.Weights {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := &scan.Items[i]
			quote, err := p.estimator.EstimatePrice(string(item.Detection.Category), weight, req.PriceModel)
			if err != nil {
				return fmt.Errorf("item %d (%s): %w", i+1, item.Detection.Category, err)
			}
			item.Weight = weight
			item.Quote = &quote
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sum float64
	for _, item := range scan.Items {
		if item.Quote != nil {
			sum += item.Quote.EstimatedPrice
		}
	}
	scan.Total = ewaste.Round2(sum)

	log.Debug().
		Str("scan", scan.ID).
		Int("items", len(scan.Items)).
		Int("priced", len(req.Weights)).
		Float64("total", scan.Total).
		Msg("scan finished")
	return scan, nil
}
