package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/rs/zerolog/log"
)

// Detector turns an image into located, classified e-waste items.
type Detector interface {
	Detect(ctx context.Context, imagePath, modelPath string) (ewaste.DetectionSet, error)
}

// Service is the Detector that loads a model per call through a backend
// registry.
type Service struct {
	registry *Registry
}

// NewService creates a detector backed by registry. A nil registry means
// DefaultRegistry.
func NewService(registry *Registry) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Service{registry: registry}
}

// Detect runs the model at modelPath on the image at imagePath. Both files are
// checked before any model work happens. An image with no recognizable items
// yields an empty set, not an error. Whatever the backend returns is mapped
// onto the taxonomy, confidences are clamped into [0, 1] and boxes are clipped
// to the image; boxes left without area are dropped.
func (s *Service) Detect(ctx context.Context, imagePath, modelPath string) (ewaste.DetectionSet, error) {
	if err := CheckInputs(imagePath, modelPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, &ewaste.ImageDecodeError{Path: imagePath, Err: err}
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, &ewaste.ImageDecodeError{Path: imagePath, Err: err}
	}

	model, kind, err := s.load(ctx, modelPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := model.Close(); err != nil {
			log.Warn().Err(err).Str("model", modelPath).Msg("failed to release model")
		}
	}()

	log.Debug().
		Str("image", imagePath).
		Str("kind", kind).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("running detection")

	candidates, err := model.Infer(ctx, Input{Image: img, Data: data, Name: imagePath})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ewaste.InferenceError{Backend: kind, Err: err}
	}

	detections := Normalize(candidates, img.Bounds())
	log.Debug().
		Int("candidates", len(candidates)).
		Int("detections", len(detections)).
		Msg("detection finished")
	return detections, nil
}

func (s *Service) load(ctx context.Context, modelPath string) (Model, string, error) {
	manifest, err := ReadManifest(modelPath)
	if err != nil {
		return nil, "", &ewaste.ModelLoadError{Path: modelPath, Err: err}
	}
	backend, ok := s.registry.Lookup(manifest.Kind)
	if !ok {
		return nil, "", &ewaste.ModelLoadError{
			Path: modelPath,
			Err:  fmt.Errorf("no backend for model kind %q (available: %v)", manifest.Kind, s.registry.Kinds()),
		}
	}

	log.Debug().Str("model", modelPath).Str("kind", manifest.Kind).Msg("loading model")
	model, err := backend.Load(ctx, manifest)
	if err != nil {
		if errors.Is(err, ewaste.ErrModelLoad) {
			return nil, "", err
		}
		return nil, "", &ewaste.ModelLoadError{Path: modelPath, Err: err}
	}
	return model, manifest.Kind, nil
}

// CheckInputs verifies that the image and the model exist, in that order.
func CheckInputs(imagePath, modelPath string) error {
	if err := CheckImage(imagePath); err != nil {
		return err
	}
	if !exists(modelPath) {
		return &ewaste.NotFoundError{Resource: ewaste.ResourceModel, Path: modelPath}
	}
	return nil
}

// CheckImage verifies that the image exists.
func CheckImage(imagePath string) error {
	if !exists(imagePath) {
		return &ewaste.NotFoundError{Resource: ewaste.ResourceImage, Path: imagePath}
	}
	return nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Normalize maps candidates onto the taxonomy and the image bounds, keeping
// their order. The result is never nil.
func Normalize(candidates []Candidate, bounds image.Rectangle) ewaste.DetectionSet {
	detections := make(ewaste.DetectionSet, 0, len(candidates))
	for _, c := range candidates {
		if math.IsNaN(c.Confidence) {
			log.Debug().Str("label", c.Label).Msg("dropping candidate without confidence")
			continue
		}
		box := ewaste.BBoxFromRect(c.Box.Canon()).Clip(bounds)
		if box.Degenerate() {
			log.Debug().Str("label", c.Label).Interface("box", c.Box).Msg("dropping candidate outside image")
			continue
		}
		detections = append(detections, ewaste.Detection{
			Category:   ewaste.CategoryFromLabel(c.Label),
			Confidence: ewaste.ClampConfidence(c.Confidence),
			BBox:       box,
		})
	}
	return detections
}
