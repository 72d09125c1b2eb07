package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/rs/zerolog/log"
)

// Regressor is a loaded pricing model.
type Regressor interface {
	Predict(category ewaste.Category, weight float64) (ewaste.Breakdown, error)
	Close() error
}

// Loader loads a pricing model artifact. defaults are the configured
// parameters; an artifact may override any of them.
type Loader interface {
	Load(path string, defaults Params) (Regressor, error)
}

// LinearRegressor prices an item as base + weight*WeightRate + base*MarketRate.
type LinearRegressor struct {
	params Params
}

// NewLinearRegressor validates params and returns a regressor using them.
func NewLinearRegressor(params Params) (*LinearRegressor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &LinearRegressor{params: params}, nil
}

func (r *LinearRegressor) Predict(category ewaste.Category, weight float64) (ewaste.Breakdown, error) {
	if err := ValidateWeight(weight); err != nil {
		return ewaste.Breakdown{}, err
	}
	base := r.params.Table.Base(category)
	b := ewaste.Breakdown{
		BasePrice:        base,
		WeightFactor:     weight * r.params.WeightRate,
		MarketAdjustment: base * r.params.MarketRate,
	}
	if err := checkFinite(b); err != nil {
		if math.IsInf(b.WeightFactor, 0) {
			return ewaste.Breakdown{}, &ewaste.InvalidWeightError{
				Value:  strconv.FormatFloat(weight, 'g', -1, 64),
				Reason: "too large to price",
			}
		}
		return ewaste.Breakdown{}, &ewaste.InferenceError{Backend: "linear", Err: err}
	}
	return b, nil
}

// checkFinite rejects breakdowns that cannot be priced or encoded.
func checkFinite(b ewaste.Breakdown) error {
	for _, v := range []float64{b.BasePrice, b.WeightFactor, b.MarketAdjustment, b.Sum()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("price is not finite: %+v", b)
		}
	}
	return nil
}

// Params returns the parameters the regressor prices with.
func (r *LinearRegressor) Params() Params {
	return r.params
}

func (r *LinearRegressor) Close() error { return nil }

// artifact is the JSON form of a linear pricing model. Every field is optional.
type artifact struct {
	Kind       string             `json:"kind,omitempty"`
	Format     string             `json:"format,omitempty"`
	BasePrices map[string]float64 `json:"base_prices,omitempty"`
	WeightRate *float64           `json:"weight_rate,omitempty"`
	MarketRate *float64           `json:"market_rate,omitempty"`
}

const artifactFormat = "linear/v1"

// ArtifactLoader loads pricing models from local files. JSON artifacts either
// carry parameter overrides or, with "kind": "http", point at a remote
// regression service. Other formats are opaque and only checked for
// readability, leaving the configured parameters in effect.
type ArtifactLoader struct{}

func (ArtifactLoader) Load(path string, defaults Params) (Regressor, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &ewaste.NotFoundError{Resource: ewaste.ResourceModel, Path: path}
	}
	if err != nil {
		return nil, &ewaste.ModelLoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &ewaste.ModelLoadError{Path: path, Err: errors.New("is a directory")}
	}
	if info.Size() == 0 {
		return nil, &ewaste.ModelLoadError{Path: path, Err: errors.New("empty model artifact")}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &ewaste.ModelLoadError{Path: path, Err: err}
	}
	defer f.Close()

	params := defaults
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, &ewaste.ModelLoadError{Path: path, Err: err}
		}
		kind, err := artifactKind(data)
		if err != nil {
			return nil, &ewaste.ModelLoadError{Path: path, Err: err}
		}
		switch kind {
		case "", "linear":
		case "http":
			reg, err := newRemoteRegressor(data)
			if err != nil {
				return nil, &ewaste.ModelLoadError{Path: path, Err: err}
			}
			log.Debug().Str("path", path).Str("url", reg.url).Msg("remote pricing model loaded")
			return reg, nil
		default:
			return nil, &ewaste.ModelLoadError{Path: path, Err: fmt.Errorf("unsupported model kind %q", kind)}
		}
		params, err = applyArtifact(bytes.NewReader(data), defaults)
		if err != nil {
			return nil, &ewaste.ModelLoadError{Path: path, Err: err}
		}
	} else if _, err := f.Read(make([]byte, 1)); err != nil && err != io.EOF {
		return nil, &ewaste.ModelLoadError{Path: path, Err: err}
	}

	reg, err := NewLinearRegressor(params)
	if err != nil {
		return nil, &ewaste.ModelLoadError{Path: path, Err: err}
	}
	log.Debug().Str("path", path).Int("categories", len(params.Table)).Msg("pricing model loaded")
	return reg, nil
}

func artifactKind(data []byte) (string, error) {
	var header struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return "", fmt.Errorf("failed to parse model artifact: %w", err)
	}
	return header.Kind, nil
}

func applyArtifact(r io.Reader, defaults Params) (Params, error) {
	var a artifact
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return Params{}, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if a.Format != "" && a.Format != artifactFormat {
		return Params{}, fmt.Errorf("unsupported model format %q", a.Format)
	}

	params := defaults
	if len(a.BasePrices) > 0 {
		override, err := TableFromMap(a.BasePrices)
		if err != nil {
			return Params{}, err
		}
		params.Table = defaults.Table.Merge(override)
	}
	if a.WeightRate != nil {
		params.WeightRate = *a.WeightRate
	}
	if a.MarketRate != nil {
		params.MarketRate = *a.MarketRate
	}
	return params, nil
}
