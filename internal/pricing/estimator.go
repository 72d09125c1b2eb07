package pricing

import (
	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/rs/zerolog/log"
)

// Estimator turns a (category, weight) pair into a priced quote.
type Estimator struct {
	params Params
	loader Loader
}

// NewEstimator creates an estimator that loads models with ArtifactLoader and
// uses params as the defaults an artifact can override.
func NewEstimator(params Params) *Estimator {
	return &Estimator{params: params, loader: ArtifactLoader{}}
}

// WithLoader replaces the model loader.
func (e *Estimator) WithLoader(loader Loader) *Estimator {
	e.loader = loader
	return e
}

// EstimatePrice prices one item. The category is matched case-insensitively,
// unknown categories are priced as OTHER. The weight must be finite and
// positive. The model is loaded for this call only and released before
// returning; a missing or unreadable model fails the call.
func (e *Estimator) EstimatePrice(category string, weight float64, modelPath string) (ewaste.PriceQuote, error) {
	if err := ValidateWeight(weight); err != nil {
		return ewaste.PriceQuote{}, err
	}
	c := ewaste.ParseCategory(category)

	reg, err := e.loader.Load(modelPath, e.params)
	if err != nil {
		return ewaste.PriceQuote{}, err
	}
	defer reg.Close()

	log.Debug().
		Str("category", c.String()).
		Float64("weight", weight).
		Msg("predicting price")

	breakdown, err := reg.Predict(c, weight)
	if err != nil {
		return ewaste.PriceQuote{}, err
	}
	return ewaste.NewPriceQuote(breakdown), nil
}
