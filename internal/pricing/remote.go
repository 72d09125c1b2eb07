package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/rs/zerolog/log"
)

const defaultRemoteTimeout = 60 * time.Second

// remoteArtifact points at a regression service that takes
// {"category", "weight"} and answers with a price quote.
type remoteArtifact struct {
	Kind    string            `json:"kind"`
	URL     string            `json:"url"`
	Timeout string            `json:"timeout"`
	Headers map[string]string `json:"headers"`
}

type remoteRequest struct {
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
}

type remoteQuote struct {
	EstimatedPrice *float64          `json:"estimatedPrice"`
	Breakdown      *ewaste.Breakdown `json:"breakdown"`
}

// RemoteRegressor prices items through a remote regression service. The
// quote total is always derived from the returned breakdown.
type RemoteRegressor struct {
	httpClient *resty.Client
	url        string
}

func newRemoteRegressor(data []byte) (*RemoteRegressor, error) {
	var ra remoteArtifact
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ra); err != nil {
		return nil, fmt.Errorf("invalid http model artifact: %w", err)
	}
	if ra.URL == "" {
		return nil, errors.New("http model artifact has no url")
	}
	timeout := defaultRemoteTimeout
	if ra.Timeout != "" {
		d, err := time.ParseDuration(ra.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", ra.Timeout, err)
		}
		timeout = d
	}

	client := resty.New().
		SetDebug(false).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeaders(ra.Headers)

	return &RemoteRegressor{httpClient: client, url: ra.URL}, nil
}

func (r *RemoteRegressor) Predict(category ewaste.Category, weight float64) (ewaste.Breakdown, error) {
	if err := ValidateWeight(weight); err != nil {
		return ewaste.Breakdown{}, err
	}

	res, err := handleError(r.httpClient.
		NewRequest().
		SetHeader("Content-Type", "application/json").
		SetBody(remoteRequest{Category: string(category), Weight: weight}).
		Post(r.url))
	if err != nil {
		return ewaste.Breakdown{}, &ewaste.InferenceError{Backend: "http", Err: err}
	}

	var quote remoteQuote
	if err := json.Unmarshal(res.Body(), &quote); err != nil {
		return ewaste.Breakdown{}, &ewaste.InferenceError{
			Backend: "http",
			Err:     fmt.Errorf("unexpected price response: %w", err),
		}
	}
	if quote.Breakdown == nil {
		return ewaste.Breakdown{}, &ewaste.InferenceError{Backend: "http", Err: errors.New("price response has no breakdown")}
	}
	b := *quote.Breakdown
	if err := checkFinite(b); err != nil {
		return ewaste.Breakdown{}, &ewaste.InferenceError{Backend: "http", Err: err}
	}

	if quote.EstimatedPrice != nil && math.Abs(*quote.EstimatedPrice-ewaste.Round2(b.Sum())) >= 0.005 {
		log.Warn().
			Float64("reported", *quote.EstimatedPrice).
			Float64("derived", ewaste.Round2(b.Sum())).
			Msg("price service total disagrees with its breakdown")
	}
	log.Debug().
		Str("url", r.url).
		Int("status", res.StatusCode()).
		Str("category", string(category)).
		Msg("remote price call")
	return b, nil
}

func (r *RemoteRegressor) Close() error { return nil }

// handleError turns >399 responses into errors; resty reports them as success.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}
