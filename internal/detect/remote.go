package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const defaultRemoteTimeout = 60 * time.Second

// remoteManifest points at an inference service that takes a multipart image
// upload and answers with detections.
type remoteManifest struct {
	URL     string            `json:"url"`
	Field   string            `json:"field"`
	Timeout string            `json:"timeout"`
	Headers map[string]string `json:"headers"`
}

type remoteModel struct {
	httpClient *resty.Client
	url        string
	field      string
}

func loadRemote(_ context.Context, m Manifest) (Model, error) {
	var rm remoteManifest
	if err := m.Decode(&rm); err != nil {
		return nil, err
	}
	if rm.URL == "" {
		return nil, errors.New("http manifest has no url")
	}
	timeout := defaultRemoteTimeout
	if rm.Timeout != "" {
		d, err := time.ParseDuration(rm.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", rm.Timeout, err)
		}
		timeout = d
	}
	field := rm.Field
	if field == "" {
		field = "image"
	}

	client := resty.New().
		SetDebug(false).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeaders(rm.Headers)

	return &remoteModel{httpClient: client, url: rm.URL, field: field}, nil
}

// Infer uploads the original image bytes.
func (r *remoteModel) Infer(ctx context.Context, in Input) ([]Candidate, error) {
	res, err := handleError(r.httpClient.
		NewRequest().
		SetContext(ctx).
		SetFileReader(r.field, filepath.Base(in.Name), bytes.NewReader(in.Data)).
		Post(r.url))
	if err != nil {
		return nil, err
	}

	candidates, err := parseWireDetections(res.Body())
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("url", r.url).
		Int("status", res.StatusCode()).
		Int("candidates", len(candidates)).
		Msg("remote detection call")
	return candidates, nil
}

func (r *remoteModel) Close() error { return nil }

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

func init() {
	Register("http", BackendFunc(loadRemote))
}
