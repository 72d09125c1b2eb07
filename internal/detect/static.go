package detect

import (
	"context"
	"encoding/json"
)

// staticManifest lists fixed detections that every image yields. It stands in
// for a real model in tests and demos.
type staticManifest struct {
	Detections json.RawMessage `json:"detections"`
}

type staticModel struct {
	candidates []Candidate
}

func loadStatic(_ context.Context, m Manifest) (Model, error) {
	var sm staticManifest
	if err := m.Decode(&sm); err != nil {
		return nil, err
	}
	candidates := []Candidate{}
	if len(sm.Detections) > 0 {
		var err error
		candidates, err = parseWireDetections(sm.Detections)
		if err != nil {
			return nil, err
		}
	}
	return &staticModel{candidates: candidates}, nil
}

func (s *staticModel) Infer(ctx context.Context, _ Input) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out, nil
}

func (s *staticModel) Close() error { return nil }

func init() {
	Register("static", BackendFunc(loadStatic))
}
