package detect

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/raine/ewaste-quote/internal/ewaste"
)

// wireDetection is the JSON shape of a detection as printed by the detect
// command and as accepted from static manifests and remote services. Remote
// services may call the category "label".
type wireDetection struct {
	Category   string      `json:"category"`
	Label      string      `json:"label,omitempty"`
	Confidence *float64    `json:"confidence"`
	BBox       ewaste.BBox `json:"bbox"`
}

func (w wireDetection) candidate() Candidate {
	label := w.Category
	if label == "" {
		label = w.Label
	}
	confidence := 0.0
	if w.Confidence != nil {
		confidence = *w.Confidence
	}
	return Candidate{
		Label:      label,
		Confidence: confidence,
		Box:        image.Rect(w.BBox.X1, w.BBox.Y1, w.BBox.X2, w.BBox.Y2),
	}
}

// parseWireDetections accepts either a bare JSON array of detections or an
// object wrapping them in "detections".
func parseWireDetections(data []byte) ([]Candidate, error) {
	var list []wireDetection
	if err := json.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Detections *[]wireDetection `json:"detections"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil || wrapped.Detections == nil {
			return nil, fmt.Errorf("unexpected detection response: %w", err)
		}
		list = *wrapped.Detections
	}

	candidates := make([]Candidate, 0, len(list))
	for i, w := range list {
		if w.Confidence == nil {
			return nil, fmt.Errorf("detection %d has no confidence", i)
		}
		candidates = append(candidates, w.candidate())
	}
	return candidates, nil
}
