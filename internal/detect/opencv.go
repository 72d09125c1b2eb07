//go:build opencv

package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"
)

// cocoLabels maps the COCO class ids of SSD models trained on the TensorFlow
// label map to names CategoryFromLabel understands.
var cocoLabels = map[string]string{
	"72": "tv",
	"73": "laptop",
	"74": "mouse",
	"75": "remote",
	"76": "keyboard",
	"77": "cell phone",
}

// opencvManifest configures an SSD-style network read by OpenCV's DNN module.
// Binary artifacts (.onnx, .pb) use the defaults with the artifact itself as
// the weights.
type opencvManifest struct {
	Weights       string            `json:"weights"`
	Config        string            `json:"config"`
	Labels        map[string]string `json:"labels"`
	MinConfidence float64           `json:"min_confidence"`
	InputSize     int               `json:"input_size"`
	Scale         float64           `json:"scale"`
	Mean          float64           `json:"mean"`
	SwapRB        bool              `json:"swap_rb"`
}

type opencvModel struct {
	net      gocv.Net
	settings opencvManifest
}

func loadOpenCV(_ context.Context, m Manifest) (Model, error) {
	labels := make(map[string]string, len(cocoLabels))
	for id, name := range cocoLabels {
		labels[id] = name
	}
	settings := opencvManifest{
		Weights:       m.Path,
		Labels:        labels,
		MinConfidence: 0.6,
		InputSize:     300,
		Scale:         1.0 / 127.5,
		Mean:          127.5,
		SwapRB:        true,
	}
	if err := m.Decode(&settings); err != nil {
		return nil, err
	}
	weights := m.Resolve(settings.Weights)
	config := m.Resolve(settings.Config)

	if _, err := os.Stat(weights); err != nil {
		return nil, fmt.Errorf("weights file not found: %s", weights)
	}
	if config != "" {
		if _, err := os.Stat(config); err != nil {
			return nil, fmt.Errorf("config file not found: %s", config)
		}
	}

	net := gocv.ReadNet(weights, config)
	if net.Empty() {
		return nil, errors.New("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, errors.New("failed to set preferable backend or target")
	}

	return &opencvModel{net: net, settings: settings}, nil
}

// Infer reads output rows of [batch_id, class_id, confidence, x1, y1, x2, y2]
// with coordinates relative to the image size.
func (o *opencvModel) Infer(ctx context.Context, in Input) ([]Candidate, error) {
	mat, err := gocv.ImageToMatRGB(in.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("converted image is empty")
	}

	s := o.settings
	blob := gocv.BlobFromImage(mat, s.Scale, image.Pt(s.InputSize, s.InputSize), gocv.NewScalar(s.Mean, s.Mean, s.Mean, 0), s.SwapRB, false)
	defer blob.Close()

	o.net.SetInput(blob, "")
	output := o.net.Forward("")
	defer output.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols := float32(mat.Cols())
	height := float32(mat.Rows())
	var candidates []Candidate
	for i := 0; i < rows.Rows(); i++ {
		confidence := rows.GetFloatAt(i, 2)
		if float64(confidence) < s.MinConfidence {
			continue
		}
		classID := strconv.Itoa(int(rows.GetFloatAt(i, 1)))
		label, ok := s.Labels[classID]
		if !ok {
			label = "unknown" + classID
		}
		candidates = append(candidates, Candidate{
			Label:      label,
			Confidence: float64(confidence),
			Box: image.Rect(
				int(rows.GetFloatAt(i, 3)*cols),
				int(rows.GetFloatAt(i, 4)*height),
				int(rows.GetFloatAt(i, 5)*cols),
				int(rows.GetFloatAt(i, 6)*height),
			),
		})
	}

	log.Debug().Int("rows", rows.Rows()).Int("candidates", len(candidates)).Msg("opencv forward pass")
	return candidates, nil
}

func (o *opencvModel) Close() error {
	return o.net.Close()
}

func init() {
	Register("opencv", BackendFunc(loadOpenCV))
}
