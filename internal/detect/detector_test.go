package detect

import (
	"context"
	"errors"
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type backendMock struct {
	mock.Mock
}

func (m *backendMock) Load(ctx context.Context, manifest Manifest) (Model, error) {
	args := m.Called(manifest.Kind)
	model, _ := args.Get(0).(Model)
	return model, args.Error(1)
}

type modelMock struct {
	mock.Mock
}

func (m *modelMock) Infer(ctx context.Context, in Input) ([]Candidate, error) {
	args := m.Called(in.Image.Bounds())
	candidates, _ := args.Get(0).([]Candidate)
	return candidates, args.Error(1)
}

func (m *modelMock) Close() error {
	return m.Called().Error(0)
}

func TestDetect_TwoSeparatedItems(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 640, 480)
	model := writeFile(t, dir, "yolo.json", twoItemManifest)

	set, err := NewService(nil).Detect(context.Background(), img, model)
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, ewaste.Detection{
		Category:   ewaste.Laptop,
		Confidence: 0.92,
		BBox:       ewaste.BBox{X1: 100, Y1: 150, X2: 350, Y2: 450},
	}, set[0])
	assert.Equal(t, ewaste.Phone, set[1].Category)

	bounds := image.Rect(0, 0, 640, 480)
	for _, d := range set {
		assert.True(t, d.Valid(bounds))
		assert.Greater(t, d.Confidence, 0.0)
	}
}

func TestDetect_EmptyResultIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 32, 32)
	model := writeFile(t, dir, "empty.json", `{"kind": "static", "detections": []}`)

	set, err := NewService(nil).Detect(context.Background(), img, model)
	require.NoError(t, err)
	assert.NotNil(t, set)
	assert.Empty(t, set)
}

func TestDetect_MissingImageFailsBeforeModel(t *testing.T) {
	dir := t.TempDir()
	model := writeFile(t, dir, "m.json", `{"kind": "mocked"}`)

	backend := new(backendMock)
	registry := NewRegistry()
	registry.Register("mocked", backend)

	_, err := NewService(registry).Detect(context.Background(), filepath.Join(dir, "nope.jpg"), model)
	var notFound *ewaste.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, ewaste.ResourceImage, notFound.Resource)
	assert.Equal(t, "Image not found at "+filepath.Join(dir, "nope.jpg"), err.Error())
	backend.AssertNotCalled(t, "Load", mock.Anything)
}

func TestDetect_MissingModel(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 8, 8)

	_, err := NewService(nil).Detect(context.Background(), img, filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, ewaste.ErrModelLoad))
	var notFound *ewaste.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, ewaste.ResourceModel, notFound.Resource)
}

func TestDetect_UndecodableImage(t *testing.T) {
	dir := t.TempDir()
	img := writeFile(t, dir, "photo.jpg", "definitely not a jpeg")
	model := writeFile(t, dir, "yolo.json", twoItemManifest)

	_, err := NewService(nil).Detect(context.Background(), img, model)
	var decodeErr *ewaste.ImageDecodeError
	assert.True(t, errors.As(err, &decodeErr))
	assert.True(t, errors.Is(err, ewaste.ErrImageDecode))
}

func TestDetect_BadModels(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 8, 8)

	cases := map[string]string{
		"best.pt":      "torch pickle",
		"broken.json":  `{"kind": "static", "detections": [`,
		"nokind.json":  `{"detections": []}`,
		"unknown.json": `{"kind": "tensorrt"}`,
		"noconf.json":  `{"kind": "static", "detections": [{"category": "LAPTOP", "bbox": {"x1": 0, "y1": 0, "x2": 2, "y2": 2}}]}`,
		"nourl.json":   `{"kind": "http"}`,
	}
	for name, content := range cases {
		_, err := NewService(nil).Detect(context.Background(), img, writeFile(t, dir, name, content))
		var loadErr *ewaste.ModelLoadError
		assert.True(t, errors.As(err, &loadErr), name)
	}
}

func TestDetect_ReleasesModelOnInferenceFailure(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 20, 10)
	modelPath := writeFile(t, dir, "m.json", `{"kind": "mocked"}`)

	model := new(modelMock)
	model.On("Infer", image.Rect(0, 0, 20, 10)).Return(nil, errors.New("gpu on fire")).Once()
	model.On("Close").Return(nil).Once()
	backend := new(backendMock)
	backend.On("Load", "mocked").Return(model, nil).Once()

	registry := NewRegistry()
	registry.Register("mocked", backend)

	_, err := NewService(registry).Detect(context.Background(), img, modelPath)
	assert.True(t, errors.Is(err, ewaste.ErrInference))
	assert.Contains(t, err.Error(), "gpu on fire")
	model.AssertExpectations(t)
	backend.AssertExpectations(t)
}

func TestDetect_NormalizesBackendOutput(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 100, 80)
	modelPath := writeFile(t, dir, "m.json", `{"kind": "mocked"}`)

	model := new(modelMock)
	model.On("Infer", mock.Anything).Return([]Candidate{
		{Label: "cell phone", Confidence: 1.3, Box: image.Rect(-10, -10, 30, 40)},
		{Label: "laptop", Confidence: 0.4, Box: image.Rect(200, 200, 300, 300)},
		{Label: "toaster", Confidence: -0.2, Box: image.Rect(50, 50, 60, 70)},
	}, nil)
	model.On("Close").Return(nil)
	backend := new(backendMock)
	backend.On("Load", "mocked").Return(model, nil)

	registry := NewRegistry()
	registry.Register("mocked", backend)

	set, err := NewService(registry).Detect(context.Background(), img, modelPath)
	require.NoError(t, err)
	assert.Equal(t, ewaste.DetectionSet{
		{Category: ewaste.Phone, Confidence: 1, BBox: ewaste.BBox{X1: 0, Y1: 0, X2: 30, Y2: 40}},
		{Category: ewaste.Other, Confidence: 0, BBox: ewaste.BBox{X1: 50, Y1: 50, X2: 60, Y2: 70}},
	}, set)
}

func TestDetect_ModelLoadFailureIsWrapped(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, 8, 8)
	modelPath := writeFile(t, dir, "m.json", `{"kind": "mocked"}`)

	backend := new(backendMock)
	backend.On("Load", "mocked").Return(nil, errors.New("checksum mismatch"))
	registry := NewRegistry()
	registry.Register("mocked", backend)

	_, err := NewService(registry).Detect(context.Background(), img, modelPath)
	var loadErr *ewaste.ModelLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, modelPath, loadErr.Path)
}

func TestNormalize_KeepsOrderAndDropsNaN(t *testing.T) {
	bounds := image.Rect(0, 0, 10, 10)
	set := Normalize([]Candidate{
		{Label: "MOUSE", Confidence: 0.2, Box: image.Rect(1, 1, 2, 2)},
		{Label: "KEYBOARD", Confidence: math.NaN(), Box: image.Rect(1, 1, 5, 5)},
		{Label: "LAPTOP", Confidence: 0.9, Box: image.Rect(3, 3, 9, 9)},
	}, bounds)
	require.Len(t, set, 2)
	assert.Equal(t, ewaste.Mouse, set[0].Category)
	assert.Equal(t, ewaste.Laptop, set[1].Category)
}

func TestRegistry_DefaultKinds(t *testing.T) {
	kinds := DefaultRegistry().Kinds()
	assert.Contains(t, kinds, "static")
	assert.Contains(t, kinds, "http")
	assert.Contains(t, kinds, "gemini")
}

func TestManifest_Resolve(t *testing.T) {
	m := Manifest{Kind: "opencv", Path: "/models/ssd/manifest.json"}
	assert.Equal(t, "/models/ssd/graph.pb", m.Resolve("graph.pb"))
	assert.Equal(t, "/abs/graph.pb", m.Resolve("/abs/graph.pb"))
	assert.Equal(t, "", m.Resolve(""))
}

func TestReadManifest_BinaryArtifact(t *testing.T) {
	m, err := ReadManifest("/models/ssd_mobilenet.pb")
	require.NoError(t, err)
	assert.Equal(t, "opencv", m.Kind)
	assert.NoError(t, m.Decode(&struct{}{}))
}

func TestRegistry_CloneIsIndependent(t *testing.T) {
	clone := DefaultRegistry().Clone()
	clone.Register("gemini", &GeminiBackend{APIKey: "override"})
	clone.Register("extra", BackendFunc(loadStatic))

	b, ok := DefaultRegistry().Lookup("gemini")
	require.True(t, ok)
	assert.Empty(t, b.(*GeminiBackend).APIKey)
	_, ok = DefaultRegistry().Lookup("extra")
	assert.False(t, ok)
	assert.Contains(t, clone.Kinds(), "static")
}
