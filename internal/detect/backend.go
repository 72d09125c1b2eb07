package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Input is the decoded image handed to a model, along with its raw bytes for
// backends that forward the file as-is.
type Input struct {
	Image image.Image
	Data  []byte
	Name  string
}

// Candidate is a raw model output before it is mapped onto the taxonomy and
// clipped to the image.
type Candidate struct {
	Label      string
	Confidence float64
	Box        image.Rectangle
}

// Model is a loaded detection model. A model is used for a single Detect call
// and closed afterwards.
type Model interface {
	Infer(ctx context.Context, in Input) ([]Candidate, error)
	Close() error
}

// Backend loads models of one kind.
type Backend interface {
	Load(ctx context.Context, m Manifest) (Model, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, m Manifest) (Model, error)

func (f BackendFunc) Load(ctx context.Context, m Manifest) (Model, error) {
	return f(ctx, m)
}

// Manifest describes a model artifact. JSON artifacts name their backend in
// "kind" and carry backend-specific settings; binary artifacts get their kind
// from the file extension.
type Manifest struct {
	Kind string
	Path string
	raw  json.RawMessage
}

// extensionKinds maps binary model formats onto the backend that reads them.
var extensionKinds = map[string]string{
	".onnx": "opencv",
	".pb":   "opencv",
}

// ReadManifest reads the model artifact at path.
func ReadManifest(path string) (Manifest, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if kind, ok := extensionKinds[ext]; ok {
		return Manifest{Kind: kind, Path: path}, nil
	}
	if ext != ".json" {
		return Manifest{}, fmt.Errorf("unsupported model format %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var header struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse model manifest: %w", err)
	}
	if header.Kind == "" {
		return Manifest{}, errors.New("model manifest has no kind")
	}
	return Manifest{Kind: header.Kind, Path: path, raw: data}, nil
}

// Decode unmarshals the backend-specific manifest fields into v. Binary
// artifacts have no fields and leave v untouched.
func (m Manifest) Decode(v any) error {
	if len(m.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.raw, v); err != nil {
		return fmt.Errorf("invalid %s manifest: %w", m.Kind, err)
	}
	return nil
}

// Resolve returns p relative to the manifest's directory unless it is absolute.
func (m Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(m.Path), p)
}

// Registry maps manifest kinds to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces the backend for kind.
func (r *Registry) Register(kind string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = b
}

// Clone returns a registry with the same backends that can be changed
// without affecting r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for kind, b := range r.backends {
		c.backends[kind] = b
	}
	return c
}

// Lookup returns the backend for kind.
func (r *Registry) Lookup(kind string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[kind]
	return b, ok
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.backends))
	for kind := range r.backends {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

var defaultRegistry = NewRegistry()

// Register adds a backend to the default registry.
func Register(kind string, b Backend) {
	defaultRegistry.Register(kind, b)
}

// DefaultRegistry returns the registry populated by the built-in backends.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
