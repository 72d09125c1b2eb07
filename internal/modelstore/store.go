package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxAge is how long a downloaded model is used before it is fetched again.
	DefaultMaxAge = 24 * time.Hour
	// DefaultTimeout bounds a single model download.
	DefaultTimeout = 60 * time.Second

	gcsBaseURL = "https://storage.googleapis.com"
)

// DefaultDir is the local directory downloaded models are kept in.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "ebs-models")
}

// Store resolves model references to local files. Remote references are
// downloaded into dir and refreshed once they are older than maxAge.
type Store struct {
	httpClient *resty.Client
	dir        string
	maxAge     time.Duration
	now        func() time.Time
}

// New creates a Store that keeps downloads in dir.
func New(dir string) *Store {
	return &Store{
		httpClient: resty.New().SetTimeout(DefaultTimeout),
		dir:        dir,
		maxAge:     DefaultMaxAge,
		now:        time.Now,
	}
}

// WithMaxAge sets how long a download stays fresh.
func (s *Store) WithMaxAge(maxAge time.Duration) *Store {
	s.maxAge = maxAge
	return s
}

// WithTimeout sets the timeout of a single download.
func (s *Store) WithTimeout(timeout time.Duration) *Store {
	s.httpClient.SetTimeout(timeout)
	return s
}

// IsRemote reports whether ref needs downloading.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "gs":
		return u.Host != ""
	}
	return false
}

// Resolve returns a local path for ref. Local paths are returned unchanged.
// When a refresh fails but an older copy exists, the older copy is used.
func (s *Store) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsRemote(ref) {
		return ref, nil
	}
	source, err := downloadURL(ref)
	if err != nil {
		return "", &ewaste.ModelLoadError{Path: ref, Err: err}
	}
	local := filepath.Join(s.dir, cacheName(source))

	info, statErr := os.Stat(local)
	if statErr == nil && s.now().Sub(info.ModTime()) < s.maxAge {
		log.Debug().Str("model", ref).Str("path", local).Msg("using cached model")
		return local, nil
	}

	if err := s.download(ctx, source, local); err != nil {
		if statErr == nil {
			log.Warn().Err(err).Str("model", ref).Msg("model refresh failed, using previous download")
			return local, nil
		}
		var notFound *ewaste.NotFoundError
		if errors.As(err, &notFound) {
			notFound.Path = ref
			return "", notFound
		}
		return "", &ewaste.ModelLoadError{Path: ref, Err: err}
	}
	return local, nil
}

func (s *Store) download(ctx context.Context, source, dest string) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	log.Info().Str("url", source).Msg("downloading model")
	res, err := s.httpClient.R().
		SetContext(ctx).
		SetOutput(tmpPath).
		Get(source)
	if err != nil {
		return fmt.Errorf("failed to download model: %w", err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return &ewaste.NotFoundError{Resource: ewaste.ResourceModel, Path: source}
	}
	if res.IsError() {
		return fmt.Errorf("model download failed: GET %s (status: %d)", source, res.StatusCode())
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to store model: %w", err)
	}
	log.Info().Str("path", dest).Int64("bytes", res.Size()).Msg("model downloaded")
	return nil
}

// downloadURL maps gs://bucket/object to its public HTTPS form.
func downloadURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.Scheme != "gs" {
		return ref, nil
	}
	object := strings.TrimPrefix(u.Path, "/")
	if object == "" {
		return "", fmt.Errorf("gs reference %q has no object", ref)
	}
	return gcsBaseURL + "/" + u.Host + "/" + object, nil
}

// cacheName keeps the file extension (backends dispatch on it) and prefixes
// a digest of the URL so different sources never collide.
func cacheName(source string) string {
	sum := sha256.Sum256([]byte(source))
	base := "model"
	if u, err := url.Parse(source); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
		base = path.Base(u.Path)
	}
	return hex.EncodeToString(sum[:8]) + "-" + base
}
