package detect

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"os"

	"github.com/raine/ewaste-quote/internal/ewaste"
	"github.com/raine/ewaste-quote/internal/storage"
	"github.com/rs/zerolog/log"
)

// CachedDetector wraps a Detector with a persistent result cache keyed by the
// contents of the image and the model artifact.
type CachedDetector struct {
	inner Detector
	cache storage.DetectionCache
}

// NewCachedDetector creates a cached detector. A nil cache disables caching.
func NewCachedDetector(inner Detector, cache storage.DetectionCache) *CachedDetector {
	return &CachedDetector{inner: inner, cache: cache}
}

// cacheKey hashes the inputs with a length prefix for each, so that moving
// bytes from one input to the other changes the key.
func cacheKey(inputs ...[]byte) string {
	h := sha256.New()
	for _, in := range inputs {
		binary.Write(h, binary.LittleEndian, int64(len(in)))
		h.Write(in)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Detect implements Detector with caching. Cache failures are logged and
// otherwise ignored.
func (c *CachedDetector) Detect(ctx context.Context, imagePath, modelPath string) (ewaste.DetectionSet, error) {
	if c.cache == nil {
		return c.inner.Detect(ctx, imagePath, modelPath)
	}
	if err := CheckInputs(imagePath, modelPath); err != nil {
		return nil, err
	}

	key, ok := c.key(imagePath, modelPath)
	if ok {
		cached, hit, err := c.cache.GetDetections(key)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check detection cache")
		} else if hit {
			log.Debug().Str("key", key[:16]).Msg("detection cache hit")
			return cached, nil
		}
	}

	detections, err := c.inner.Detect(ctx, imagePath, modelPath)
	if err != nil {
		return nil, err
	}

	if ok {
		if err := c.cache.SetDetections(key, detections); err != nil {
			log.Warn().Err(err).Msg("failed to cache detections")
		} else {
			log.Debug().Str("key", key[:16]).Msg("cached detections")
		}
	}
	return detections, nil
}

func (c *CachedDetector) key(imagePath, modelPath string) (string, bool) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return "", false
	}
	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return "", false
	}
	return cacheKey(imageData, modelData), true
}
