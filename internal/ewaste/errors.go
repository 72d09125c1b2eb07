package ewaste

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the detector, the price estimator and
// the pipeline matches one of these with errors.Is.
var (
	ErrInputValidation = errors.New("input validation failed")
	ErrModelLoad       = errors.New("model load failed")
	ErrImageDecode     = errors.New("image decode failed")
	ErrInference       = errors.New("inference failed")
)

// Resource names used by NotFoundError.
const (
	ResourceImage = "Image"
	ResourceModel = "Model"
)

// NotFoundError reports a missing input file. A missing model is also a
// model load failure.
type NotFoundError struct {
	Resource string
	Path     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found at %s", e.Resource, e.Path)
}

func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrInputValidation:
		return true
	case ErrModelLoad:
		return e.Resource == ResourceModel
	}
	return false
}

// InvalidWeightError reports a weight that is not a finite positive number.
type InvalidWeightError struct {
	Value  string
	Reason string
}

func (e *InvalidWeightError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Invalid weight value: %s", e.Value)
	}
	return fmt.Sprintf("Invalid weight value: %s (%s)", e.Value, e.Reason)
}

func (e *InvalidWeightError) Is(target error) bool {
	return target == ErrInputValidation
}

// ModelLoadError reports a model artifact that could not be loaded or parsed.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

func (e *ModelLoadError) Is(target error) bool {
	return target == ErrModelLoad
}

// ImageDecodeError reports image bytes that could not be decoded.
type ImageDecodeError struct {
	Path string
	Err  error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("failed to decode image %s: %v", e.Path, e.Err)
}

func (e *ImageDecodeError) Unwrap() error { return e.Err }

func (e *ImageDecodeError) Is(target error) bool {
	return target == ErrImageDecode
}

// InferenceError reports a model that loaded but failed while running.
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Backend, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}
