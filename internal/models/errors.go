package models

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Callers match with errors.Is.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedType   = errors.New("unsupported type")
	ErrExtraction        = errors.New("extraction failed")
	ErrFileNotFound      = errors.New("file not found")
	ErrNoContent         = errors.New("no content extracted")
	ErrNoAudioStream     = errors.New("no audio stream")
	ErrNoTranscript      = errors.New("no transcript available")
	ErrUnsupportedOffice = errors.New("unsupported office document")
	ErrTransformation    = errors.New("transformation failed")
	ErrNotFound          = errors.New("not found")
)

// NewInvalidInput returns an error wrapping ErrInvalidInput with a caller-facing reason.
func NewInvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}

// UnsupportedTypeError names the MIME type or URL kind that has no extractor.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported type: %s", e.Type)
}

func (e *UnsupportedTypeError) Is(target error) bool { return target == ErrUnsupportedType }

// ExtractionError is a terminal failure inside one extractor.
type ExtractionError struct {
	Extractor string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Extractor, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// TransformationError is the failure of a single fan-out unit.
type TransformationError struct {
	Title string
	Err   error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("transformation %q: %v", e.Title, e.Err)
}

func (e *TransformationError) Unwrap() error { return e.Err }

func (e *TransformationError) Is(target error) bool { return target == ErrTransformation }
