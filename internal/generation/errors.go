package generation

import "errors"

// GenerationFailed reports an engine failure mid-generation (HTTP 500).
type GenerationFailed struct{ Err error }

func (e *GenerationFailed) Error() string { return "generation failed: " + e.Err.Error() }

func (e *GenerationFailed) Unwrap() error { return e.Err }

// IsGenerationFailed reports whether err is or wraps a *GenerationFailed.
func IsGenerationFailed(err error) bool {
	var g *GenerationFailed
	return errors.As(err, &g)
}
