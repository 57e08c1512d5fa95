package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine error taxonomy. Callers classify
// failures with errors.Is against these.
var (
	// ErrInvalidInput marks malformed input (empty or oversized text,
	// non-positive top-k). Rejected locally, before any gateway call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable marks an unreachable or failing embedding
	// provider. Transient; callers may retry with backoff.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrGenerationUnavailable marks an unreachable or failing generation
	// provider. Transient; callers may retry with backoff.
	ErrGenerationUnavailable = errors.New("generation provider unavailable")

	// ErrIndexUnavailable marks an unreachable vector index. Transient.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrDimensionMismatch marks an embedding dimensionality conflict
	// between the query or chunk and the index. A deployment error,
	// never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound marks a missing chunk or task.
	ErrNotFound = errors.New("not found")
)

// Pipeline stage names used in StageError attribution.
const (
	StageEmbed    = "embed"
	StageSearch   = "search"
	StageAssemble = "assemble"
	StageGenerate = "generate"
)

// StageError attributes a pipeline failure to the stage that produced it.
// It unwraps to the underlying error so sentinel classification still works.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with stage attribution.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the failing stage name from err, or "" if err carries
// no stage attribution.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Retryable reports whether err is a transient upstream failure worth
// retrying. Dimension mismatches and invalid input are permanent.
func Retryable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrGenerationUnavailable) ||
		errors.Is(err, ErrIndexUnavailable)
}
