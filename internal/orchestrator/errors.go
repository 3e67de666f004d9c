package orchestrator

import (
	"errors"
	"fmt"

	"github.com/local/pdfbatcher/internal/document"
)

var (
	// ErrExtractionFailure marks a batch that could not be written.
	ErrExtractionFailure = errors.New("batch extraction failed")
	// ErrFileLocked is reported when a file stays locked past the retry ceiling.
	ErrFileLocked = errors.New("file still locked")
	// ErrNoInputs is returned when a pass has nothing to batch.
	ErrNoInputs = document.ErrNoInputs
)

// ValidationError represents a fatal validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}
