package dispatcher

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/local/pdfbatcher/internal/batch"
	"github.com/local/pdfbatcher/internal/converter"
	"github.com/local/pdfbatcher/internal/document"
	"github.com/local/pdfbatcher/internal/filetype"
	"github.com/local/pdfbatcher/internal/orchestrator"
	"github.com/local/pdfbatcher/internal/raster"
)

// fatalErrors never succeed on retry.
var fatalErrors = []error{
	batch.ErrInvalidBatchSize,
	batch.ErrPageOutOfRange,
	raster.ErrDimensionMismatch,
	filetype.ErrUnsupported,
	document.ErrNeedsConversion,
	document.ErrNoInputs,
	converter.ErrNotInstalled,
	os.ErrNotExist,
}

// isTransientError checks if a pass error is worth a delayed retry
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	// Timeout errors
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Network errors (connection issues, timeouts, remote 5xx)
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "http 5") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}

// isFatalError checks if error is fatal and should not be retried
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var valErr *orchestrator.ValidationError
	if errors.As(err, &valErr) {
		return true
	}
	for _, fe := range fatalErrors {
		if errors.Is(err, fe) {
			return true
		}
	}

	// Validation keywords in error message
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "invalid request") ||
		strings.Contains(errStr, "validation failed") ||
		strings.Contains(errStr, "malformed") ||
		strings.Contains(errStr, "http 4") {
		return true
	}

	return false
}

// shouldRetry reports whether a failed pass goes back on the queue.
// Fatal classification wins over transient keywords.
func shouldRetry(err error) bool {
	return !isFatalError(err) && isTransientError(err)
}
