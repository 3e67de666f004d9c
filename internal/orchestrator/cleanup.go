package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Remover deletes files that may still be held open elsewhere, polling with
// a fixed backoff up to MaxRetries extra attempts.
type Remover struct {
	Backoff    time.Duration
	MaxRetries int

	remove func(string) error
}

// NewRemover returns a Remover with the given backoff and retry ceiling.
func NewRemover(backoff time.Duration, maxRetries int) *Remover {
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Remover{Backoff: backoff, MaxRetries: maxRetries, remove: os.Remove}
}

// Remove deletes path. A missing file counts as removed. Any other failure is
// treated as a lock and retried; past the ceiling ErrFileLocked is returned.
func (r *Remover) Remove(ctx context.Context, path string) error {
	remove := r.remove
	if remove == nil {
		remove = os.Remove
	}
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.Backoff):
			}
		}
		err := remove(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			if attempt > 0 {
				log.Debug().Str("path", path).Int("attempts", attempt+1).Msg("removed after lock cleared")
			}
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrFileLocked, path, r.MaxRetries+1, lastErr)
}

// tempPrefixes are the names the document service gives its temp files.
var tempPrefixes = []string{"pdfdl-", "s3pdf-", "pdfconv-"}

// CleanupTemps removes temp files under dir left behind by interrupted passes
// and older than maxAge.
func CleanupTemps(dir string, maxAge time.Duration) int {
	now := time.Now()
	removed := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		name := e.Name()
		if !hasTempPrefix(name) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Str("dir", dir).Msg("removed stale temp files")
	}
	return removed
}

func hasTempPrefix(name string) bool {
	for _, p := range tempPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
