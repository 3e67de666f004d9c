package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/document"
)

// Concatenator joins documents in order into one file.
type Concatenator interface {
	Concatenate(ctx context.Context, docs []*document.Document, outPath string) (*document.Document, error)
}

// Coalesce reduces the inputs of a pass to the one document that gets
// batched. A single input is returned unchanged. Several inputs are
// concatenated, in order, into intermediatePath and the result is reported as
// coalesced so the caller knows it owns the intermediate.
func Coalesce(ctx context.Context, svc Concatenator, docs []*document.Document, intermediatePath string) (*document.Document, bool, error) {
	switch len(docs) {
	case 0:
		return nil, false, ErrNoInputs
	case 1:
		return docs[0], false, nil
	}

	log.Info().Int("inputs", len(docs)).Str("intermediate", intermediatePath).Msg("cannot batch multiple files, concatenating first")
	merged, err := svc.Concatenate(ctx, docs, intermediatePath)
	if err != nil {
		return nil, false, fmt.Errorf("coalesce %d inputs: %w", len(docs), err)
	}
	merged.Temp = true
	return merged, true, nil
}
