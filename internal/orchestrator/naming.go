package orchestrator

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/local/pdfbatcher/internal/batch"
)

// Namer returns the output path for the index-th (1-based) batch of a plan.
type Namer func(index int, b batch.Batch) string

// FixedNamer names batches <output>_Batch_<n>.pdf.
func FixedNamer(output string) Namer {
	base := trimPDF(output)
	return func(index int, _ batch.Batch) string {
		return fmt.Sprintf("%s_Batch_%d.pdf", base, index)
	}
}

// RangeNamer names batches <output>_Pages_From_<start>_to_<end>.pdf.
func RangeNamer(output string) Namer {
	base := trimPDF(output)
	return func(_ int, b batch.Batch) string {
		return fmt.Sprintf("%s_Pages_From_%d_to_%d.pdf", base, b.Start, b.End)
	}
}

// OutputPath is the single-file output of a concatenation pass.
func OutputPath(output string) string {
	return trimPDF(output) + ".pdf"
}

// IntermediatePath is where several inputs are concatenated before batching.
func IntermediatePath(output string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("%sTempForBatch%s.pdf", trimPDF(output), token)
}

// trimPDF drops a trailing .pdf, any case.
func trimPDF(p string) string {
	if strings.HasSuffix(strings.ToLower(p), ".pdf") {
		return p[:len(p)-len(".pdf")]
	}
	return p
}
