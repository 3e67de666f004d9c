package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/local/pdfbatcher/internal/batch"
)

// Mode selects how a pass cuts its document.
type Mode string

const (
	ModeFixed      Mode = "fixed"
	ModeSimilarity Mode = "similarity"
	ModeConcat     Mode = "concat"
)

// Job is one batching pass, as submitted over HTTP or built from CLI flags.
type Job struct {
	ID         string   `json:"job_id"`
	Inputs     []string `json:"inputs" validate:"required,min=1,dive,required"`
	Output     string   `json:"output" validate:"required"`
	Mode       Mode     `json:"mode" validate:"required,oneof=fixed similarity concat"`
	BatchSize  int      `json:"batch_size,omitempty"`
	MasterPage int      `json:"master_page,omitempty"`
	Tolerance  *float64 `json:"tolerance,omitempty" validate:"omitempty,gte=0,lte=100"`
	Retain     bool     `json:"retain"`
	Attempt    int      `json:"attempt,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the job shape, then the mode-specific parameters. Bad mode
// parameters are reported with the planner's sentinel errors.
func (j Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return &ValidationError{Message: strings.Join(msgs, "; ")}
		}
		return &ValidationError{Message: err.Error()}
	}
	switch j.Mode {
	case ModeFixed:
		if j.BatchSize <= 0 {
			return fmt.Errorf("batch size %d: %w", j.BatchSize, batch.ErrInvalidBatchSize)
		}
	case ModeSimilarity:
		if j.MasterPage < 1 {
			return fmt.Errorf("master page %d: %w", j.MasterPage, batch.ErrPageOutOfRange)
		}
	}
	return nil
}
