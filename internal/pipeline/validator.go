package pipeline

import (
	"context"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/rs/zerolog"
)

// Validator reconciles the produced row count with the upstream count.
type Validator struct {
	log zerolog.Logger
}

func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log}
}

// Validate requires produced == expected in normal mode. A missing expected
// count always fails and is reported as zero. Manual mode only logs a mismatch.
func (v *Validator) Validate(ctx context.Context, produced int64, expected *int64, mode domain.RunMode) error {
	var want int64
	if expected != nil {
		want = *expected
	}
	if expected != nil && produced == want {
		return nil
	}

	err := domain.CountMismatchError(produced, want)
	if mode == domain.RunModeManual {
		v.log.Warn().
			Int64("produced", produced).
			Interface("expected", expected).
			Msg("row count check skipped in manual mode")
		return nil
	}

	v.log.Error().Err(err).Int64("produced", produced).Interface("expected", expected).Msg("row count mismatch")
	return err
}
