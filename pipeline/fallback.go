package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Attempt records one strategy's failure.
type Attempt struct {
	Strategy string
	Err      error
}

// StageExhaustedError means every strategy of a stage failed.
type StageExhaustedError struct {
	Stage    string
	Attempts []Attempt
}

func (e *StageExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s: no strategies configured", e.Stage)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%s failed after %d strategies: %s", e.Stage, len(e.Attempts), strings.Join(parts, "; "))
}

func (e *StageExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// DegradedResult is logged when a degrading stage falls back to its default.
// It never fails a job.
type DegradedResult struct {
	Stage  string
	Reason error
}

func (d *DegradedResult) Error() string {
	return fmt.Sprintf("%s degraded to default: %v", d.Stage, d.Reason)
}

func (d *DegradedResult) Unwrap() error {
	return d.Reason
}

// RunChain tries strategies strictly in order and returns the first success.
// A panic counts as that strategy's failure. Once ctx is done the remaining
// strategies are recorded as failed with the context error.
func RunChain[S Named, T any](ctx context.Context, stage string, strategies []S, call func(context.Context, S) (T, error)) (T, error) {
	var zero T
	exhausted := &StageExhaustedError{Stage: stage}
	logger := zerolog.Ctx(ctx)

	for i, s := range strategies {
		name := s.Name()
		if err := ctx.Err(); err != nil {
			exhausted.Attempts = append(exhausted.Attempts, Attempt{Strategy: name, Err: err})
			continue
		}

		logger.Info().Str("stage", stage).Str("strategy", name).Int("attempt", i+1).Msg("trying strategy")
		result, err := invoke(ctx, s, call)
		if err == nil {
			logger.Info().Str("stage", stage).Str("strategy", name).Msg("strategy succeeded")
			return result, nil
		}
		logger.Warn().Err(err).Str("stage", stage).Str("strategy", name).Msg("strategy failed")
		exhausted.Attempts = append(exhausted.Attempts, Attempt{Strategy: name, Err: err})
	}
	return zero, exhausted
}

func invoke[S Named, T any](ctx context.Context, s S, call func(context.Context, S) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return call(ctx, s)
}
