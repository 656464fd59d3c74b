package quiz

import (
	"context"
	"errors"

	"github.com/xhad/studyroom/internal/models"
	"github.com/xhad/studyroom/internal/types"
	"github.com/xhad/studyroom/pkg/llm"
	"go.uber.org/zap"
)

// RetryPolicy bounds the generate-and-parse cycle.
type RetryPolicy struct {
	MaxAttempts int
	// Retryable decides whether a failed attempt is worth repeating.
	// Nil means IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy allows three attempts in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Retryable: IsRetryable}
}

// IsRetryable accepts parse and generation failures. Cancellation of the
// caller's context is final.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var parseErr *ParseError
	var genErr *llm.GenerationError
	return errors.As(err, &parseErr) || errors.As(err, &genErr)
}

// Outcome describes one run of Generate.
type Outcome struct {
	Items    []models.QuizItem
	Attempts int
	Errors   []error
}

// Generate calls the generator and parses its output until a quiz is
// produced or the policy gives up. It never fails: when every attempt fails
// the outcome carries an empty, non-nil item list.
func Generate(ctx context.Context, gen types.Generator, prompt string, policy RetryPolicy, logger *zap.Logger) Outcome {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}

	var out Outcome
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			out.Errors = append(out.Errors, ctx.Err())
			break
		}
		out.Attempts = attempt

		raw, err := gen.Generate(ctx, prompt)
		if err == nil {
			var items []models.QuizItem
			if items, err = Parse(raw); err == nil {
				out.Items = items
				return out
			}
		}

		out.Errors = append(out.Errors, err)
		logger.Warn("quiz attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Error(err),
		)
		if !policy.Retryable(err) {
			break
		}
	}

	out.Items = []models.QuizItem{}
	return out
}
