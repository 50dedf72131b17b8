package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aitastack/aita-fusion/internal/ml"
	"github.com/aitastack/aita-fusion/internal/repo"
	"github.com/aitastack/aita-fusion/internal/utils"
)

// Status is the disposition of one entry point invocation.
type Status int

const (
	StatusSuccess Status = iota
	StatusRetryable
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// RetryPolicy tells the dispatcher how to retry a retryable outcome.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

var (
	// CorrelationRetry governs correlation batches and single-event correlation.
	CorrelationRetry = RetryPolicy{MaxRetries: 3, Backoff: 60 * time.Second}
	// TrainingRetry governs model retraining.
	TrainingRetry = RetryPolicy{MaxRetries: 2, Backoff: 300 * time.Second}
	// EnrichmentRetry governs per-threat extraction, classification and scoring.
	EnrichmentRetry = RetryPolicy{MaxRetries: 3, Backoff: 60 * time.Second}
)

// ErrSystemic marks failures that abort a whole batch, such as the candidate list
// being unavailable.
var ErrSystemic = errors.New("systemic batch failure")

// ErrNotConfigured marks a missing collaborator. Retrying cannot fix it.
var ErrNotConfigured = errors.New("not configured")

// Outcome is returned by every pipeline entry point in place of raised errors. The
// scheduler decides on redelivery from Status and Retry.
type Outcome struct {
	Status Status
	Err    error
	Retry  RetryPolicy
}

// OK reports success.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

func (o Outcome) String() string {
	if o.Err == nil {
		return o.Status.String()
	}
	return fmt.Sprintf("%s: %v", o.Status, o.Err)
}

func success() Outcome { return Outcome{Status: StatusSuccess} }

// outcomeFor classifies err. Missing models or collaborators, missing records, unusable
// input and cancellation are fatal. Systemic failures are fatal unless their cause is transient.
// Anything else is treated as recoverable and handed back with policy.
func outcomeFor(err error, policy RetryPolicy) Outcome {
	switch {
	case err == nil:
		return success()
	case errors.Is(err, ml.ErrModelUnavailable),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, ml.ErrNoText),
		errors.Is(err, ErrNotConfigured),
		errors.Is(err, context.Canceled):
		return Outcome{Status: StatusFatal, Err: err}
	case utils.IsTransient(err):
		return Outcome{Status: StatusRetryable, Err: err, Retry: policy}
	case errors.Is(err, ErrSystemic):
		return Outcome{Status: StatusFatal, Err: err}
	default:
		return Outcome{Status: StatusRetryable, Err: err, Retry: policy}
	}
}

func systemic(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrSystemic, err))
}
