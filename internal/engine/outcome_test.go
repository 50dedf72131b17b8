package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aitastack/aita-fusion/internal/ml"
	"github.com/aitastack/aita-fusion/internal/repo"
	"github.com/aitastack/aita-fusion/internal/utils"
)

func TestOutcomeFor(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		want  Status
		retry bool
	}{
		{"nil", nil, StatusSuccess, false},
		{"model unavailable", fmt.Errorf("score: %w", ml.ErrModelUnavailable), StatusFatal, false},
		{"not found", fmt.Errorf("threat 1: %w", repo.ErrNotFound), StatusFatal, false},
		{"no text", ml.ErrNoText, StatusFatal, false},
		{"cancelled", context.Canceled, StatusFatal, false},
		{"not configured", fmt.Errorf("extractor: %w", ErrNotConfigured), StatusFatal, false},
		{"transient", utils.Transient(errors.New("conn reset")), StatusRetryable, true},
		{"deadline", context.DeadlineExceeded, StatusRetryable, true},
		{"systemic", systemic("load", errors.New("syntax error")), StatusFatal, false},
		{"systemic transient", systemic("load", utils.Transient(errors.New("conn reset"))), StatusRetryable, true},
		{"unknown", errors.New("boom"), StatusRetryable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := outcomeFor(tc.err, CorrelationRetry)
			if o.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, o.Status)
			}
			if tc.retry && o.Retry != CorrelationRetry {
				t.Fatalf("expected retry policy to be attached, got %+v", o.Retry)
			}
			if !tc.retry && o.Retry != (RetryPolicy{}) {
				t.Fatalf("expected no retry policy, got %+v", o.Retry)
			}
		})
	}
}

func TestRetryPolicies(t *testing.T) {
	if CorrelationRetry.MaxRetries != 3 || CorrelationRetry.Backoff.Seconds() != 60 {
		t.Fatalf("unexpected correlation policy: %+v", CorrelationRetry)
	}
	if TrainingRetry.MaxRetries != 2 || TrainingRetry.Backoff.Seconds() != 300 {
		t.Fatalf("unexpected training policy: %+v", TrainingRetry)
	}
}
