package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := DefaultRetryPolicy(3)

	transient := shorts.NewTransientError("download", errors.New("connection reset"))
	permanent := shorts.NewPermanentError("download", "not_found", errors.New("HTTP Error 404"))
	validation := shorts.NewValidationError("duration cap exceeded")

	tests := []struct {
		name     string
		err      error
		attempts int
		want     bool
	}{
		{name: "transient first failure", err: transient, attempts: 0, want: true},
		{name: "transient second failure", err: transient, attempts: 1, want: true},
		{name: "transient third failure", err: transient, attempts: 2, want: true},
		{name: "transient attempts exhausted", err: transient, attempts: 3, want: false},
		{name: "permanent never retries", err: permanent, attempts: 0, want: false},
		{name: "validation never retries", err: validation, attempts: 0, want: false},
		{name: "plain error never retries", err: errors.New("plain"), attempts: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldRetry(tt.err, tt.attempts))
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	policy := DefaultRetryPolicy(10)

	assert.Equal(t, 2*time.Second, policy.Delay(1))
	assert.Equal(t, 4*time.Second, policy.Delay(2))
	assert.Equal(t, 8*time.Second, policy.Delay(3))
	assert.Equal(t, 16*time.Second, policy.Delay(4))
	// capped
	assert.Equal(t, 30*time.Second, policy.Delay(5))
	assert.Equal(t, 30*time.Second, policy.Delay(12))
}

func TestDefaultRetryPolicyClampsAttempts(t *testing.T) {
	assert.Equal(t, 3, DefaultRetryPolicy(0).MaxAttempts)
	assert.Equal(t, 3, DefaultRetryPolicy(-1).MaxAttempts)
	assert.Equal(t, 5, DefaultRetryPolicy(5).MaxAttempts)
}
