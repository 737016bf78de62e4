package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMetricsRecordInvocation(t *testing.T) {
	m := NewMetrics(zap.NewNop())
	ctx := context.Background()

	// The default global meter provider is a no-op; recording must still be
	// safe to call.
	m.IncrementActive(ctx, "record_experience")
	m.RecordInvocation(ctx, "record_experience", 25*time.Millisecond, nil)
	m.RecordInvocation(ctx, "record_experience", 5*time.Millisecond, errors.New("boom"))
	m.DecrementActive(ctx, "record_experience")
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", errors.New("lesson 9: not found"), "not_found"},
		{"insufficient evidence", errors.New("insufficient evidence: need at least 3 episodes"), "insufficient_evidence"},
		{"validation", errors.New("operation type cannot be empty"), "validation_error"},
		{"outcome validation", errors.New("outcome must be 'success', 'failure', or 'partial'"), "validation_error"},
		{"timeout", errors.New("context deadline exceeded: timeout"), "timeout"},
		{"storage", errors.New("inserting episode: sql: database is locked"), "storage_error"},
		{"unknown", errors.New("something else"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.err))
		})
	}
}
