package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := Newf(KindInsufficientStock, "product %s has %d left", "p-1", 1)

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("create reservation: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInsufficientStock))
	assert.Equal(t, KindInsufficientStock, KindOf(wrapped))
}

func TestKindOfUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("connection refused")))
	assert.True(t, IsTransient(errors.New("connection refused")))
}

func TestTransient(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindInternal, true},
		{KindInsufficientStock, true},
		{KindInvalidPickupTime, false},
		{KindInvalidTransition, false},
		{KindCancellationWindowExpired, false},
		{KindReasonRequired, false},
		{KindNotEligible, false},
		{KindDuplicateReview, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind, "x").Transient())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("timeout")
	err := Internal("reserve stock", cause)

	assert.Equal(t, "[INTERNAL] reserve stock: timeout", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[REASON_REQUIRED] cancellation reason is required", ErrReasonRequired.Error())
}
