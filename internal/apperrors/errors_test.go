package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeStorage, "save state", errors.New("disk full"))
	wrapped := fmt.Errorf("turn 3: %w", err)

	assert.ErrorIs(t, wrapped, ErrStorage)
	assert.NotErrorIs(t, wrapped, ErrValidation)
	assert.Equal(t, CodeStorage, CodeOf(wrapped))
	assert.Equal(t, "save state: disk full", err.Error())
}

func TestGenerationClassifiesDeadline(t *testing.T) {
	timeout := Generation("extract entities", fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, timeout, ErrGenerationTimeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	failure := Generation("narrate", errors.New("quota exhausted"))
	assert.ErrorIs(t, failure, ErrGenerationFailure)

	coded := New(CodeBudgetExceeded, "ceiling reached")
	assert.Same(t, coded, Generation("image", coded))
	assert.NoError(t, Generation("noop", nil))
}

func TestStorageKeepsExistingStorageError(t *testing.T) {
	inner := Wrap(CodeStorage, "write", errors.New("eio"))
	assert.Same(t, inner, Storage("outer", inner))
	assert.ErrorIs(t, Storage("load", errors.New("eio")), ErrStorage)
	assert.NoError(t, Storage("load", nil))
}
