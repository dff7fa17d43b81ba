package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInput(t *testing.T) {
	err := Input("column %q does not exist", "SMA_20")

	assert.True(t, errors.Is(err, ErrInput))
	assert.False(t, errors.Is(err, ErrComputation))
	assert.Equal(t, `input error: column "SMA_20" does not exist`, err.Error())

	wrapped := fmt.Errorf("apply conditions: %w", err)
	assert.True(t, IsInput(wrapped))
}

func TestComputation(t *testing.T) {
	cause := errors.New("division by zero")
	err := Computation(cause, "bollinger %d", 20)

	assert.True(t, errors.Is(err, ErrComputation))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, IsInput(err))
	assert.Contains(t, err.Error(), "division by zero")
}
