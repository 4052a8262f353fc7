package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Wrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrStorageUnavailable.Wrap(cause)

	assert.Equal(t, ErrStorageUnavailable.Code, err.Code)
	assert.Equal(t, "storage unavailable: connection refused", err.Msg)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.NotErrorIs(t, err, ErrConvNotFound)

	assert.Same(t, ErrSendFailed, ErrSendFailed.Wrap(nil))
}

func TestError_As(t *testing.T) {
	wrapped := fmt.Errorf("replay: %w", ErrPartialWrite.Wrap(errors.New("timeout")))

	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, 4007, e.Code)
	assert.ErrorIs(t, wrapped, ErrPartialWrite)
}
