package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_IsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError("eschool", "Get", ErrTransport, "request failed", cause)

	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrAuthExpired))
	assert.Equal(t, "eschool.Get: request failed: connection reset", err.Error())
}

func TestDomainError_UnwrapFallsBackToKind(t *testing.T) {
	err := NewDomainError("snapshot", "Load", ErrNotFound, "no snapshot")

	assert.Equal(t, ErrNotFound, errors.Unwrap(err))
	assert.True(t, IsNotFound(fmt.Errorf("load: %w", err)))
}

func TestMalformed(t *testing.T) {
	err := Malformed("Marks", "missing result")

	assert.True(t, IsMalformed(err))
	assert.False(t, IsTransport(err))
}
