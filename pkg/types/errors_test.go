package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	plain := NewError(ErrNotFound, "agent %s not found", "a1")
	assert.Equal(t, "not-found: agent a1 not found", plain.Error())

	wrapped := WrapError(ErrExternal, errors.New("connection refused"), "worker call failed")
	assert.Equal(t, "external: worker call failed: connection refused", wrapped.Error())
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(ErrUnavailable, cause, "worker down")
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrConflict, KindOf(NewError(ErrConflict, "slug taken")))
	assert.Equal(t, ErrInternal, KindOf(errors.New("plain")))

	// Kind survives fmt wrapping.
	wrapped := fmt.Errorf("context: %w", NewError(ErrTimeout, "deadline"))
	assert.Equal(t, ErrTimeout, KindOf(wrapped))
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(NewError(ErrForbidden, "not yours"), ErrForbidden))
	assert.False(t, IsKind(NewError(ErrForbidden, "not yours"), ErrNotFound))
	assert.False(t, IsKind(nil, ErrNotFound))
	assert.True(t, IsKind(errors.New("plain"), ErrInternal))
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := WrapError(ErrInUse, errors.New("ref held"), "skill referenced")
	assert.True(t, errors.Is(err, &Error{Kind: ErrInUse}))
	assert.False(t, errors.Is(err, &Error{Kind: ErrConflict}))
}
