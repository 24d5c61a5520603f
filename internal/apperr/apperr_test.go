package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasNoWrappedCause(t *testing.T) {
	err := New(NotFound, "fs.Read", "no such uri")
	assert.Nil(t, err.Unwrap())
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "fs.Read")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(Internal, "op", nil))
}

func TestWrapPreservesCauseViaUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IOError, "fs.Write", cause)
	require.NotNil(t, err)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestWithURIDoesNotMutateOriginal(t *testing.T) {
	base := New(InvalidURI, "uri.Parse", "bad scheme")
	withURI := base.WithURI("axiom://resources/a.md")

	assert.Empty(t, base.URI)
	assert.Equal(t, "axiom://resources/a.md", withURI.URI)
}

func TestWithDetailAccumulatesWithoutMutatingOriginal(t *testing.T) {
	base := New(ValidationFailed, "ingest.Stage", "bad manifest")
	first := base.WithDetail("field", "name")
	second := first.WithDetail("reason", "empty")

	assert.Empty(t, base.Details)
	assert.Len(t, first.Details, 1)
	assert.Len(t, second.Details, 2)
	assert.Equal(t, "name", second.Details["field"])
	assert.Equal(t, "empty", second.Details["reason"])
}

func TestWithMethodsOnNilReceiverReturnNil(t *testing.T) {
	var e *Error
	assert.Nil(t, e.WithURI("x"))
	assert.Nil(t, e.WithTraceID("x"))
	assert.Nil(t, e.WithDetail("k", "v"))
}

func TestCodeOfExtractsWrappedCode(t *testing.T) {
	err := Wrap(Conflict, "store.Commit", errors.New("duplicate key"))
	assert.Equal(t, Conflict, CodeOf(err))
}

func TestCodeOfDefaultsToInternalForPlainError(t *testing.T) {
	assert.Equal(t, Internal, CodeOf(errors.New("boom")))
}

func TestIsMatchesCodeThroughWrapping(t *testing.T) {
	inner := New(NotFound, "fs.Read", "missing")
	outer := fmtErrorfWrap(inner)

	assert.True(t, Is(outer, NotFound))
	assert.False(t, Is(outer, Conflict))
}

// fmtErrorfWrap simulates a caller wrapping an *Error with %w through an
// intermediate layer, the way store/fs callers typically do.
func fmtErrorfWrap(err error) error {
	return fmt.Errorf("context: %w", err)
}
