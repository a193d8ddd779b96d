package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKindThroughWrapping(t *testing.T) {
	base := &Error{Kind: NotFound, Op: "hubspot.GetForm", StatusCode: 404, Message: "form not found"}
	wrapped := fmt.Errorf("reconcile feed 7: %w", base)

	assert.True(t, errors.Is(wrapped, NotFound))
	assert.False(t, errors.Is(wrapped, Unauthenticated))
	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.Equal(t, 404, StatusOf(wrapped))
	assert.Equal(t, "form not found", MessageOf(wrapped))
}

func TestWrapCarriesRemotePayload(t *testing.T) {
	remote := &Error{
		Kind:       Remote,
		StatusCode: 400,
		Message:    "bad field",
		Details:    []Detail{{Message: "fieldType invalid"}},
	}
	err := Wrap(ReconcileFailed, "forms.Reconcile", remote)

	require.Equal(t, ReconcileFailed, KindOf(err))
	assert.Equal(t, 400, err.StatusCode)
	assert.Equal(t, "bad field", err.Message)
	assert.Len(t, err.Details, 1)
	assert.True(t, errors.Is(err, Remote), "inner kind stays reachable")
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("boom")))
	assert.Equal(t, 0, StatusOf(errors.New("boom")))
	assert.Equal(t, "boom", MessageOf(errors.New("boom")))
	assert.Equal(t, "", MessageOf(nil))
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: TemporarilyUnavailable, Op: "token.Acquire", Message: "refresh in progress"}
	assert.Equal(t, "token.Acquire: temporarily_unavailable: refresh in progress", err.Error())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
