package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_NilPassesThrough(t *testing.T) {
	require.NoError(t, New(StoreUnavailable, "fetch history", nil))
}

func TestKindOf(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(StoreUnavailable, "fetch history", cause)

	require.Equal(t, StoreUnavailable, KindOf(err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "fetch history: connection refused", err.Error())

	wrapped := fmt.Errorf("handle: %w", err)
	require.Equal(t, StoreUnavailable, KindOf(wrapped))

	require.Equal(t, Unexpected, KindOf(context.Canceled))
	require.Equal(t, Unexpected, KindOf(nil))
}

func TestErrorf(t *testing.T) {
	err := Errorf(Validation, "field %q is required", "message")
	require.Equal(t, Validation, KindOf(err))
	require.Equal(t, `field "message" is required`, err.Error())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "backend_failure", BackendFailure.String())
	require.Equal(t, "authentication_missing", AuthMissing.String())
	require.Equal(t, "unexpected", Kind(42).String())
}
