package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessageIncludesInternal(t *testing.T) {
	base := New("TEST", "something failed", http.StatusBadRequest)
	require.Equal(t, "something failed", base.Error())

	wrapped := base.WithInternal(fmt.Errorf("disk on fire"))
	require.Contains(t, wrapped.Error(), "disk on fire")
	require.Equal(t, base.Code, wrapped.Code)
}

func TestSentinelSurvivesCopies(t *testing.T) {
	withDetails := ErrQuotaExceeded.WithDetails(map[string]any{"limit": int64(1)})
	require.ErrorIs(t, withDetails, ErrQuotaExceeded)

	withInternal := ErrQuotaExceeded.WithInternal(fmt.Errorf("scan failed"))
	require.ErrorIs(t, withInternal, ErrQuotaExceeded)

	require.NotErrorIs(t, withDetails, ErrSessionFull)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	appErr := FromError(ErrInvalidCode)
	require.Equal(t, ErrInvalidCode.Code, appErr.Code)

	generic := FromError(stderrors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.Equal(t, http.StatusInternalServerError, generic.StatusCode)

	wrapped := fmt.Errorf("outer: %w", ErrUploadNotFound)
	require.Equal(t, ErrUploadNotFound.Code, FromError(wrapped).Code)
}

func TestWrapKeepsOriginal(t *testing.T) {
	cause := stderrors.New("root cause")
	wrapped := Wrap(cause, "operation failed")

	require.Equal(t, http.StatusInternalServerError, wrapped.StatusCode)
	require.ErrorIs(t, wrapped, cause)
}
