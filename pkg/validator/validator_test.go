package validator

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/charlesng35/dropwire/pkg/errors"
)

type probePayload struct {
	Code  string `json:"code" validate:"required,paircode"`
	Count int    `json:"count" validate:"min=1"`
}

func TestStructPasses(t *testing.T) {
	require.NoError(t, Struct(probePayload{Code: "ABC123", Count: 3}))
}

func TestStructReportsBadRequestWithJSONFieldNames(t *testing.T) {
	err := Struct(probePayload{Code: "ABC123", Count: 0})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	require.Contains(t, appErr.Message, "count must be at least 1")
}

func TestStructJoinsMultipleFailures(t *testing.T) {
	err := Struct(probePayload{Code: "", Count: 0})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Contains(t, appErr.Message, "code is required")
	require.Contains(t, appErr.Message, "count must be at least 1")
}

func TestPaircodeRule(t *testing.T) {
	cases := map[string]bool{
		"ABC123": true,
		"ZZZZZZ": true,
		"abc123": false,
		"ABC12":  false,
		"ABC12!": false,
	}
	for code, valid := range cases {
		err := Struct(probePayload{Code: code, Count: 1})
		if valid {
			require.NoError(t, err, "code %q", code)
		} else {
			require.Error(t, err, "code %q", code)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			require.Contains(t, appErr.Message, "pairing code")
		}
	}
}
