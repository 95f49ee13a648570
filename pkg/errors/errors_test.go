package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("verify: %w", appErrors.ErrIncorrectAnswer)

	assert.ErrorIs(t, wrapped, appErrors.ErrIncorrectAnswer)
	assert.NotErrorIs(t, wrapped, appErrors.ErrTooManyAttempts)
}

func TestAppError_WrapKeepsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: timeout")
	err := appErrors.ErrUpstreamUnavailable(cause)

	appErr, ok := appErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, appErrors.CodeUpstreamUnavailable, appErr.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp: timeout")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, appErrors.CodeInvalidToken, appErrors.CodeOf(appErrors.ErrInvalidToken))
	assert.Equal(t, appErrors.CodeInternal, appErrors.CodeOf(stderrors.New("boom")))
}

func TestCode_HTTPStatus(t *testing.T) {
	cases := map[appErrors.Code]int{
		appErrors.CodeInvalidCaptcha:      http.StatusBadRequest,
		appErrors.CodeCSRFMismatch:        http.StatusBadRequest,
		appErrors.CodeUnsupportedFileType: http.StatusBadRequest,
		appErrors.CodeUpstreamUnavailable: http.StatusServiceUnavailable,
		appErrors.CodeCaptchaRequired:     http.StatusTooManyRequests,
		appErrors.CodeRateLimited:         http.StatusTooManyRequests,
		appErrors.CodeUnauthenticated:     http.StatusUnauthorized,
		appErrors.CodeNotFound:            http.StatusNotFound,
		appErrors.CodePayloadTooLarge:     http.StatusRequestEntityTooLarge,
		appErrors.CodeInternal:            http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), string(code))
	}
}
