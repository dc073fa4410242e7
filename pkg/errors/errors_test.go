package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	assert.Equal(t, "INVALID_INPUT: missing sdp", InvalidInput("missing sdp").Error())

	cause := errors.New("write: broken pipe")
	err := Wrap(cause, CodeUnavailable, "target peer unreachable")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "SERVICE_UNAVAILABLE: target peer unreachable: write: broken pipe", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[*AppError]int{
		InvalidInput("bad"):          http.StatusBadRequest,
		NotFound("target peer"):      http.StatusNotFound,
		Unauthorized("no token"):     http.StatusUnauthorized,
		Forbidden("sender mismatch"): http.StatusForbidden,
		RateLimited():                http.StatusTooManyRequests,
		TooLarge(1024):               http.StatusRequestEntityTooLarge,
		Unavailable("later"):         http.StatusServiceUnavailable,
		New("TEAPOT", "unknown"):     http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, err.HTTPStatus(), string(err.Code))
	}
	assert.Equal(t, "target peer not found", NotFound("target peer").Message)
	assert.Equal(t, "message exceeds 1024 bytes", TooLarge(1024).Message)
}

func TestWithDetails(t *testing.T) {
	err := Forbidden("sender mismatch").With("sender_id", "mallory").With("attempt", 2)
	assert.Equal(t, map[string]interface{}{"sender_id": "mallory", "attempt": 2}, err.Details)
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	appErr := Forbidden("sender mismatch")
	assert.Same(t, appErr, From(fmt.Errorf("route: %w", appErr)))
	assert.Same(t, appErr, As(fmt.Errorf("route: %w", appErr)))

	plain := errors.New("redis: nil")
	resolved := From(plain)
	require.NotNil(t, resolved)
	assert.Equal(t, CodeInternal, resolved.Code)
	assert.Equal(t, "internal error", resolved.Message)
	assert.ErrorIs(t, resolved, plain)
	assert.Nil(t, As(plain))
}
