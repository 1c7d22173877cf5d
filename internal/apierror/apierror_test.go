package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, MapErrorToHTTPStatus(NewAPIError(ErrNotFound, "missing", nil)))
	assert.Equal(t, http.StatusConflict, MapErrorToHTTPStatus(NewAPIError(ErrConflict, "duplicate", nil)))
	assert.Equal(t, http.StatusPreconditionFailed, MapErrorToHTTPStatus(NewAPIError(ErrPreconditionFailed, "wrong state", nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, MapErrorToHTTPStatus(NewAPIError(ErrInsufficientBalance, "no funds", nil)))
	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("plain error")))
}

func TestIsCode(t *testing.T) {
	err := NewAPIError(ErrConflict, "duplicate request", "req_1")
	assert.True(t, IsCode(err, ErrConflict))
	assert.False(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrConflict))
}
