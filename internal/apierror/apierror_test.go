package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrForbidden, http.StatusForbidden},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrInsufficientFunds, http.StatusPaymentRequired},
		{ErrNotAcceptable, http.StatusNotAcceptable},
		{ErrIntegrity, http.StatusBadRequest},
		{ErrExternal, http.StatusBadGateway},
		{ErrInternalServer, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := NewAPIError(tt.code, "boom", nil)
			assert.Equal(t, tt.want, MapErrorToHTTPStatus(err))
		})
	}
}

func TestMapErrorToHTTPStatusPlainError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("boom")))
}

func TestIs(t *testing.T) {
	err := NewAPIError(ErrInsufficientFunds, "too poor", nil)
	assert.True(t, Is(err, ErrInsufficientFunds))
	assert.False(t, Is(err, ErrConflict))
	assert.False(t, Is(errors.New("boom"), ErrConflict))
}
