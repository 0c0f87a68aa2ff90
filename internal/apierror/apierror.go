package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrForbidden         ErrorCode = "FORBIDDEN"
	ErrBadRequest        ErrorCode = "BAD_REQUEST"
	ErrInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrNotAcceptable     ErrorCode = "NOT_ACCEPTABLE"
	ErrIntegrity         ErrorCode = "INTEGRITY"
	ErrExternal          ErrorCode = "EXTERNAL_DEPENDENCY"
	ErrInternalServer    ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	// Integrity failures are potential fraud; they get a distinct log signal.
	if code == ErrIntegrity {
		logrus.WithField("security", true).Error(message, " ", details)
	} else {
		logrus.Error(details)
	}
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err is an APIError carrying the given code.
func Is(err error, code ErrorCode) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Code == code
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrForbidden:
			return http.StatusForbidden
		case ErrBadRequest, ErrInvalidInput:
			return http.StatusBadRequest
		case ErrInsufficientFunds:
			return http.StatusPaymentRequired
		case ErrNotAcceptable:
			return http.StatusNotAcceptable
		case ErrIntegrity:
			return http.StatusBadRequest
		case ErrExternal:
			return http.StatusBadGateway
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
