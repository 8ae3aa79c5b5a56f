package quotes

import (
	"fmt"
	"net/http"

	"stockd/internal/models"
)

// ServiceError represents errors from the quote service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common service errors

func NewSymbolNotFoundError(symbol string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeSymbolNotFound,
		Message:    fmt.Sprintf("symbol '%s' not found", symbol),
		StatusCode: http.StatusNotFound,
	}
}

func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

func NewValidationError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUpstreamRateLimitError reports that the provider throttled us and no
// cached copy could stand in.
func NewUpstreamRateLimitError(err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeUpstreamRateLimit,
		Message:    "the market data provider is rate limiting requests",
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

func NewUpstreamUnavailableError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeServiceUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Err:        err,
	}
}
