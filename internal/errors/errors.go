// Package errors provides typed service errors shared by the routing engine
// and the HTTP layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// ErrorCode identifies the kind of a ServiceError.
type ErrorCode string

const (
	CodeAuthentication    ErrorCode = "AUTHENTICATION"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeValidation        ErrorCode = "VALIDATION"
	CodeTransientRegistry ErrorCode = "TRANSIENT_REGISTRY"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeUpstream          ErrorCode = "UPSTREAM"
	CodeInternal          ErrorCode = "INTERNAL"
)

// ServiceError is an error carrying enough information for the HTTP layer to
// build an OCPI error envelope.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	OcpiStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code ErrorCode, message string, httpStatus, ocpiStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		OcpiStatus: ocpiStatus,
		Err:        err,
	}
}

// =============================================================================
// Constructors
// =============================================================================

// Authentication is returned for every failed caller check. The message never
// says which part of the check failed.
func Authentication() *ServiceError {
	return newError(CodeAuthentication, "Unauthorized", http.StatusUnauthorized, ocpi.StatusClientInvalidParameters, nil)
}

// NotFound reports a missing record (endpoint, proxy resource, platform).
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, message, http.StatusNotFound, ocpi.StatusClientInvalidParameters, nil)
}

// UnknownReceiver reports a role known neither locally nor on the network.
func UnknownReceiver(role ocpi.BasicRole) *ServiceError {
	return newError(CodeNotFound, "Receiver not known locally or on the network", http.StatusNotFound, ocpi.StatusHubUnknownReceiver, nil).
		WithDetails("receiver", role.String())
}

func Validation(message string) *ServiceError {
	return newError(CodeValidation, message, http.StatusBadRequest, ocpi.StatusClientInvalidParameters, nil)
}

// TransientRegistry wraps a registry lookup failure. Callers may retry.
func TransientRegistry(err error) *ServiceError {
	return newError(CodeTransientRegistry, "Registry lookup failed", http.StatusServiceUnavailable, ocpi.StatusHubGenericError, err)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests, ocpi.StatusClientGenericError, nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Conflict(message string) *ServiceError {
	return newError(CodeConflict, message, http.StatusConflict, ocpi.StatusClientInvalidParameters, nil)
}

// Upstream wraps a failed outbound call.
func Upstream(err error) *ServiceError {
	return newError(CodeUpstream, "Unable to reach receiver", http.StatusBadGateway, ocpi.StatusHubConnectionProblem, err)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, message, http.StatusInternalServerError, ocpi.StatusServerGenericError, err)
}

// =============================================================================
// Helpers
// =============================================================================

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// Is reports whether err carries a ServiceError of the given code.
func Is(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
