package rpcserver

import (
	"github.com/btccom/btccustody/wallet"
	"github.com/pkg/errors"
	"net/http"
)

// ErrorCode is the machine readable kind of an API error.
type ErrorCode string

const (
	BadRequest           ErrorCode = "BAD_REQUEST"
	Unauthorized         ErrorCode = "UNAUTHORIZED"
	NotFound             ErrorCode = "NOT_FOUND"
	InsufficientBalance  ErrorCode = "INSUFFICIENT_BALANCE"
	UpstreamFailure      ErrorCode = "UPSTREAM_FAILURE"
	InternalServiceError ErrorCode = "INTERNAL_SERVICE_ERROR"
)

func (c ErrorCode) String() string {
	return string(c)
}

// Error is an error together with the HTTP status
// and code it is reported with.
type Error struct {
	StatusCode int
	ErrorCode  ErrorCode
	Err        error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

// NewErrorWithMsg creates an Error from a message.
func NewErrorWithMsg(statusCode int, errorCode ErrorCode, msg string) *Error {
	return &Error{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Err:        errors.New(msg),
	}
}

// NewUnauthorizedError reports a failed authentication.
func NewUnauthorizedError(msg string) *Error {
	return NewErrorWithMsg(http.StatusUnauthorized, Unauthorized, msg)
}

// NewInternalServiceError reports an unexpected failure.
func NewInternalServiceError(err error) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		ErrorCode:  InternalServiceError,
		Err:        err,
	}
}

// errorFromDomain picks the status of a service error by its kind.
func errorFromDomain(err error) *Error {
	var status int
	var code ErrorCode

	switch {
	case errors.Is(err, wallet.ErrInvalidIdentity),
		errors.Is(err, wallet.ErrDecodeFailure),
		errors.Is(err, wallet.ErrInvalidDestination),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrBundleStage),
		errors.Is(err, wallet.ErrNetworkMismatch):
		status, code = http.StatusBadRequest, BadRequest
	case errors.Is(err, wallet.ErrWalletNotFound):
		status, code = http.StatusNotFound, NotFound
	case errors.Is(err, wallet.ErrInsufficientBalance):
		status, code = http.StatusUnprocessableEntity, InsufficientBalance
	case errors.Is(err, wallet.ErrOracleFailure),
		errors.Is(err, wallet.ErrSigningFailure):
		status, code = http.StatusBadGateway, UpstreamFailure
	default:
		return NewInternalServiceError(err)
	}

	return &Error{StatusCode: status, ErrorCode: code, Err: err}
}
