package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Sane defaults are listed below. For routes that need custom error messages,
// a request error can be generated and the router returns the exact message
// inside the request error msg.
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

var (
	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}
	ErrUnauthorized  = &RequestError{Err: errors.New("unauthorized"), StatusCode: 401}

	ErrUnknownOperation    = &RequestError{Err: errors.New("unknown operation"), StatusCode: 404}
	ErrTooManyRequests     = &RequestError{Err: errors.New("too many requests"), StatusCode: 429}
	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
)

// ErrorKind tags every failure the dispatch pipeline can produce. Kinds are
// stable strings: they end up in error responses and metric labels.
type ErrorKind string

const (
	KindDecode           ErrorKind = "decode"
	KindSchemaValidation ErrorKind = "schema_validation"
	KindShapeMismatch    ErrorKind = "shape_mismatch"
	KindDtypeMismatch    ErrorKind = "dtype_mismatch"
	KindColumnType       ErrorKind = "column_type_mismatch"
	KindMissingField     ErrorKind = "missing_field"
	KindImageDecode      ErrorKind = "image_decode"
	KindEncode           ErrorKind = "encode"
	KindCast             ErrorKind = "cast"
	KindHandler          ErrorKind = "handler"
	KindRunnerCall       ErrorKind = "runner_call"
	KindStreamAborted    ErrorKind = "stream_aborted"
)

// ContractError carries a stable kind plus human-readable detail. Exactly one
// of these is translated into an error response per failed request.
type ContractError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

func NewContractError(kind ErrorKind, format string, args ...any) *ContractError {
	return &ContractError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func WrapContractError(kind ErrorKind, err error, format string, args ...any) *ContractError {
	return &ContractError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// StatusFor maps an error kind to the HTTP status of its error response.
// Input-side contract violations are the client's fault, everything past the
// handler boundary is ours.
func StatusFor(kind ErrorKind) int {
	switch kind {
	case KindDecode, KindSchemaValidation, KindShapeMismatch, KindDtypeMismatch,
		KindColumnType, KindMissingField, KindImageDecode:
		return 400
	default:
		return 500
	}
}

// KindOf extracts the error kind from an error chain, defaulting to the
// handler kind for untagged errors.
func KindOf(err error) ErrorKind {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindHandler
}
