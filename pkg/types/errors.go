package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Domain errors for type validation
var (
	ErrEmptyContent       = errors.New("content cannot be empty")
	ErrInvalidChunkIndex  = errors.New("chunk index must be within [0, total)")
	ErrMissingFilePath    = errors.New("file path is required")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrSameLanguage       = errors.New("source and target language are the same")
	ErrInvalidConfidence  = errors.New("confidence must be between 0 and 1")
	ErrUnsupportedFormat  = errors.New("unsupported document format")
	ErrInsufficientText   = errors.New("insufficient text content extracted")
	ErrRunInProgress      = errors.New("ingestion run already in progress")
	ErrProviderNotEnabled = errors.New("provider not configured")
)

// ErrorKind classifies a failure independently of the component that produced it.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindUnsupported      ErrorKind = "unsupported"
	KindRateLimited      ErrorKind = "rate_limited"
	KindQuotaExceeded    ErrorKind = "quota_exceeded"
	KindTransientNetwork ErrorKind = "transient_network"
	KindServerError      ErrorKind = "server_error"
	KindClientError      ErrorKind = "client_error"
	KindTimeout          ErrorKind = "timeout"
	KindLowConfidence    ErrorKind = "low_confidence"
	KindUnknown          ErrorKind = "unknown"
)

// Retryable reports whether failures of this kind may succeed on a later attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransientNetwork, KindServerError:
		return true
	default:
		return false
	}
}

// Error codes shared by the provider adapters. HTTP statuses map onto the
// first group; the second group is produced by local validation.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeBadGateway          = "BAD_GATEWAY"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout      = "GATEWAY_TIMEOUT"
	CodeServerError         = "SERVER_ERROR"
	CodeUnknown             = "UNKNOWN"

	CodeEmptyText           = "EMPTY_TEXT"
	CodeTextTooLong         = "TEXT_TOO_LONG"
	CodeUnsupportedLanguage = "UNSUPPORTED_LANGUAGE"
	CodeSameLanguage        = "SAME_LANGUAGE"
	CodeLowConfidence       = "LOW_CONFIDENCE"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeNetworkError        = "NETWORK_ERROR"
	CodeTimeout             = "TIMEOUT"
	CodeInvalidChunk        = "INVALID_CHUNK"
)

// Error is the concrete error type returned by every pipeline stage.
type Error struct {
	Kind       ErrorKind
	Code       string
	Message    string
	StatusCode int           // provider HTTP status, 0 when not applicable
	RetryAfter time.Duration // provider-advertised delay, 0 when absent
	Err        error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WrapError creates an Error that wraps cause.
func WrapError(kind ErrorKind, code string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Code: code, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s, status %d): %s", e.Kind, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error kind allows another attempt.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// KindOf returns the kind of err. Context cancellation and deadline errors are
// reported as timeouts.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// CodeOf returns the error code of err or CodeUnknown.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	if KindOf(err) == KindTimeout {
		return CodeTimeout
	}
	return CodeUnknown
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// RetryAfterOf returns the provider-advertised retry delay carried by err.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// TimeoutError converts a context error into a timeout Error.
func TimeoutError(err error) *Error {
	return WrapError(KindTimeout, CodeTimeout, err)
}
