package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

type ErrorType int

const (
	ErrConfig ErrorType = iota
	ErrNetwork
	ErrAPI
	ErrParse
	ErrLock
	ErrHeartbeat
	ErrMetrics
	ErrUnknown
)

// Error is a classified failure of the translation cycle.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrConfig:
		return "Config"
	case ErrNetwork:
		return "Network"
	case ErrAPI:
		return "API"
	case ErrParse:
		return "Parse"
	case ErrLock:
		return "Lock"
	case ErrHeartbeat:
		return "Heartbeat"
	case ErrMetrics:
		return "Metrics"
	default:
		return "Unknown"
	}
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *Error) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

// Handle logs err with advice and reports whether it was a classified error.
func (h *DefaultErrorHandler) Handle(err error) bool {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}

	log.Error("Error Detail: %v, advice: %s", err, h.GetAdvice(svcErr))
	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err *Error) string {
	switch err.Type {
	case ErrConfig:
		return "Check the environment variables or CONFIG_FILE, FIRST_LANG, SECOND_LANG, BAZARR_HOSTNAME and BAZARR_APIKEY are required"
	case ErrNetwork:
		return "Check that Bazarr is reachable from this host and that BAZARR_HOSTNAME and BAZARR_PORT are correct"
	case ErrAPI:
		return "Check the Bazarr API key and the Bazarr logs"
	case ErrParse:
		return "Bazarr returned data in an unexpected format, check the Bazarr version"
	case ErrLock:
		return "Another cycle holds LOCK_FILE, it will be retried on the next run"
	case ErrHeartbeat:
		return "Check that HEARTBEAT_FILE is writable"
	case ErrMetrics:
		return "Check that METRICS_TEXTFILE is writable"
	default:
		return "Please review detailed error information and check relevant configuration"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	return NewErrorWithCause(errorType, message, err)
}
