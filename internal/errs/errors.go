package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

type ErrorType int

const (
	ErrDOM ErrorType = iota
	ErrChannel
	ErrBackend
	ErrParse
	ErrValidation
	ErrConfig
	ErrNetwork
	ErrStorage
	ErrUnknown
)

// CaptionError is the structured error passed between pipeline components.
type CaptionError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *CaptionError {
	return &CaptionError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Wrap(err error, errorType ErrorType, message string) *CaptionError {
	return &CaptionError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *CaptionError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *CaptionError) Unwrap() error {
	return e.Cause
}

func (e *CaptionError) WithContext(key string, value any) *CaptionError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrDOM:
		return "DOM"
	case ErrChannel:
		return "Channel"
	case ErrBackend:
		return "Backend"
	case ErrParse:
		return "Parse"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	case ErrNetwork:
		return "Network"
	case ErrStorage:
		return "Storage"
	default:
		return "Unknown"
	}
}

// IsErrorType reports whether any error in err's chain is a CaptionError of errorType.
func IsErrorType(err error, errorType ErrorType) bool {
	var capErr *CaptionError
	if errors.As(err, &capErr) {
		return capErr.Type == errorType
	}
	return false
}

// Advice returns a short operator hint for the error category.
func Advice(err error) string {
	var capErr *CaptionError
	if !errors.As(err, &capErr) {
		return "Please review detailed error information"
	}
	switch capErr.Type {
	case ErrDOM:
		return "Caption container not readable; the page layout may have changed or the frame is cross-origin"
	case ErrChannel:
		return "Receiver not ready; the next poll tick will deliver newer text"
	case ErrBackend:
		return "Please check the translator API key, region and service status"
	case ErrNetwork:
		return "Please check network connectivity to the translator endpoint"
	case ErrParse:
		return "The translator returned an unexpected payload"
	case ErrValidation:
		return "Please verify the message fields and language codes"
	case ErrConfig:
		return "Please check environment variables and the .env file"
	case ErrStorage:
		return "Please check that the database path is writable"
	default:
		return "Please review detailed error information"
	}
}

// Log writes err with its advice at error level.
func Log(err error) {
	if err == nil {
		return
	}
	log.Error("Error Detail: %v | advice: %s", err, Advice(err))
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = New(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
