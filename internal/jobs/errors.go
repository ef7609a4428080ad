package jobs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid item transition")
)

type ErrorType int

const (
	TypeValidation ErrorType = iota
	TypeNotFound
	TypeInvalidTransition
	TypeProcessing
	TypePersistence
	TypeUnknown
)

func (t ErrorType) String() string {
	switch t {
	case TypeValidation:
		return "Validation"
	case TypeNotFound:
		return "NotFound"
	case TypeInvalidTransition:
		return "InvalidTransition"
	case TypeProcessing:
		return "Processing"
	case TypePersistence:
		return "Persistence"
	default:
		return "Unknown"
	}
}

// Error carries a client-presentable Message alongside diagnostic context.
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
	e := NewError(errorType, message)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

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
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func notFound(jobID string) *Error {
	return NewErrorWithCause(TypeNotFound, ErrJobNotFound.Error(), ErrJobNotFound).WithContext("job_id", jobID)
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Type == errorType
	}
	return false
}

// Message returns the presentable part of err: the Message when err itself
// is a typed Error, err.Error() otherwise. Wrapping text around a typed
// Error is kept.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if jobErr, ok := err.(*Error); ok {
		return jobErr.Message
	}
	return err.Error()
}

// SafeExecute runs fn and turns a panic into an Error of TypeUnknown.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(TypeUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()
	return fn()
}
