// Package errx defines the typed failures the orchestration core returns.
// Every error that reaches the turn boundary is an *Error carrying a Kind,
// a user-presentable message and, for logs only, the underlying cause.
package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class.
type Kind string

// Provider failures.
const (
	RateLimited     Kind = "rate_limited"
	Timeout         Kind = "timeout"
	Unavailable     Kind = "unavailable"
	InvalidResponse Kind = "invalid_response"
	AuthFailure     Kind = "auth_failure"
)

// Tool failures.
const (
	UnknownTool         Kind = "unknown_tool"
	InvalidArguments    Kind = "invalid_arguments"
	ToolTimeout         Kind = "tool_timeout"
	ToolExecutionFailed Kind = "tool_execution_failed"
)

// Orchestration failures.
const (
	ToolBudgetExceeded Kind = "tool_budget_exceeded"
	ContextTooLarge    Kind = "context_too_large"
	InjectionSuspected Kind = "injection_suspected"
)

// Category groups kinds the way callers map them to responses.
type Category string

const (
	CategoryProvider      Category = "provider"
	CategoryTool          Category = "tool"
	CategoryOrchestration Category = "orchestration"
)

// Sentinels usable with errors.Is; they match any *Error of the same kind.
var (
	ErrRateLimited         = &Error{Kind: RateLimited}
	ErrTimeout             = &Error{Kind: Timeout}
	ErrUnavailable         = &Error{Kind: Unavailable}
	ErrInvalidResponse     = &Error{Kind: InvalidResponse}
	ErrAuthFailure         = &Error{Kind: AuthFailure}
	ErrUnknownTool         = &Error{Kind: UnknownTool}
	ErrInvalidArguments    = &Error{Kind: InvalidArguments}
	ErrToolTimeout         = &Error{Kind: ToolTimeout}
	ErrToolExecutionFailed = &Error{Kind: ToolExecutionFailed}
	ErrToolBudgetExceeded  = &Error{Kind: ToolBudgetExceeded}
	ErrContextTooLarge     = &Error{Kind: ContextTooLarge}
	ErrInjectionSuspected  = &Error{Kind: InjectionSuspected}
)

// Error is a structured, user-presentable failure.
type Error struct {
	Kind     Kind
	Op       string
	Provider string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Provider)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Category returns the taxonomy group of the error kind.
func (e *Error) Category() Category {
	return e.Kind.Category()
}

// Transient reports whether the failure may succeed on retry.
func (e *Error) Transient() bool {
	return e.Kind.Transient()
}

// PublicMessage is the text safe to show to an end user.
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Category returns the taxonomy group of the kind.
func (k Kind) Category() Category {
	switch k {
	case RateLimited, Timeout, Unavailable, InvalidResponse, AuthFailure:
		return CategoryProvider
	case UnknownTool, InvalidArguments, ToolTimeout, ToolExecutionFailed:
		return CategoryTool
	default:
		return CategoryOrchestration
	}
}

// Transient reports whether the kind is retried by the reliability layer.
func (k Kind) Transient() bool {
	switch k {
	case RateLimited, Timeout, Unavailable:
		return true
	}
	return false
}

// HTTPStatus maps the kind to a status class for the API boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case RateLimited:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Unavailable:
		return http.StatusServiceUnavailable
	case InvalidResponse, AuthFailure:
		return http.StatusBadGateway
	case ToolBudgetExceeded:
		return http.StatusUnprocessableEntity
	case ContextTooLarge:
		return http.StatusRequestEntityTooLarge
	case InjectionSuspected, InvalidArguments:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Provider creates a provider-category error attributed to a provider.
func Provider(kind Kind, provider, message string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err carries a retryable kind.
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}

// Ensure converts any error into an *Error, defaulting to kind when err is
// not already typed. A nil err yields nil.
func Ensure(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(err, kind, message)
}
