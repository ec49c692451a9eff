package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Code string

const (
	CodeUnknown                  Code = "UNKNOWN"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeWriteFailed              Code = "WRITE_FAILED"
	CodeParseFailed              Code = "PARSE_FAILED"
	CodeSelfConversationRejected Code = "SELF_CONVERSATION_REJECTED"
	CodeUnauthenticated          Code = "UNAUTHENTICATED"
	CodeInvalidArgument          Code = "INVALID_ARGUMENT"
	CodePermissionDenied         Code = "PERMISSION_DENIED"
	CodeResourceExhausted        Code = "RESOURCE_EXHAUSTED"
	CodeInternal                 Code = "INTERNAL"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another *AppError with the same code and message, so sentinels
// survive being rebuilt through Wrap.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func Unauthenticated(msg string) error {
	return New(CodeUnauthenticated, msg)
}

func Forbidden(msg string) error {
	return New(CodePermissionDenied, msg)
}

func WriteFailed(msg string, cause error) error {
	return Wrap(CodeWriteFailed, msg, cause)
}

func ParseFailed(msg string, cause error) error {
	return Wrap(CodeParseFailed, msg, cause)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the status code handlers answer with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeWriteFailed:
		return http.StatusBadGateway
	case CodeParseFailed:
		return http.StatusInternalServerError
	case CodeSelfConversationRejected, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to clients. Causes are never exposed.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// ItemError is a recoverable failure attached to a single document of a batch read.
type ItemError struct {
	ID  string
	Err error
}

// ItemErrors collects per-document failures returned next to the valid items
// of a read. Callers choose between skip-and-log and abort.
type ItemErrors []ItemError

func (e ItemErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, item := range e {
		parts = append(parts, fmt.Sprintf("%s: %v", item.ID, item.Err))
	}
	return fmt.Sprintf("%d malformed documents: %s", len(e), strings.Join(parts, "; "))
}

// Append adds a failure for the document id.
func (e *ItemErrors) Append(id string, err error) {
	*e = append(*e, ItemError{ID: id, Err: err})
}

// ErrOrNil returns nil for an empty collection so callers can return it directly.
func (e ItemErrors) ErrOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// AsItemErrors extracts per-item failures from err.
func AsItemErrors(err error) (ItemErrors, bool) {
	var items ItemErrors
	if errors.As(err, &items) {
		return items, true
	}
	return nil, false
}
