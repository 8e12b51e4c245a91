package associations

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

type ErrorCode string

const (
	CodeEntityNotFound             ErrorCode = "EntityNotFound"
	CodeAssociationNotFound        ErrorCode = "AssociationNotFound"
	CodeUnsupportedAssociationType ErrorCode = "UnsupportedAssociationType"
	CodeSourceEntityUnresolved     ErrorCode = "SourceEntityUnresolved"
	CodeQueryFailed                ErrorCode = "QueryFailed"
	CodeInvalidArgument            ErrorCode = "InvalidArgument"
)

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrEntityNotFound             = &Error{Code: CodeEntityNotFound}
	ErrAssociationNotFound        = &Error{Code: CodeAssociationNotFound}
	ErrUnsupportedAssociationType = &Error{Code: CodeUnsupportedAssociationType}
	ErrSourceEntityUnresolved     = &Error{Code: CodeSourceEntityUnresolved}
	ErrQueryFailed                = &Error{Code: CodeQueryFailed}
	ErrInvalidArgument            = &Error{Code: CodeInvalidArgument}
)

// Error is a typed failure of an association operation.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) StatusCode() int {
	switch e.Code {
	case CodeEntityNotFound, CodeAssociationNotFound:
		return http.StatusNotFound
	case CodeUnsupportedAssociationType, CodeSourceEntityUnresolved:
		return http.StatusUnprocessableEntity
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTPError hides the cause of server side failures from the response.
func (e *Error) ToHTTPError() *httperror.HTTPError {
	status := e.StatusCode()
	message := e.Message
	if status >= http.StatusInternalServerError {
		message = "failed to query associations"
	}
	return httperror.NewHTTPError(status, message).AddMetaValue("code", string(e.Code))
}

// AsError returns the typed failure in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
