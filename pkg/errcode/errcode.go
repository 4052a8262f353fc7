package errcode

import "fmt"

// Error represents a business error
type Error struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("errcode: %d, msg: %s", e.Code, e.Msg)
}

// New creates a new error with code and message
func New(code int, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap wraps an error with additional context. The result keeps the code and unwraps to err.
func (e *Error) Wrap(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{
		Code:  e.Code,
		Msg:   fmt.Sprintf("%s: %v", e.Msg, err),
		cause: err,
	}
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors carrying the same code, so errors.Is(err, ErrConvNotFound) holds for wrapped copies
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Common error codes
var (
	// Success
	ErrSuccess = New(0, "success")

	// Common errors (1xxx)
	ErrInvalidParam       = New(1001, "invalid parameter")
	ErrInternalServer     = New(1002, "internal server error")
	ErrStorageUnavailable = New(1008, "storage unavailable")

	// Message errors (4xxx)
	ErrConvNotFound          = New(4003, "conversation not found")
	ErrSendFailed            = New(4005, "message send failed")
	ErrPullFailed            = New(4006, "message pull failed")
	ErrPartialWrite          = New(4007, "message partially written")
	ErrDuplicateConversation = New(4008, "duplicate conversation for user pair")
)
