package service

// Error represents a custom error with code and message
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e Error) Unwrap() error {
	return e.Err
}

// Is matches any Error with the same code, so errors.Is(err, ErrSaturated)
// holds for wrapped variants too.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e Error) Wrap(cause error) Error {
	e.Err = cause
	return e
}

// NewError creates a new error
func NewError(code, message string) Error {
	return Error{Code: code, Message: message}
}

// Error codes
const (
	CodeBadInput         = "bad_input"
	CodeStoreUnavailable = "store_unavailable"
	CodeSaturated        = "saturated"
	CodeNotifyFailed     = "notify_failed"
	CodePublishFailed    = "publish_failed"
	CodeCircuitOpen      = "circuit_breaker_open"
)

// Custom errors
var (
	ErrBadInput         = NewError(CodeBadInput, "invalid input")
	ErrStoreUnavailable = NewError(CodeStoreUnavailable, "dedup store unavailable")
	ErrSaturated        = NewError(CodeSaturated, "worker pool saturated")
	ErrNotifyFailed     = NewError(CodeNotifyFailed, "notification failed")
	ErrPublishFailed    = NewError(CodePublishFailed, "publish failed")
)
