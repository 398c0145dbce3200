package validate

import (
	"errors"
	"fmt"
)

// Error is a user-correctable validation failure. Message is safe to show
// verbatim to whoever submitted the data.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf builds an Error for field.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err carries a validation Error.
func IsUserError(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}
