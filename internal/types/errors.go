package types

import "errors"

var ErrNotFound = errors.New("not found")

// ErrDuplicate signals a unique-constraint conflict, e.g. a second contact
// with the same phone number for one tenant.
var ErrDuplicate = errors.New("already exists")

// ErrUnknownMessage signals a webhook event referencing an external message
// id with no local record. The event is retained unprocessed; this is not
// surfaced to the gateway.
var ErrUnknownMessage = errors.New("unknown message reference")

// ValidationError is a malformed input to rendering or a failed dispatch
// precondition. It is fatal to the single operation only.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{Msg: msg}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
