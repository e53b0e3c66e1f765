package events

import "errors"

// Error taxonomy shared across the processing core. The queue consumer maps
// these onto ack/nack/dead-letter decisions and handlers wrap their failures
// with them.
var (
	// ErrValidation marks permanent failures: malformed IDs, unknown event
	// types, empty names. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks lookups that may recover via defaults or fallback
	// session creation.
	ErrNotFound = errors.New("not found")

	// ErrOutOfRange marks numeric range violations from the persistence
	// layer, e.g. a skill update that would drive the value negative.
	ErrOutOfRange = errors.New("value out of range")
)

// IsPermanent reports whether err should be dead-lettered rather than
// redelivered. Anything that is not explicitly permanent is treated as
// transient.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation)
}
