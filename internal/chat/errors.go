package chat

import "errors"

// Error taxonomy of the messaging operations. Callers match with errors.Is, the wrapped message is
// human-readable and safe to return to clients.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
)
