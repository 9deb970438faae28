package lifecycle

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTooManyRetries    = errors.New("transition retries exhausted")
)
