package admission

import "errors"

var (
	ErrValidation     = errors.New("invalid order request")
	ErrTableNotFound  = errors.New("table not found")
	ErrTooManyRetries = errors.New("admission retries exhausted")
	ErrRateLimited    = errors.New("rate limited")
)
