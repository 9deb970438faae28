package reconcile

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrOrderNotFound    = errors.New("order referenced by notification not found")
	ErrAlreadyPaid      = errors.New("order is already paid")
)
