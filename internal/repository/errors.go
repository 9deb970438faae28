package repository

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrDuplicateKey  = errors.New("duplicate idempotency key")
	ErrOpenOrder     = errors.New("table already has an open order")
	ErrStaleOrder    = errors.New("order row changed underneath the update")
	ErrAlreadyPaid   = errors.New("order already paid")
	ErrTableConflict = errors.New("table number already exists")
)
