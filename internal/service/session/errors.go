package session

import "errors"

var (
	ErrVenueNotFound     = errors.New("venue not found")
	ErrTableNotFound     = errors.New("table not found")
	ErrTableExists       = errors.New("table number already exists")
	ErrSecretUnavailable = errors.New("no signing secret configured for venue")
	ErrTokenInvalid      = errors.New("invalid or expired token")
	ErrTokenRevoked      = errors.New("token version superseded by a newer QR")
)
