package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrInvalidHash      = errors.New("invalid credential hash")
	ErrEmptySecret      = errors.New("empty secret")
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)
