package token

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("token key missing")
	ErrKeyTooShort = errors.New("token key too short")
	ErrBadSigned   = errors.New("signed value invalid")
)
