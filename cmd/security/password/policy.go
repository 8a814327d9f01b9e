package password

import "unicode/utf8"

// Validate checks a user-chosen password against the length policy.
// Runes are counted, not bytes.
func (p Policy) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < p.MinLength {
		return ErrPasswordTooShort
	}
	if n > p.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}
