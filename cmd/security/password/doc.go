// Package password provides the credential hasher used for at-rest storage
// of refresh tokens and user passwords.
//
// Two adaptive algorithms are available behind the Hasher interface:
//   - bcrypt (default, cost 12). Inputs are pre-hashed with SHA-256 so that
//     long secrets such as signed refresh tokens fit bcrypt's 72-byte limit.
//   - Argon2id, encoded in a PHC-like string format.
//
// Both are deliberately slow. Callers must not hold a lock or an open
// transaction across Hash or Compare.
//
// Hash strings are treated as untrusted input during Compare and are
// validated accordingly.
package password
