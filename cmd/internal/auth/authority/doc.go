// Package authority implements Quill's token authority: issuance, validation,
// rotation and revocation of refresh-token backed sessions.
//
// Access tokens are short-lived and stateless (HS256 JWT or PASETO
// v4.public). Refresh tokens are signed HS256 JWTs that carry the owning
// user id and token family; the server stores only an adaptive hash of
// each one, so lookups first narrow by user id (read from the unverified
// payload) and then pay for hash comparisons against that user's active
// records only.
//
// Every refresh credential moves Issued -> Active -> {Rotated, Revoked,
// Expired}. Rotation keeps the family; family revocation ends every record
// that shares it. Revocation is monotonic.
//
// Callers see exactly two failure classes for credentials:
// ErrCredentialInvalid (terminal, re-login) and ErrAuthorityUnavailable
// (transient, retry with backoff). The precise reason is only logged and
// reported to the Observer.
package authority
