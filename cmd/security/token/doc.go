// Package token holds the low-level primitives shared by the session
// authority and the HTTP layer.
//
// It provides:
//   - SessionContext, a keyed BLAKE3 derivation of an opaque session id from
//     (user id, client ip, user agent, time bucket). The id is embedded in
//     access tokens so that a token can be bound to a device without carrying
//     the ip or user agent itself.
//   - Truncation helpers for best-effort client fingerprints.
//   - Secret loading from the environment with a minimum size policy.
//   - HMAC helpers and random identifiers.
package token
