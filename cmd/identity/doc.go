// Package identity resolves users for Quill.
//
// It links external (OAuth) identity assertions and password credentials to
// a single user record per email address and hands session issuance to the
// token authority. Users live behind the Directory interface.
package identity
