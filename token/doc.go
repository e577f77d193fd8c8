// Package token issues and rotates the session tokens handed to an
// administrator after a completed second factor, and serializes them as
// cookies.
//
// Access tokens are short lived bearer JWTs. Refresh tokens are JWTs of a
// separate kind that can only be exchanged for a new pair. With rotation
// enabled every exchange mints a refresh token with a fresh jti and expiry.
package token
