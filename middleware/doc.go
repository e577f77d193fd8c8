// Package middleware exposes an HTTP guard that admits requests carrying a
// valid hospital administrator access token.
//
// # Guards
//
//   - [RequireSession] reads the access_token cookie or an
//     "Authorization: Bearer" header, calls Engine.Introspect, and injects
//     the resulting session into the request context.
//   - [SessionFromContext] returns it to downstream handlers.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; every decision is delegated to
// Engine.Introspect.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis or the account repository.
//   - Distinguish failure causes in the response body.
package middleware
