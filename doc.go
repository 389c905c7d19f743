// Package authcore is the authentication session/token core: it registers
// and logs in users, issues and rotates access/refresh token pairs, revokes
// them on logout, and authenticates bearer tokens.
//
// Engine composes the subpackages:
//
//	password  credential hashing and verification
//	lockout   failed-attempt guard
//	token     token issue / verify / rotate / blacklist
//	session   session lifecycle and per-user cap
//	kv        key-value store adapter (Redis or in-memory)
//
// User records are owned by the caller through [UserStore]. Build an Engine
// with [New] and the Builder's With* methods. Engine methods are safe for
// concurrent use.
//
// # Errors
//
// Every failure returned by Engine is an [*Error] carrying a [Kind]. Compare
// with errors.Is against the Err* values, which match by kind. Storage and
// token-generation failures are logged and reported publicly as
// SERVER_ERROR via [Kind.Public].
package authcore
