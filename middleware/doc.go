// Package middleware adapts authcore.Engine authentication to net/http.
//
// [Guard] reads the Authorization header, calls Engine.Authenticate
// (blacklist, signature, then session check) and stores the resulting
// Principal in the request context. [Optional] does the same but lets
// unauthenticated requests through.
//
// This package does not parse tokens or touch the store itself; every
// decision is delegated to the engine.
package middleware
