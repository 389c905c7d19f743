// Package httpapi exposes the engine's register, login, logout and refresh
// operations as JSON endpoints on a net/http ServeMux.
//
// Successful calls return
//
//	{"user": {...}, "sessionId": "...", "accessToken": "...", "refreshToken": "...", "expiresAt": "..."}
//
// and failures return {"type": "...", "message": "..."} with a status
// derived from the error kind. Rate-limited responses carry Retry-After.
package httpapi
