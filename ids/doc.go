// Package ids defines the branded identifier types shared by the session,
// token, and orchestration layers.
//
// Each identifier kind is a distinct named string type so a session ID can
// never be passed where a user ID is expected. Constructors validate input;
// a zero value is always invalid.
package ids
