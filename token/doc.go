// Package token issues, verifies, rotates and revokes access/refresh token
// pairs.
//
// # Store layout
//
//	refresh_token:{userId}:{jti}  JSON {"email","sid"}, TTL = refresh lifetime
//	token_blacklist               set of revoked access-token strings
//
// A refresh record's presence is the only proof that its token has not been
// consumed or revoked. Refresh deletes the record before issuing the next
// pair, and only the caller whose delete removed it may proceed, so two
// concurrent refreshes of one token never both succeed.
//
// The blacklist set's TTL is only ever raised, so it tracks the longest
// remaining lifetime among its members.
package token
