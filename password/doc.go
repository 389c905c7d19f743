// Package password is the credential verifier: it hashes plaintext passwords
// with a deliberately slow, salted one-way function and verifies plaintext
// against stored hashes.
//
// # Primitives
//
// [Bcrypt] is the default primitive (cost 12, minimum 10). [Argon2] produces
// PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Both satisfy [Hasher], so tests can inject a fast fake without lowering the
// production cost factor.
//
// # Architecture boundaries
//
// Password policy (length, character classes) is enforced by the engine, not
// here. This package never logs plaintext and never stores anything.
package password
