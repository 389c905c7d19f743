package password

import "errors"

// ErrMalformedHash is returned by primitives when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// Hasher is the injectable hashing primitive.
type Hasher interface {
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext matches encodedHash. A malformed hash
	// returns ErrMalformedHash.
	Verify(plaintext, encodedHash string) (bool, error)
}

// Verifier adapts a [Hasher] to the credential-verifier contract: verification
// failures of any kind, including malformed stored hashes, collapse to false.
type Verifier struct {
	hasher Hasher
}

// NewVerifier wraps h. A nil h uses bcrypt at the default cost.
func NewVerifier(h Hasher) *Verifier {
	if h == nil {
		h = &Bcrypt{cost: DefaultBcryptCost}
	}
	return &Verifier{hasher: h}
}

// Hash derives a storable hash for plaintext.
func (v *Verifier) Hash(plaintext string) (string, error) {
	return v.hasher.Hash(plaintext)
}

// Verify reports whether plaintext matches hashedPassword. It never panics
// and never returns an error: a corrupt hash simply fails verification.
func (v *Verifier) Verify(plaintext, hashedPassword string) bool {
	if hashedPassword == "" {
		return false
	}
	ok, err := v.hasher.Verify(plaintext, hashedPassword)
	return err == nil && ok
}
