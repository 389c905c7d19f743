package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Variant = "argon2id"

// Cost floors for new hashes and for stored hashes.
const (
	minArgonMemoryKiB uint32 = 8 * 1024
	minArgonTime      uint32 = 1
	minArgonThreads   uint8  = 1
	minArgonSaltLen          = 16
	minArgonKeyLen           = 16
)

// Ceilings applied to stored hashes so a tampered record cannot make Verify
// allocate or spin without bound.
const (
	maxArgonMemoryKiB uint32 = 1024 * 1024
	maxArgonTime      uint32 = 16
	maxArgonKeyLen           = 128
)

var b64 = base64.RawStdEncoding

// Argon2Config holds argon2id cost parameters. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns interactive-login parameters.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < minArgonMemoryKiB || c.Memory > maxArgonMemoryKiB:
		return fmt.Errorf("argon2 memory must be between %d and %d KiB", minArgonMemoryKiB, maxArgonMemoryKiB)
	case c.Time < minArgonTime || c.Time > maxArgonTime:
		return fmt.Errorf("argon2 time must be between %d and %d", minArgonTime, maxArgonTime)
	case c.Parallelism < minArgonThreads:
		return errors.New("argon2 parallelism must be >= 1")
	case c.SaltLength < minArgonSaltLen:
		return fmt.Errorf("argon2 salt length must be >= %d", minArgonSaltLen)
	case c.KeyLength < minArgonKeyLen || c.KeyLength > maxArgonKeyLen:
		return fmt.Errorf("argon2 key length must be between %d and %d", minArgonKeyLen, maxArgonKeyLen)
	}
	return nil
}

// Argon2 hashes with argon2id and stores PHC strings:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
type Argon2 struct {
	config Argon2Config
}

func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash uses the password bytes as given; no Unicode normalization.
func (a *Argon2) Hash(plaintext string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	h := phc{
		memory:  a.config.Memory,
		time:    a.config.Time,
		threads: a.config.Parallelism,
		salt:    salt,
	}
	h.key = h.derive(plaintext, a.config.KeyLength)
	return h.String(), nil
}

// Verify re-derives the key with the parameters stored in encodedHash, so
// hashes made under an older config keep verifying.
func (a *Argon2) Verify(plaintext, encodedHash string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	got := h.derive(plaintext, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (h phc) params() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, h.threads)
}

func (h phc) String() string {
	return fmt.Sprintf("$%s$v=%d$%s$%s$%s", argon2Variant, argon2.Version, h.params(), b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func (h phc) derive(plaintext string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(plaintext), h.salt, h.time, h.memory, h.threads, keyLen)
}

func parsePHC(encoded string) (phc, error) {
	var h phc

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return h, errors.New("not a PHC string")
	}
	if fields[1] != argon2Variant {
		return h, fmt.Errorf("unsupported variant %q", fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || fields[2] != fmt.Sprintf("v=%d", version) {
		return h, errors.New("bad version field")
	}
	if version != argon2.Version {
		return h, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil || fields[3] != h.params() {
		return h, errors.New("bad parameter field")
	}
	if h.memory < minArgonMemoryKiB || h.memory > maxArgonMemoryKiB {
		return h, errors.New("memory parameter out of range")
	}
	if h.time < minArgonTime || h.time > maxArgonTime {
		return h, errors.New("time parameter out of range")
	}
	if h.threads < minArgonThreads {
		return h, errors.New("parallelism parameter out of range")
	}

	var err error
	if h.salt, err = decodeB64(fields[4]); err != nil {
		return h, errors.New("bad salt encoding")
	}
	if len(h.salt) < minArgonSaltLen {
		return h, errors.New("salt too short")
	}
	if h.key, err = decodeB64(fields[5]); err != nil {
		return h, errors.New("bad key encoding")
	}
	if len(h.key) == 0 || len(h.key) > maxArgonKeyLen {
		return h, errors.New("key length out of range")
	}
	return h, nil
}

// decodeB64 accepts padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return b64.DecodeString(strings.TrimRight(s, "="))
}
