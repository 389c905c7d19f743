package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/authcore/internal/clocktest"
)

var (
	accessSecret  = []byte("access-secret-access-secret-0123456789")
	refreshSecret = []byte("refresh-secret-refresh-secret-0123456789")
)

func newHSManager(t *testing.T, clock *clocktest.Clock, typ TokenType, secret []byte) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		TTL:        15 * time.Minute,
		Type:       typ,
		PrivateKey: secret,
		Issuer:     "authcore",
		Audience:   "api",
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAndParse(t *testing.T) {
	clock := clocktest.New(time.Time{})
	m := newHSManager(t, clock, TypeAccess, accessSecret)

	tok, issued, err := m.Create("user-1", "sess-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issued.ID == "" {
		t.Fatal("expected jti")
	}
	if !issued.ExpiresAt.Time.Equal(clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", issued.ExpiresAt.Time)
	}

	claims, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UID != "user-1" || claims.SID != "sess-1" || claims.Type != TypeAccess || claims.ID != issued.ID {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if got := m.Remaining(claims); got != 15*time.Minute {
		t.Fatalf("expected 15m remaining, got %v", got)
	}
}

func TestDistinctJTIPerToken(t *testing.T) {
	clock := clocktest.New(time.Time{})
	m := newHSManager(t, clock, TypeAccess, accessSecret)

	t1, c1, _ := m.Create("u", "s")
	t2, c2, _ := m.Create("u", "s")
	if c1.ID == c2.ID || t1 == t2 {
		t.Fatal("expected fresh jti and token string per issuance")
	}
}

func TestParseEnforcesExpiry(t *testing.T) {
	clock := clocktest.New(time.Time{})
	m := newHSManager(t, clock, TypeAccess, accessSecret)

	tok, _, err := m.Create("u", "s")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(15*time.Minute + time.Second)
	if _, err := m.Parse(tok); !errors.Is(err, gjwt.ErrTokenExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestParseRejectsOtherSecretAndType(t *testing.T) {
	clock := clocktest.New(time.Time{})
	access := newHSManager(t, clock, TypeAccess, accessSecret)
	refresh := newHSManager(t, clock, TypeRefresh, refreshSecret)

	rt, _, _ := refresh.Create("u", "s")
	if _, err := access.Parse(rt); err == nil {
		t.Fatal("expected refresh token to fail access verification")
	}

	// same secret, wrong type
	sameKey := newHSManager(t, clock, TypeRefresh, accessSecret)
	at, _, _ := access.Create("u", "s")
	if _, err := sameKey.Parse(at); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestParseRejectsMissingExp(t *testing.T) {
	clock := clocktest.New(time.Time{})
	m := newHSManager(t, clock, TypeAccess, accessSecret)

	claims := Claims{UID: "u", SID: "s", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		ID:       "jti",
		Issuer:   "authcore",
		Audience: gjwt.ClaimStrings{"api"},
	}}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(accessSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(tok); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestParseRejectsIssuerAudienceMismatch(t *testing.T) {
	clock := clocktest.New(time.Time{})
	m := newHSManager(t, clock, TypeAccess, accessSecret)
	other, err := NewManager(Config{TTL: time.Minute, Type: TypeAccess, PrivateKey: accessSecret, Issuer: "someone-else", Audience: "api", Now: clock.Now})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	tok, _, _ := other.Create("u", "s")
	if _, err := m.Parse(tok); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	clock := clocktest.New(time.Time{})
	m := newHSManager(t, clock, TypeAccess, accessSecret)

	tok, _, _ := m.Create("u", "s")
	parts := strings.Split(tok, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	for _, in := range []string{tampered, "", "a.b", "not-a-token"} {
		if _, err := m.Parse(in); err == nil {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := map[string]Config{
		"short secret": {TTL: time.Minute, Type: TypeAccess, PrivateKey: []byte("short")},
		"no ttl":       {Type: TypeAccess, PrivateKey: accessSecret},
		"bad type":     {TTL: time.Minute, Type: "id", PrivateKey: accessSecret},
		"bad method":   {TTL: time.Minute, Type: TypeAccess, SigningMethod: "rs256", PrivateKey: accessSecret},
		"leeway":       {TTL: time.Minute, Type: TypeAccess, PrivateKey: accessSecret, Leeway: time.Hour},
		"kid missing":  {TTL: time.Minute, Type: TypeAccess, PrivateKey: accessSecret, KeyID: "k2", VerifyKeys: map[string][]byte{"k1": accessSecret}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	clock := clocktest.New(time.Time{})
	m, err := NewManager(Config{
		TTL:           time.Minute,
		Type:          TypeAccess,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok, _, err := m.Create("u", "s")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Parse(tok); err != nil {
		t.Fatalf("parse: %v", err)
	}

	hs := newHSManager(t, clock, TypeAccess, accessSecret)
	hsTok, _, _ := hs.Create("u", "s")
	if _, err := m.Parse(hsTok); err == nil {
		t.Fatal("expected HS256 token to be rejected by Ed25519 manager")
	}
}

func TestKeyRotationWithKid(t *testing.T) {
	clock := clocktest.New(time.Time{})
	oldKey := []byte("old-key-old-key-old-key-0123456789")
	newKey := []byte("new-key-new-key-new-key-0123456789")

	oldSigner, err := NewManager(Config{TTL: time.Minute, Type: TypeAccess, PrivateKey: oldKey, KeyID: "k1", Now: clock.Now})
	if err != nil {
		t.Fatalf("old signer: %v", err)
	}
	rotated, err := NewManager(Config{
		TTL: time.Minute, Type: TypeAccess, PrivateKey: newKey, KeyID: "k2", Now: clock.Now,
		VerifyKeys: map[string][]byte{"k1": oldKey, "k2": newKey},
	})
	if err != nil {
		t.Fatalf("rotated: %v", err)
	}

	oldTok, _, _ := oldSigner.Create("u", "s")
	if _, err := rotated.Parse(oldTok); err != nil {
		t.Fatalf("expected old kid to verify during rotation: %v", err)
	}
	newTok, _, _ := rotated.Create("u", "s")
	if _, err := rotated.Parse(newTok); err != nil {
		t.Fatalf("expected new kid to verify: %v", err)
	}
}
