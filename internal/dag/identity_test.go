package dag

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

// Test vectors derived from the deterministic seed bytes 0x00..0x1f.
const (
	testSeedB64   = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="
	testPubkeyB64 = "A6EHv/POEL4dcN0Y50vAmWfk1jCbpQ1fHdyGZBJVMbg="
	testDID       = "did:key:z6MkehRgf7yJbgaGfYsdoAsKdBPE3dj2CYhowQdcjqSJgvVd"
)

func testIdentity(t *testing.T) *Identity {
	t.Helper()
	return &Identity{
		DID:        testDID,
		PublicKey:  testPubkeyB64,
		PrivateKey: testSeedB64,
	}
}

func TestDIDKey_KnownVector(t *testing.T) {
	pub, err := base64.StdEncoding.DecodeString(testPubkeyB64)
	if err != nil {
		t.Fatal(err)
	}
	if got := encodeDIDKey(pub); got != testDID {
		t.Errorf("encodeDIDKey = %s, want %s", got, testDID)
	}

	decoded, err := DecodeDIDKey(testDID)
	if err != nil {
		t.Fatalf("DecodeDIDKey: %v", err)
	}
	if !decoded.Equal(ed25519.PublicKey(pub)) {
		t.Errorf("DecodeDIDKey = %x, want %x", decoded, pub)
	}
}

func TestDIDKey_FreshKeyRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeDIDKey(id.DID)
	if err != nil {
		t.Fatalf("DecodeDIDKey: %v", err)
	}
	want, err := id.VerifyKey()
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Equal(want) {
		t.Error("DID does not round-trip the public key")
	}
}

func TestDecodeDIDKey_Rejects(t *testing.T) {
	for name, did := range map[string]string{
		"wrong method":  "did:web:example.com",
		"wrong prefix":  "bad:key:z123",
		"empty payload": "did:key:z",
		"bad base58":    "did:key:z0OIl",
	} {
		if _, err := DecodeDIDKey(did); err == nil {
			t.Errorf("%s: DecodeDIDKey(%q) succeeded", name, did)
		}
	}
}

func TestSigningKey_MatchesVerifyKey(t *testing.T) {
	id := testIdentity(t)

	priv, err := id.SigningKey()
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	pub, err := id.VerifyKey()
	if err != nil {
		t.Fatalf("VerifyKey: %v", err)
	}
	if !priv.Public().(ed25519.PublicKey).Equal(pub) {
		t.Error("seed does not derive the stored public key")
	}

	msg := []byte(`{"author":"did:key:z6Mk","data":{}}`)
	if !ed25519.Verify(pub, msg, ed25519.Sign(priv, msg)) {
		t.Error("signature verification failed")
	}
}

func TestLoadIdentity_GeneratesThenReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.json")

	first, err := LoadIdentity(path, nil)
	if err != nil {
		t.Fatalf("LoadIdentity generate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 0600", info.Mode().Perm())
	}

	second, err := LoadIdentity(path, nil)
	if err != nil {
		t.Fatalf("LoadIdentity reload: %v", err)
	}
	if *first != *second {
		t.Errorf("reloaded identity differs: %+v vs %+v", first, second)
	}

	pub, err := DecodeDIDKey(second.DID)
	if err != nil {
		t.Fatalf("DecodeDIDKey: %v", err)
	}
	want, _ := second.VerifyKey()
	if !pub.Equal(want) {
		t.Error("DID does not encode the stored public key")
	}
}
