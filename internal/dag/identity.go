package dag

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/multiformats/go-multibase"
)

const (
	identityRelPath = ".config/diffsync/identity.json"
	didKeyPrefix    = "did:key:"
)

// ed25519Multicodec is the multicodec prefix for Ed25519 public keys (0xED01).
var ed25519Multicodec = []byte{0xed, 0x01}

// Identity holds an Ed25519 keypair and the derived DID. Link expressions
// are authored and signed with it.
type Identity struct {
	DID        string `json:"did"`
	PublicKey  string `json:"public_key"`  // base64-encoded 32 bytes
	PrivateKey string `json:"private_key"` // base64-encoded 32-byte seed
}

// DefaultIdentityPath returns ~/.config/diffsync/identity.json.
func DefaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, identityRelPath)
}

// LoadIdentity reads the identity file at path, generating a new one if it
// does not exist. An empty path means DefaultIdentityPath.
func LoadIdentity(path string, logger *slog.Logger) (*Identity, error) {
	if path == "" {
		path = DefaultIdentityPath()
	}
	if path == "" {
		return nil, errors.New("cannot determine home directory")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("parse identity: %w", err)
		}
		return &id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read identity: %w", err)
	}

	id, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	data, err = json.MarshalIndent(id, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := SafeWrite(path, data, 0600, CreateDirs(0755)); err != nil {
		return nil, fmt.Errorf("write identity: %w", err)
	}
	if logger != nil {
		logger.Info("generated new identity", slog.String("did", id.DID), slog.String("path", path))
	}
	return id, nil
}

// NewIdentity generates a fresh keypair without touching disk.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Identity{
		DID:        encodeDIDKey(pub),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv.Seed()),
	}, nil
}

// SigningKey expands the stored seed into a private key.
func (id *Identity) SigningKey() (ed25519.PrivateKey, error) {
	seed, err := base64.StdEncoding.DecodeString(id.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed length %d, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// VerifyKey returns the stored public key.
func (id *Identity) VerifyKey() (ed25519.PublicKey, error) {
	pub, err := base64.StdEncoding.DecodeString(id.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key length %d, want %d", len(pub), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(pub), nil
}

// encodeDIDKey encodes a raw Ed25519 public key as did:key:z... using the
// multicodec 0xED01 prefix and base58btc multibase.
func encodeDIDKey(publicKey []byte) string {
	prefixed := append(append([]byte{}, ed25519Multicodec...), publicKey...)
	encoded, _ := multibase.Encode(multibase.Base58BTC, prefixed)
	return didKeyPrefix + encoded
}

// DecodeDIDKey extracts the raw Ed25519 public key from a did:key DID.
func DecodeDIDKey(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, didKeyPrefix+"z") {
		return nil, fmt.Errorf("not a base58btc did:key: %q", did)
	}
	enc, raw, err := multibase.Decode(strings.TrimPrefix(did, didKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode did:key: %w", err)
	}
	if enc != multibase.Base58BTC {
		return nil, fmt.Errorf("did:key uses unexpected multibase %c", enc)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize || !bytes.HasPrefix(raw, ed25519Multicodec) {
		return nil, fmt.Errorf("did:key is not an ed25519 key")
	}
	return ed25519.PublicKey(raw[len(ed25519Multicodec):]), nil
}
