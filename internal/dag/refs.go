package dag

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocid "github.com/ipfs/go-cid"
)

// Ref is a named, timestamped pointer to a block.
type Ref struct {
	Hash      gocid.Cid
	Timestamp time.Time
}

// RefBackend stores mutable named refs. GetRef returns ErrNotFound for
// names that were never set.
type RefBackend interface {
	SetRef(name string, ref Ref) error
	GetRef(name string) (Ref, error)
}

// refRecord is the on-disk shape of a Ref. The CID is kept as base32 text so
// ref files stay readable with cat.
type refRecord struct {
	CID       string    `json:"cid"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeRef serializes a ref the way every backend stores it.
func EncodeRef(ref Ref) ([]byte, error) {
	return json.Marshal(refRecord{CID: CIDToFilename(ref.Hash), Timestamp: ref.Timestamp.UTC()})
}

// DecodeRef reverses EncodeRef.
func DecodeRef(data []byte) (Ref, error) {
	var rec refRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Ref{}, fmt.Errorf("parse ref: %w", err)
	}
	c, err := CIDFromFilename(strings.TrimSpace(rec.CID))
	if err != nil {
		return Ref{}, err
	}
	return Ref{Hash: c, Timestamp: rec.Timestamp}, nil
}

// RefStore manages name -> Ref mappings as files.
// Filenames use URL-safe encoding: colons become double underscores.
type RefStore struct {
	dir string
}

// NewRefStore creates a RefStore at the given directory.
func NewRefStore(dir string) (*RefStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create refs dir: %w", err)
	}
	return &RefStore{dir: dir}, nil
}

func refFilename(name string) string {
	return strings.ReplaceAll(name, ":", "__")
}

// SetRef atomically replaces the ref stored under name.
func (r *RefStore) SetRef(name string, ref Ref) error {
	data, err := EncodeRef(ref)
	if err != nil {
		return err
	}
	return SafeWrite(filepath.Join(r.dir, refFilename(name)), data, 0644, SyncDir())
}

// GetRef resolves a ref by name.
func (r *RefStore) GetRef(name string) (Ref, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, refFilename(name)))
	if errors.Is(err, os.ErrNotExist) {
		return Ref{}, fmt.Errorf("ref %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Ref{}, fmt.Errorf("read ref %s: %w", name, err)
	}
	return DecodeRef(data)
}
