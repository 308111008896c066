package dag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// ErrNotFound is returned by every backend when a block, ref or link is absent.
var ErrNotFound = errors.New("not found")

// Blockstore holds immutable, content-addressed blocks.
// Put must be idempotent: storing identical bytes twice yields the same CID.
type Blockstore interface {
	Put(data []byte) (gocid.Cid, error)
	Get(c gocid.Cid) ([]byte, error)
	Has(c gocid.Cid) (bool, error)
}

// ComputeCID computes a CIDv1 (raw codec, SHA2-256) for the given data.
func ComputeCID(data []byte) (gocid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return gocid.NewCidV1(gocid.Raw, mh), nil
}

// CIDToFilename returns the base32lower encoding of a CID for use as a filename.
func CIDToFilename(c gocid.Cid) string {
	encoded, _ := multibase.Encode(multibase.Base32, c.Bytes())
	return encoded
}

// CIDFromFilename reverses CIDToFilename.
func CIDFromFilename(name string) (gocid.Cid, error) {
	_, raw, err := multibase.Decode(name)
	if err != nil {
		return gocid.Undef, fmt.Errorf("decode cid %q: %w", name, err)
	}
	return gocid.Cast(raw)
}

// ObjectStore keeps blocks as one file per CID under a directory.
type ObjectStore struct {
	dir string
}

// NewObjectStore creates an ObjectStore at the given directory.
func NewObjectStore(dir string) (*ObjectStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &ObjectStore{dir: dir}, nil
}

func (s *ObjectStore) path(c gocid.Cid) string {
	return filepath.Join(s.dir, CIDToFilename(c))
}

// Put writes data to the object store, returning the CID.
// If the object already exists, this is a no-op.
func (s *ObjectStore) Put(data []byte) (gocid.Cid, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return gocid.Undef, err
	}
	path := s.path(c)
	if _, err := os.Stat(path); err == nil {
		return c, nil
	}
	if err := SafeWrite(path, data, 0644); err != nil {
		return gocid.Undef, fmt.Errorf("write object: %w", err)
	}
	return c, nil
}

// Get reads an object by CID.
func (s *ObjectStore) Get(c gocid.Cid) ([]byte, error) {
	data, err := os.ReadFile(s.path(c))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", c, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", c, err)
	}
	return data, nil
}

// Has checks if an object exists.
func (s *ObjectStore) Has(c gocid.Cid) (bool, error) {
	_, err := os.Stat(s.path(c))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", c, err)
	}
	return true, nil
}
