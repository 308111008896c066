package kubo

import (
	"errors"
	"fmt"
	"path"
	"strings"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/dag"
)

// DefaultRoot is the MFS directory that holds refs and links.
const DefaultRoot = "/diffsync"

// Store keeps blocks in the daemon's blockstore and refs and links under an
// MFS root. It implements dag.Blockstore, dag.RefBackend and
// dag.LinkBackend, so several peers pointed at the same daemon share one
// history.
type Store struct {
	client *Client
	root   string
}

// NewStore creates a store rooted at the given MFS directory.
func NewStore(client *Client, root string) *Store {
	if root == "" {
		root = DefaultRoot
	}
	return &Store{client: client, root: path.Clean("/" + root)}
}

func notFound(what string, err error) error {
	if errors.Is(err, errMissing) {
		return fmt.Errorf("%s: %w", what, dag.ErrNotFound)
	}
	return err
}

// Put stores data as a raw block. The daemon's CID must match the locally
// computed one so that hashes agree with every other backend.
func (s *Store) Put(data []byte) (gocid.Cid, error) {
	want, err := dag.ComputeCID(data)
	if err != nil {
		return gocid.Undef, err
	}
	key, err := s.client.BlockPut(data)
	if err != nil {
		return gocid.Undef, err
	}
	got, err := gocid.Decode(key)
	if err != nil {
		return gocid.Undef, fmt.Errorf("ipfs block/put: bad cid %q: %w", key, err)
	}
	if !got.Equals(want) {
		return gocid.Undef, fmt.Errorf("ipfs block/put: daemon returned %s, expected %s", got, want)
	}
	return want, nil
}

func (s *Store) Get(c gocid.Cid) ([]byte, error) {
	data, err := s.client.BlockGet(c.String())
	if err != nil {
		return nil, notFound("object "+c.String(), err)
	}
	return data, nil
}

func (s *Store) Has(c gocid.Cid) (bool, error) {
	return s.client.BlockStat(c.String())
}

func (s *Store) refPath(name string) string {
	return path.Join(s.root, "refs", strings.ReplaceAll(name, ":", "__"))
}

func (s *Store) SetRef(name string, ref dag.Ref) error {
	data, err := dag.EncodeRef(ref)
	if err != nil {
		return err
	}
	return s.client.FilesWrite(s.refPath(name), data)
}

func (s *Store) GetRef(name string) (dag.Ref, error) {
	data, err := s.client.FilesRead(s.refPath(name))
	if err != nil {
		return dag.Ref{}, notFound("ref "+name, err)
	}
	return dag.DecodeRef(data)
}

// Each link is an empty MFS file at <root>/links/<source>/<type>/<target>,
// which makes AddLink idempotent and safe for concurrent writers.
func (s *Store) linkDir(source gocid.Cid, typ string) string {
	return path.Join(s.root, "links", dag.CIDToFilename(source), typ)
}

func (s *Store) AddLink(source, target gocid.Cid, typ string) error {
	return s.client.FilesWrite(path.Join(s.linkDir(source, typ), dag.CIDToFilename(target)), []byte{})
}

func (s *Store) Links(source gocid.Cid, typ string) ([]gocid.Cid, error) {
	names, err := s.client.FilesList(s.linkDir(source, typ))
	if errors.Is(err, errMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]gocid.Cid, 0, len(names))
	for _, name := range names {
		c, err := dag.CIDFromFilename(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
