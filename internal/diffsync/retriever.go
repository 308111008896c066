// Package diffsync replicates a perspective as a DAG of diffs over a shared,
// content-addressed store. Each replica appends diffs locally, reconciles its
// current revision against the shared latest revision, and merges forks
// without coordination.
package diffsync

import (
	"errors"
	"fmt"
	"time"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/dag"
)

const (
	latestRevisionRef  = "latest_revision"
	currentRevisionRef = "current_revision"

	// SnapshotLinkType tags the link from a revision node to its snapshot.
	SnapshotLinkType = "snapshot"
)

// Revision is a revision pointer value.
type Revision struct {
	Hash      gocid.Cid
	Timestamp time.Time
}

// Retriever is the storage boundary of the reconciliation engine.
//
// Get decodes the entry stored under hash into v, failing with ErrNotFound
// or ErrDecode. CreateEntry stores v canonically and returns its hash.
// CurrentRevision and LatestRevision return nil when the pointer is unset.
type Retriever interface {
	Get(hash gocid.Cid, v any) error
	CreateEntry(v any) (gocid.Cid, error)

	SnapshotLinks(hash gocid.Cid) ([]gocid.Cid, error)
	CreateSnapshotLink(from, to gocid.Cid) error

	CurrentRevision() (*Revision, error)
	UpdateCurrentRevision(hash gocid.Cid, at time.Time) error
	LatestRevision() (*Revision, error)
	UpdateLatestRevision(hash gocid.Cid, at time.Time) error
}

// StoreRetriever implements Retriever over the dag backends. Shared holds the
// latest revision every replica sees; Local holds this replica's current
// revision.
type StoreRetriever struct {
	Blocks dag.Blockstore
	Links  dag.LinkBackend
	Shared dag.RefBackend
	Local  dag.RefBackend
}

// NewStoreRetriever wires the four backends together.
func NewStoreRetriever(blocks dag.Blockstore, links dag.LinkBackend, shared, local dag.RefBackend) *StoreRetriever {
	return &StoreRetriever{Blocks: blocks, Links: links, Shared: shared, Local: local}
}

// NewRepositoryRetriever uses one repository for everything, which is the
// layout of a single replica syncing through a shared directory or database.
func NewRepositoryRetriever(repo *dag.Repository) *StoreRetriever {
	return NewStoreRetriever(repo.Blocks, repo.Links, repo.Refs, repo.Refs)
}

// NewMemoryRetriever returns a replica backed by shared memory. Replicas
// created from the same store see each other's entries, links and latest
// revision while keeping their own current revision.
func NewMemoryRetriever(shared *dag.MemoryStore) *StoreRetriever {
	return NewStoreRetriever(shared, shared, shared, dag.NewMemoryStore())
}

func (s *StoreRetriever) Get(hash gocid.Cid, v any) error {
	data, err := s.Blocks.Get(hash)
	if errors.Is(err, dag.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return err
	}
	if err := dag.DecodeStrict(data, v); err != nil {
		return fmt.Errorf("%w: %s as %T: %v", ErrDecode, hash, v, err)
	}
	return nil
}

func (s *StoreRetriever) CreateEntry(v any) (gocid.Cid, error) {
	data, err := dag.CanonicalJSON(v)
	if err != nil {
		return gocid.Undef, fmt.Errorf("encode %T: %w", v, err)
	}
	c, err := s.Blocks.Put(data)
	if err != nil {
		return gocid.Undef, fmt.Errorf("store %T: %w", v, err)
	}
	return c, nil
}

func (s *StoreRetriever) SnapshotLinks(hash gocid.Cid) ([]gocid.Cid, error) {
	return s.Links.Links(hash, SnapshotLinkType)
}

func (s *StoreRetriever) CreateSnapshotLink(from, to gocid.Cid) error {
	return s.Links.AddLink(from, to, SnapshotLinkType)
}

func getRevision(refs dag.RefBackend, name string) (*Revision, error) {
	ref, err := refs.GetRef(name)
	if errors.Is(err, dag.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return &Revision{Hash: ref.Hash, Timestamp: ref.Timestamp}, nil
}

func (s *StoreRetriever) CurrentRevision() (*Revision, error) {
	return getRevision(s.Local, currentRevisionRef)
}

func (s *StoreRetriever) UpdateCurrentRevision(hash gocid.Cid, at time.Time) error {
	return s.Local.SetRef(currentRevisionRef, dag.Ref{Hash: hash, Timestamp: at})
}

func (s *StoreRetriever) LatestRevision() (*Revision, error) {
	return getRevision(s.Shared, latestRevisionRef)
}

func (s *StoreRetriever) UpdateLatestRevision(hash gocid.Cid, at time.Time) error {
	return s.Shared.SetRef(latestRevisionRef, dag.Ref{Hash: hash, Timestamp: at})
}
