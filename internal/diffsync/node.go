package diffsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocid "github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/systemshift/diffsync/internal/perspective"
)

const (
	// DefaultSnapshotInterval is the number of diffs between snapshots.
	DefaultSnapshotInterval = 100

	// DefaultActiveAgentDuration is how recently a peer must have been seen
	// to receive signals.
	DefaultActiveAgentDuration = time.Hour
)

// Broadcaster delivers a commit signal to the currently active peers.
type Broadcaster interface {
	Broadcast(ctx context.Context, sig Signal) error
}

// Options configures a Node.
type Options struct {
	// SnapshotInterval is the number of diffs after which a commit or merge
	// cuts a snapshot. Zero or less disables snapshots.
	SnapshotInterval int

	// ChunkSize is the largest diff stored as a single entry.
	ChunkSize int

	// Broadcaster receives a signal after every commit. Optional.
	Broadcaster Broadcaster

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		SnapshotInterval: DefaultSnapshotInterval,
		ChunkSize:        DefaultChunkSize,
	}
}

// Node is one replica. It serializes commit, pull and signal handling so the
// read-then-write updates of the revision pointers never interleave.
type Node struct {
	mu sync.Mutex
	r  Retriever

	snapshotInterval int
	chunkSize        int
	broadcaster      Broadcaster
	logger           *slog.Logger
	now              func() time.Time
}

// NewNode creates a replica over r.
func NewNode(r Retriever, opts Options) *Node {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Node{
		r:                r,
		snapshotInterval: opts.SnapshotInterval,
		chunkSize:        opts.ChunkSize,
		broadcaster:      opts.Broadcaster,
		logger:           opts.Logger.With(slog.String("component", "diffsync")),
		now:              opts.Now,
	}
}

// Retriever returns the storage the node operates on.
func (n *Node) Retriever() Retriever {
	return n.r
}

// CurrentRevision returns this replica's revision, or nil before the first
// commit or pull.
func (n *Node) CurrentRevision() (*Revision, error) {
	return n.r.CurrentRevision()
}

// LatestRevision returns the shared latest revision, or nil if no replica
// has committed yet.
func (n *Node) LatestRevision() (*Revision, error) {
	return n.r.LatestRevision()
}

func (n *Node) snapshotDue(since int) bool {
	return n.snapshotInterval > 0 && since >= n.snapshotInterval
}

// storeDiff stores diff as one entry, or as chunks when it exceeds the chunk
// size. It fills Diff and Chunks of ref.
func (n *Node) storeDiff(diff perspective.PerspectiveDiff, ref *perspective.EntryReference) error {
	if diff.TotalDiffNumber() <= n.chunkSize {
		h, err := n.r.CreateEntry(diff)
		if err != nil {
			return err
		}
		ref.Diff = h
		return nil
	}
	hashes, err := splitDiff(diff, n.chunkSize).IntoEntries(n.r)
	if err != nil {
		return err
	}
	ref.Diff = hashes[0]
	ref.Chunks = hashes
	return nil
}

// storeRevision writes ref, cutting a snapshot first when DiffsSinceSnapshot
// has reached the interval.
func (n *Node) storeRevision(ref perspective.EntryReference) (gocid.Cid, bool, error) {
	snapshot := n.snapshotDue(ref.DiffsSinceSnapshot)
	if snapshot {
		ref.DiffsSinceSnapshot = 0
	}
	h, err := n.r.CreateEntry(ref)
	if err != nil {
		return gocid.Undef, false, err
	}
	if snapshot {
		snapHash, err := cutSnapshot(n.r, h)
		if err != nil {
			return gocid.Undef, false, err
		}
		n.logger.Debug("snapshot cut", slog.String("revision", h.String()), slog.String("snapshot", snapHash.String()))
	}
	return h, snapshot, nil
}

func (n *Node) setBoth(h gocid.Cid, at time.Time) error {
	if err := n.r.UpdateCurrentRevision(h, at); err != nil {
		return err
	}
	return n.r.UpdateLatestRevision(h, at)
}

// traceErr records err on span and returns it.
func traceErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func spanRevision(span trace.Span, key string, rev *Revision) {
	if rev != nil {
		span.SetAttributes(attribute.String(key, rev.Hash.String()))
	}
}
