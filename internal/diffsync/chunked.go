package diffsync

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/perspective"
)

const (
	// DefaultChunkSize bounds the changes stored in one committed diff entry.
	DefaultChunkSize = 10000

	// SnapshotChunkSize bounds the changes stored in one snapshot chunk.
	SnapshotChunkSize = 1000
)

// ChunkedDiffs splits a large diff into size-bounded pieces. There is always
// at least one chunk. A batch is never split, so a chunk only exceeds the
// maximum when a single oversized batch started it.
type ChunkedDiffs struct {
	max    int
	chunks []perspective.PerspectiveDiff
}

func NewChunkedDiffs(max int) *ChunkedDiffs {
	return &ChunkedDiffs{
		max:    max,
		chunks: []perspective.PerspectiveDiff{{}},
	}
}

func (c *ChunkedDiffs) last() *perspective.PerspectiveDiff {
	return &c.chunks[len(c.chunks)-1]
}

func (c *ChunkedDiffs) fits(n int) bool {
	return c.last().TotalDiffNumber()+n <= c.max
}

func (c *ChunkedDiffs) AddAdditions(links []perspective.LinkExpression) {
	if c.fits(len(links)) {
		c.last().Additions = append(c.last().Additions, links...)
		return
	}
	c.chunks = append(c.chunks, perspective.PerspectiveDiff{
		Additions: append([]perspective.LinkExpression(nil), links...),
	})
}

func (c *ChunkedDiffs) AddRemovals(links []perspective.LinkExpression) {
	if c.fits(len(links)) {
		c.last().Removals = append(c.last().Removals, links...)
		return
	}
	c.chunks = append(c.chunks, perspective.PerspectiveDiff{
		Removals: append([]perspective.LinkExpression(nil), links...),
	})
}

// Chunks returns the chunks in order.
func (c *ChunkedDiffs) Chunks() []perspective.PerspectiveDiff {
	return c.chunks
}

// Len returns the number of chunks.
func (c *ChunkedDiffs) Len() int {
	return len(c.chunks)
}

// IntoEntries stores every chunk and returns their hashes in chunk order.
func (c *ChunkedDiffs) IntoEntries(r Retriever) ([]gocid.Cid, error) {
	hashes := make([]gocid.Cid, 0, len(c.chunks))
	for i, chunk := range c.chunks {
		h, err := r.CreateEntry(chunk)
		if err != nil {
			return nil, fmt.Errorf("store chunk %d: %w", i, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// ChunkedDiffsFromEntries loads chunks in the given order.
func ChunkedDiffsFromEntries(r Retriever, hashes []gocid.Cid) (*ChunkedDiffs, error) {
	c := &ChunkedDiffs{max: SnapshotChunkSize}
	for _, h := range hashes {
		var chunk perspective.PerspectiveDiff
		if err := r.Get(h, &chunk); err != nil {
			return nil, fmt.Errorf("load chunk: %w", err)
		}
		c.chunks = append(c.chunks, chunk)
	}
	if len(c.chunks) == 0 {
		c.chunks = []perspective.PerspectiveDiff{{}}
	}
	return c, nil
}

// AggregatedDiff folds all chunks into one diff, additions then removals per
// chunk, in chunk order.
func (c *ChunkedDiffs) AggregatedDiff() perspective.PerspectiveDiff {
	var out perspective.PerspectiveDiff
	for _, chunk := range c.chunks {
		out.Append(chunk)
	}
	return out
}

// splitDiff chunks a commit payload, feeding additions then removals in
// batches of at most max so every chunk respects the bound.
func splitDiff(diff perspective.PerspectiveDiff, max int) *ChunkedDiffs {
	c := NewChunkedDiffs(max)
	for _, batch := range batches(diff.Additions, max) {
		c.AddAdditions(batch)
	}
	for _, batch := range batches(diff.Removals, max) {
		c.AddRemovals(batch)
	}
	return c
}

func batches(links []perspective.LinkExpression, size int) [][]perspective.LinkExpression {
	if size <= 0 {
		size = len(links)
	}
	var out [][]perspective.LinkExpression
	for len(links) > 0 {
		n := min(size, len(links))
		out = append(out, links[:n])
		links = links[n:]
	}
	return out
}

// loadDiff returns the full content of a revision node, aggregating chunks
// when the node was committed in pieces.
func loadDiff(r Retriever, ref perspective.EntryReference) (perspective.PerspectiveDiff, error) {
	if len(ref.Chunks) > 0 {
		chunked, err := ChunkedDiffsFromEntries(r, ref.Chunks)
		if err != nil {
			return perspective.PerspectiveDiff{}, err
		}
		return chunked.AggregatedDiff(), nil
	}
	var diff perspective.PerspectiveDiff
	if err := r.Get(ref.Diff, &diff); err != nil {
		return perspective.PerspectiveDiff{}, fmt.Errorf("load diff: %w", err)
	}
	return diff, nil
}

// loadSnapshotDiff returns the aggregate content of a snapshot.
func loadSnapshotDiff(r Retriever, hash gocid.Cid) (perspective.Snapshot, perspective.PerspectiveDiff, error) {
	var snap perspective.Snapshot
	if err := r.Get(hash, &snap); err != nil {
		return snap, perspective.PerspectiveDiff{}, fmt.Errorf("load snapshot: %w", err)
	}
	chunked, err := ChunkedDiffsFromEntries(r, snap.DiffChunks)
	if err != nil {
		return snap, perspective.PerspectiveDiff{}, err
	}
	return snap, chunked.AggregatedDiff(), nil
}
