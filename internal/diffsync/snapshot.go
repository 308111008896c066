package diffsync

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/perspective"
)

// linkSet is an insertion-ordered set of link expressions.
type linkSet struct {
	index map[string]struct{}
	items []perspective.LinkExpression
}

func newLinkSet() *linkSet {
	return &linkSet{index: make(map[string]struct{})}
}

func (s *linkSet) add(links ...perspective.LinkExpression) {
	for _, l := range links {
		k := l.Key()
		if _, ok := s.index[k]; ok {
			continue
		}
		s.index[k] = struct{}{}
		s.items = append(s.items, l)
	}
}

// GenerateSnapshot aggregates everything reachable from start into a new
// snapshot. Nodes other than start that already have a snapshot contribute
// that snapshot and end their branch. The caller stores and links the result.
func GenerateSnapshot(r Retriever, start gocid.Cid) (perspective.Snapshot, error) {
	additions := newLinkSet()
	removals := newLinkSet()
	seen := make(map[gocid.Cid]struct{})
	var included []gocid.Cid

	include := func(h gocid.Cid) bool {
		if _, ok := seen[h]; ok {
			return false
		}
		seen[h] = struct{}{}
		included = append(included, h)
		return true
	}

	queue := []gocid.Cid{start}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := seen[h]; ok {
			continue
		}

		if !h.Equals(start) {
			snaps, err := r.SnapshotLinks(h)
			if err != nil {
				return perspective.Snapshot{}, fmt.Errorf("snapshot links of %s: %w", h, err)
			}
			if len(snaps) > 0 {
				snap, diff, err := loadSnapshotDiff(r, snaps[0])
				if err != nil {
					return perspective.Snapshot{}, err
				}
				additions.add(diff.Additions...)
				removals.add(diff.Removals...)
				include(h)
				for _, inc := range snap.IncludedDiffs {
					include(inc)
				}
				continue
			}
		}

		var ref perspective.EntryReference
		if err := r.Get(h, &ref); err != nil {
			return perspective.Snapshot{}, fmt.Errorf("load revision: %w", err)
		}
		diff, err := loadDiff(r, ref)
		if err != nil {
			return perspective.Snapshot{}, err
		}
		additions.add(diff.Additions...)
		removals.add(diff.Removals...)
		include(h)

		for _, p := range ref.Parents {
			if _, ok := seen[p]; !ok {
				queue = append(queue, p)
			}
		}
	}

	chunked := NewChunkedDiffs(SnapshotChunkSize)
	for _, batch := range batches(additions.items, SnapshotChunkSize) {
		chunked.AddAdditions(batch)
	}
	for _, batch := range batches(removals.items, SnapshotChunkSize) {
		chunked.AddRemovals(batch)
	}
	hashes, err := chunked.IntoEntries(r)
	if err != nil {
		return perspective.Snapshot{}, err
	}
	return perspective.Snapshot{DiffChunks: hashes, IncludedDiffs: included}, nil
}

// cutSnapshot generates, stores and links a snapshot for hash.
func cutSnapshot(r Retriever, hash gocid.Cid) (gocid.Cid, error) {
	snap, err := GenerateSnapshot(r, hash)
	if err != nil {
		return gocid.Undef, err
	}
	snapHash, err := r.CreateEntry(snap)
	if err != nil {
		return gocid.Undef, err
	}
	if err := r.CreateSnapshotLink(hash, snapHash); err != nil {
		return gocid.Undef, fmt.Errorf("link snapshot: %w", err)
	}
	return snapHash, nil
}
