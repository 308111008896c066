package diffsync

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/perspective"
)

// HistoryEntry is one revision node in a log listing.
type HistoryEntry struct {
	Hash      gocid.Cid
	Reference perspective.EntryReference
	Snapshot  bool
}

// History walks first parents from the current revision, returning up to
// limit nodes newest first. It stops early at a root.
func History(r Retriever, limit int) ([]HistoryEntry, error) {
	current, err := r.CurrentRevision()
	if err != nil || current == nil {
		return nil, err
	}

	var out []HistoryEntry
	h := current.Hash
	for len(out) < limit {
		var ref perspective.EntryReference
		if err := r.Get(h, &ref); err != nil {
			return out, fmt.Errorf("history at %s: %w", h, err)
		}
		snaps, err := r.SnapshotLinks(h)
		if err != nil {
			return out, err
		}
		out = append(out, HistoryEntry{Hash: h, Reference: ref, Snapshot: len(snaps) > 0})
		if len(ref.Parents) == 0 {
			break
		}
		h = ref.Parents[0]
	}
	return out, nil
}
