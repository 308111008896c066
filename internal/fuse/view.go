package fuse

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/systemshift/diffsync/internal/diffsync"
	"github.com/systemshift/diffsync/internal/perspective"
)

const maxLogEntries = 64

const noRevision = "(none)\n"

func revisionBytes(get func() (*diffsync.Revision, error)) ([]byte, error) {
	rev, err := get()
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return []byte(noRevision), nil
	}
	return []byte(rev.Hash.String() + "\n"), nil
}

func linksBytes(ctx context.Context, node *diffsync.Node) ([]byte, error) {
	p, err := node.Render(ctx)
	if errors.Is(err, diffsync.ErrNoCurrentRevision) {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if p.Links == nil {
		p.Links = []perspective.LinkExpression{}
	}
	return indentJSON(p)
}

// logEntry is the JSON shape of one log/N file.
type logEntry struct {
	Hash               string   `json:"hash"`
	Diff               string   `json:"diff"`
	Parents            []string `json:"parents"`
	DiffsSinceSnapshot int      `json:"diffs_since_snapshot"`
	Chunks             int      `json:"chunks,omitempty"`
	Snapshot           bool     `json:"snapshot"`
}

func newLogEntry(e diffsync.HistoryEntry) logEntry {
	out := logEntry{
		Hash:               e.Hash.String(),
		Diff:               e.Reference.Diff.String(),
		Parents:            []string{},
		DiffsSinceSnapshot: e.Reference.DiffsSinceSnapshot,
		Chunks:             len(e.Reference.Chunks),
		Snapshot:           e.Snapshot,
	}
	for _, p := range e.Reference.Parents {
		out.Parents = append(out.Parents, p.String())
	}
	return out
}

func indentJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
