// Package perspective defines the entries exchanged between replicas: signed
// link expressions, the diffs that add or remove them, the revision nodes
// that order diffs into a DAG, and the snapshots that summarize history.
package perspective

import (
	"strings"
	"time"

	gocid "github.com/ipfs/go-cid"
)

// Triple is the payload of a link. Any part may be absent.
type Triple struct {
	Source    *string `json:"source,omitempty"`
	Predicate *string `json:"predicate,omitempty"`
	Target    *string `json:"target,omitempty"`
}

// NewTriple builds a triple; empty strings become absent fields.
func NewTriple(source, predicate, target string) Triple {
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	return Triple{Source: opt(source), Predicate: opt(predicate), Target: opt(target)}
}

// Equal reports whether both triples have the same parts present with the
// same values.
func (t Triple) Equal(o Triple) bool {
	eq := func(a, b *string) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	return eq(t.Source, o.Source) && eq(t.Predicate, o.Predicate) && eq(t.Target, o.Target)
}

// ExpressionProof carries the author's signature over the expression.
type ExpressionProof struct {
	Signature string `json:"signature"`
	Key       string `json:"key"`
}

// LinkExpression is an authored, timestamped, signed triple. Expressions are
// immutable and compared structurally.
type LinkExpression struct {
	Author    string          `json:"author"`
	Data      Triple          `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Proof     ExpressionProof `json:"proof"`
}

// Equal reports structural equality.
func (l LinkExpression) Equal(o LinkExpression) bool {
	return l.Key() == o.Key()
}

// Key returns a string that is identical for structurally equal expressions.
// It is used for set membership during replay and snapshot aggregation.
func (l LinkExpression) Key() string {
	var b strings.Builder
	writeOpt := func(s *string) {
		if s == nil {
			b.WriteString("\x00-")
		} else {
			b.WriteString("\x00+")
			b.WriteString(*s)
		}
	}
	b.WriteString(l.Author)
	writeOpt(l.Data.Source)
	writeOpt(l.Data.Predicate)
	writeOpt(l.Data.Target)
	b.WriteString("\x00")
	b.WriteString(l.Timestamp.UTC().Format(time.RFC3339Nano))
	b.WriteString("\x00")
	b.WriteString(l.Proof.Signature)
	b.WriteString("\x00")
	b.WriteString(l.Proof.Key)
	return b.String()
}

// PerspectiveDiff is one batch of link additions and removals.
type PerspectiveDiff struct {
	Additions []LinkExpression `json:"additions"`
	Removals  []LinkExpression `json:"removals"`
}

// TotalDiffNumber is the number of changes in the diff.
func (d PerspectiveDiff) TotalDiffNumber() int {
	return len(d.Additions) + len(d.Removals)
}

// IsEmpty reports whether the diff carries no changes.
func (d PerspectiveDiff) IsEmpty() bool {
	return d.TotalDiffNumber() == 0
}

// Append concatenates other onto d, additions then removals.
func (d *PerspectiveDiff) Append(other PerspectiveDiff) {
	d.Additions = append(d.Additions, other.Additions...)
	d.Removals = append(d.Removals, other.Removals...)
}

// Without returns a copy of d with every expression that also appears in
// other removed from the matching list.
func (d PerspectiveDiff) Without(other PerspectiveDiff) PerspectiveDiff {
	filter := func(in, drop []LinkExpression) []LinkExpression {
		skip := make(map[string]struct{}, len(drop))
		for _, l := range drop {
			skip[l.Key()] = struct{}{}
		}
		out := make([]LinkExpression, 0, len(in))
		for _, l := range in {
			if _, ok := skip[l.Key()]; !ok {
				out = append(out, l)
			}
		}
		return out
	}
	return PerspectiveDiff{
		Additions: filter(d.Additions, other.Additions),
		Removals:  filter(d.Removals, other.Removals),
	}
}

// EntryReference is a revision node. Parents is nil for a root and has two
// elements for a merge. When a committed diff was too large for one entry,
// Chunks lists every chunk in order and Diff names the first.
type EntryReference struct {
	Diff               gocid.Cid   `json:"diff"`
	Parents            []gocid.Cid `json:"parents,omitempty"`
	DiffsSinceSnapshot int         `json:"diffs_since_snapshot"`
	Chunks             []gocid.Cid `json:"chunks,omitempty"`
}

// IsMerge reports whether the node joins two histories.
func (e EntryReference) IsMerge() bool {
	return len(e.Parents) > 1
}

// Snapshot aggregates every diff reachable from the node it is linked to.
type Snapshot struct {
	DiffChunks    []gocid.Cid `json:"diff_chunks"`
	IncludedDiffs []gocid.Cid `json:"included_diffs"`
}

// Perspective is a materialized link set.
type Perspective struct {
	Links []LinkExpression `json:"links"`
}
