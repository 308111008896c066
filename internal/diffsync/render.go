package diffsync

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/systemshift/diffsync/internal/perspective"
)

// Render replays the history of the current revision in causal order and
// returns the resulting link set.
func (n *Node) Render(ctx context.Context) (perspective.Perspective, error) {
	_, span := tracer.Start(ctx, "diffsync.Render")
	defer span.End()

	current, err := n.r.CurrentRevision()
	if err != nil {
		return perspective.Perspective{}, traceErr(span, err)
	}
	if current == nil {
		return perspective.Perspective{}, traceErr(span, ErrNoCurrentRevision)
	}
	spanRevision(span, "revision", current)

	ws := NewWorkspace(n.r)
	if err := ws.CollectOnlyFromLatest(current.Hash); err != nil {
		return perspective.Perspective{}, traceErr(span, err)
	}
	if err := ws.TopoSortGraph(); err != nil {
		return perspective.Perspective{}, traceErr(span, err)
	}

	var diffs []perspective.PerspectiveDiff
	for _, h := range ws.Sorted() {
		if ws.isMerge(h) {
			continue
		}
		d, _ := ws.Diff(h)
		diffs = append(diffs, d)
	}
	p := Replay(diffs...)
	span.SetAttributes(attribute.Int("links", len(p.Links)))
	return p, nil
}

// Replay applies diffs in order with set semantics: an addition is kept once,
// a removal drops every equal link added before it.
func Replay(diffs ...perspective.PerspectiveDiff) perspective.Perspective {
	index := make(map[string]int)
	var links []perspective.LinkExpression
	var alive []bool

	for _, d := range diffs {
		for _, l := range d.Additions {
			k := l.Key()
			if i, ok := index[k]; ok && alive[i] {
				continue
			}
			index[k] = len(links)
			links = append(links, l)
			alive = append(alive, true)
		}
		for _, l := range d.Removals {
			if i, ok := index[l.Key()]; ok {
				alive[i] = false
			}
		}
	}

	out := perspective.Perspective{Links: make([]perspective.LinkExpression, 0, len(links))}
	for i, l := range links {
		if alive[i] {
			out.Links = append(out.Links, l)
		}
	}
	return out
}
