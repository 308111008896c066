package diffsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	gocid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/diffsync/internal/dag"
	"github.com/systemshift/diffsync/internal/perspective"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// link returns a distinct, deterministic link expression.
func link(n int) perspective.LinkExpression {
	return perspective.LinkExpression{
		Author:    "did:key:test",
		Data:      perspective.NewTriple(fmt.Sprintf("src-%d", n), "links-to", fmt.Sprintf("dst-%d", n)),
		Timestamp: baseTime.Add(time.Duration(n) * time.Second),
		Proof:     perspective.ExpressionProof{Signature: fmt.Sprintf("sig-%d", n), Key: "did:key:test"},
	}
}

func adds(ns ...int) perspective.PerspectiveDiff {
	var d perspective.PerspectiveDiff
	for _, n := range ns {
		d.Additions = append(d.Additions, link(n))
	}
	return d
}

func removes(ns ...int) perspective.PerspectiveDiff {
	var d perspective.PerspectiveDiff
	for _, n := range ns {
		d.Removals = append(d.Removals, link(n))
	}
	return d
}

// linkIDs returns the numeric ids of a link set for order-free comparison.
func linkIDs(links []perspective.LinkExpression) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, *l.Data.Source)
	}
	return out
}

func srcs(ns ...int) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, fmt.Sprintf("src-%d", n))
	}
	return out
}

// graphBuilder writes revision nodes straight into a retriever.
type graphBuilder struct {
	t     *testing.T
	r     Retriever
	nodes map[int]gocid.Cid
}

func newGraphBuilder(t *testing.T) *graphBuilder {
	return &graphBuilder{t: t, r: NewMemoryRetriever(dag.NewMemoryStore()), nodes: make(map[int]gocid.Cid)}
}

// node stores node id with the given parents. Ordinary nodes carry link(id);
// merge nodes carry no content of their own.
func (g *graphBuilder) node(id int, parents ...int) gocid.Cid {
	g.t.Helper()
	content := adds(id)
	if len(parents) > 1 {
		content = perspective.PerspectiveDiff{}
	}
	diffHash, err := g.r.CreateEntry(content)
	require.NoError(g.t, err)
	ref := perspective.EntryReference{Diff: diffHash, DiffsSinceSnapshot: 1}
	for _, p := range parents {
		ph, ok := g.nodes[p]
		require.True(g.t, ok, "parent %d must be created first", p)
		ref.Parents = append(ref.Parents, ph)
	}
	h, err := g.r.CreateEntry(ref)
	require.NoError(g.t, err)
	g.nodes[id] = h
	return h
}

func (g *graphBuilder) ids(hashes []gocid.Cid) []int {
	rev := make(map[gocid.Cid]int, len(g.nodes))
	for id, h := range g.nodes {
		rev[h] = id
	}
	out := make([]int, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, rev[h])
	}
	return out
}

// recordingBroadcaster captures signals instead of sending them.
type recordingBroadcaster struct {
	mu      sync.Mutex
	signals []Signal
	err     error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, sig Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, sig)
	return b.err
}

func (b *recordingBroadcaster) last(t *testing.T) Signal {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.signals)
	return b.signals[len(b.signals)-1]
}

// replicas creates n nodes sharing one memory store.
func replicas(t *testing.T, n int, opts Options) []*Node {
	t.Helper()
	shared := dag.NewMemoryStore()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	out := make([]*Node, n)
	for i := range out {
		out[i] = NewNode(NewMemoryRetriever(shared), opts)
	}
	return out
}
