package diffsync

import (
	"context"
	"errors"
	"testing"

	gocid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/diffsync/internal/perspective"
)

func commit(t *testing.T, n *Node, diff perspective.PerspectiveDiff) gocid.Cid {
	t.Helper()
	h, err := n.Commit(context.Background(), diff)
	require.NoError(t, err)
	return h
}

func pull(t *testing.T, n *Node) perspective.PerspectiveDiff {
	t.Helper()
	diff, err := n.Pull(context.Background())
	require.NoError(t, err)
	return diff
}

func current(t *testing.T, n *Node) gocid.Cid {
	t.Helper()
	rev, err := n.CurrentRevision()
	require.NoError(t, err)
	require.NotNil(t, rev)
	return rev.Hash
}

func latest(t *testing.T, n *Node) gocid.Cid {
	t.Helper()
	rev, err := n.LatestRevision()
	require.NoError(t, err)
	require.NotNil(t, rev)
	return rev.Hash
}

func entry(t *testing.T, n *Node, h gocid.Cid) perspective.EntryReference {
	t.Helper()
	var ref perspective.EntryReference
	require.NoError(t, n.Retriever().Get(h, &ref))
	return ref
}

func rendered(t *testing.T, n *Node) []string {
	t.Helper()
	p, err := n.Render(context.Background())
	require.NoError(t, err)
	return linkIDs(p.Links)
}

func TestCommit_ChainsOnCurrentRevision(t *testing.T) {
	n := replicas(t, 1, Options{})[0]

	first := commit(t, n, adds(1))
	root := entry(t, n, first)
	assert.Empty(t, root.Parents)
	assert.Equal(t, 1, root.DiffsSinceSnapshot)

	second := commit(t, n, adds(2))
	child := entry(t, n, second)
	assert.Equal(t, []gocid.Cid{first}, child.Parents)
	assert.Equal(t, 2, child.DiffsSinceSnapshot)

	assert.Equal(t, second, current(t, n))
	assert.Equal(t, second, latest(t, n))
}

func TestCommit_ChunksLargeDiffs(t *testing.T) {
	nodes := replicas(t, 2, Options{ChunkSize: 2})
	a, b := nodes[0], nodes[1]

	h := commit(t, a, adds(1, 2, 3, 4, 5))
	ref := entry(t, a, h)
	require.Len(t, ref.Chunks, 3)
	assert.Equal(t, ref.Chunks[0], ref.Diff)

	assert.Equal(t, srcs(1, 2, 3, 4, 5), linkIDs(pull(t, b).Additions))
	assert.ElementsMatch(t, srcs(1, 2, 3, 4, 5), rendered(t, b))
}

func TestCommit_BroadcastFailureDoesNotFailCommit(t *testing.T) {
	bc := &recordingBroadcaster{err: errors.New("peer unreachable")}
	n := replicas(t, 1, Options{Broadcaster: bc})[0]

	h := commit(t, n, adds(1))
	sig := bc.last(t)
	assert.Equal(t, h, sig.ReferenceHash)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, srcs(1), linkIDs(sig.Diff.Additions))
}

func TestPull_NothingToPull(t *testing.T) {
	n := replicas(t, 1, Options{})[0]
	assert.True(t, pull(t, n).IsEmpty())

	_, err := n.Render(context.Background())
	assert.ErrorIs(t, err, ErrNoCurrentRevision)
}

func TestPull_BootstrapThenIdempotent(t *testing.T) {
	nodes := replicas(t, 2, Options{})
	a, b := nodes[0], nodes[1]

	commit(t, a, adds(1))
	commit(t, a, adds(2))

	assert.Equal(t, srcs(1, 2), linkIDs(pull(t, b).Additions))
	assert.Equal(t, current(t, a), current(t, b))
	assert.True(t, pull(t, b).IsEmpty(), "second pull sees nothing new")
}

func TestPull_FastForward(t *testing.T) {
	nodes := replicas(t, 2, Options{})
	a, b := nodes[0], nodes[1]

	commit(t, a, adds(1))
	pull(t, b)
	commit(t, a, adds(2))
	commit(t, a, removes(1))

	diff := pull(t, b)
	assert.Equal(t, srcs(2), linkIDs(diff.Additions))
	assert.Equal(t, srcs(1), linkIDs(diff.Removals))
	assert.Equal(t, current(t, a), current(t, b))
	assert.Equal(t, srcs(2), rendered(t, b))
}

func TestPull_ForkCreatesMerge(t *testing.T) {
	nodes := replicas(t, 2, Options{})
	a, b := nodes[0], nodes[1]

	commit(t, a, adds(1))
	pull(t, b)
	a2 := commit(t, a, adds(2))
	b3 := commit(t, b, adds(3))

	unseen := pull(t, a)
	assert.Equal(t, srcs(3), linkIDs(unseen.Additions))

	merge := current(t, a)
	assert.Equal(t, merge, latest(t, a))
	ref := entry(t, a, merge)
	assert.Equal(t, []gocid.Cid{b3, a2}, ref.Parents)
	assert.Equal(t, 2+2+1, ref.DiffsSinceSnapshot)

	var mergeDiff perspective.PerspectiveDiff
	require.NoError(t, a.Retriever().Get(ref.Diff, &mergeDiff))
	assert.Equal(t, srcs(2), linkIDs(mergeDiff.Additions), "merge records the local side only")

	assert.Equal(t, srcs(2), linkIDs(pull(t, b).Additions))
	assert.Equal(t, merge, current(t, b))

	assert.ElementsMatch(t, srcs(1, 2, 3), rendered(t, a))
	assert.Equal(t, rendered(t, a), rendered(t, b))
}

func TestPull_IdenticalConcurrentCommitsConverge(t *testing.T) {
	nodes := replicas(t, 2, Options{})
	a, b := nodes[0], nodes[1]

	commit(t, a, adds(0))
	pull(t, b)
	a2 := commit(t, a, adds(1))
	b2 := commit(t, b, adds(1))
	require.Equal(t, a2, b2, "same parent and content give the same node")

	assert.True(t, pull(t, a).IsEmpty())
	assert.False(t, entry(t, a, current(t, a)).IsMerge())
}

func TestPull_UnrelatedHistoriesUnion(t *testing.T) {
	nodes := replicas(t, 2, Options{})
	a, b := nodes[0], nodes[1]

	a1 := commit(t, a, adds(1))
	b10 := commit(t, b, adds(10))

	assert.Equal(t, srcs(10), linkIDs(pull(t, a).Additions))
	ref := entry(t, a, current(t, a))
	assert.Equal(t, []gocid.Cid{b10, a1}, ref.Parents)

	assert.Equal(t, srcs(1), linkIDs(pull(t, b).Additions))
	assert.ElementsMatch(t, srcs(1, 10), rendered(t, b))
	assert.Equal(t, rendered(t, a), rendered(t, b))
}

func TestPull_LatestBehindIsReadvertised(t *testing.T) {
	nodes := replicas(t, 2, Options{})
	a, b := nodes[0], nodes[1]

	a1 := commit(t, a, adds(1))
	a2 := commit(t, a, adds(2))
	require.NoError(t, b.Retriever().UpdateLatestRevision(a1, baseTime))

	assert.True(t, pull(t, a).IsEmpty())
	assert.Equal(t, a2, current(t, a))
	assert.Equal(t, a2, latest(t, b))
}

func TestPull_ThreeReplicasConverge(t *testing.T) {
	nodes := replicas(t, 3, Options{})
	a, b, c := nodes[0], nodes[1], nodes[2]

	commit(t, a, adds(1))
	pull(t, b)
	pull(t, c)

	commit(t, a, adds(2))
	commit(t, b, adds(3))
	commit(t, c, adds(4))

	for range 2 {
		for _, n := range nodes {
			pull(t, n)
		}
	}

	want := rendered(t, a)
	assert.ElementsMatch(t, srcs(1, 2, 3, 4), want)
	assert.ElementsMatch(t, want, rendered(t, b))
	assert.ElementsMatch(t, want, rendered(t, c))
}
