package diffsync

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/perspective"
)

// Workspace rebuilds the part of the revision DAG needed to answer one
// reconciliation question. A workspace is single use and not safe for
// concurrent use.
type Workspace struct {
	r Retriever

	// loaded holds every node fetched so far with its stored parents.
	loaded map[gocid.Cid]perspective.EntryReference
	// entries is the region the sort, graph and squashes operate on.
	entries map[gocid.Cid]perspective.EntryReference
	diffs   map[gocid.Cid]perspective.PerspectiveDiff

	sorted []gocid.Cid
	graph  *Graph
}

func NewWorkspace(r Retriever) *Workspace {
	return &Workspace{
		r:       r,
		loaded:  make(map[gocid.Cid]perspective.EntryReference),
		entries: make(map[gocid.Cid]perspective.EntryReference),
		diffs:   make(map[gocid.Cid]perspective.PerspectiveDiff),
	}
}

// Entries returns the collected region.
func (w *Workspace) Entries() map[gocid.Cid]perspective.EntryReference {
	return w.entries
}

// Sorted returns the node order computed by TopoSortGraph.
func (w *Workspace) Sorted() []gocid.Cid {
	return w.sorted
}

// Diff returns the content collected for a node.
func (w *Workspace) Diff(h gocid.Cid) (perspective.PerspectiveDiff, bool) {
	d, ok := w.diffs[h]
	return d, ok
}

func (w *Workspace) snapshotOf(h gocid.Cid) (gocid.Cid, bool, error) {
	links, err := w.r.SnapshotLinks(h)
	if err != nil {
		return gocid.Undef, false, fmt.Errorf("snapshot links of %s: %w", h, err)
	}
	if len(links) == 0 {
		return gocid.Undef, false, nil
	}
	return links[0], true, nil
}

// loadSnapshotLeaf records h as a parent-less node whose content is the
// aggregate of its snapshot.
func (w *Workspace) loadSnapshotLeaf(h, snapHash gocid.Cid) error {
	_, diff, err := loadSnapshotDiff(w.r, snapHash)
	if err != nil {
		return err
	}
	leaf := perspective.EntryReference{Diff: snapHash}
	w.loaded[h] = leaf
	w.entries[h] = leaf
	w.diffs[h] = diff
	return nil
}

func (w *Workspace) loadEntry(h gocid.Cid) (perspective.EntryReference, error) {
	if ref, ok := w.loaded[h]; ok {
		return ref, nil
	}
	var ref perspective.EntryReference
	if err := w.r.Get(h, &ref); err != nil {
		return ref, fmt.Errorf("load revision: %w", err)
	}
	diff, err := loadDiff(w.r, ref)
	if err != nil {
		return ref, err
	}
	w.loaded[h] = ref
	w.entries[h] = ref
	w.diffs[h] = diff
	return ref, nil
}

// CollectOnlyFromLatest collects every node reachable from latest, walking
// depth first. Nodes with a snapshot become leaves carrying the snapshot
// aggregate.
func (w *Workspace) CollectOnlyFromLatest(latest gocid.Cid) error {
	visited := make(map[gocid.Cid]struct{})
	stack := []gocid.Cid{latest}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[h]; ok {
			continue
		}
		visited[h] = struct{}{}

		snapHash, ok, err := w.snapshotOf(h)
		if err != nil {
			return err
		}
		if ok {
			if err := w.loadSnapshotLeaf(h, snapHash); err != nil {
				return err
			}
			continue
		}

		ref, err := w.loadEntry(h)
		if err != nil {
			return err
		}
		// Push in reverse so the first parent is walked next.
		for i := len(ref.Parents) - 1; i >= 0; i-- {
			if _, ok := visited[ref.Parents[i]]; !ok {
				stack = append(stack, ref.Parents[i])
			}
		}
	}
	return nil
}

// searchSide is one half of the common-ancestor search. It is passed by
// value between rounds; the maps are shared and updated in place.
type searchSide struct {
	start    gocid.Cid
	frontier []gocid.Cid
	open     map[gocid.Cid]struct{}
	visited  map[gocid.Cid]struct{}
}

func newSearchSide(start gocid.Cid) searchSide {
	return searchSide{
		start:    start,
		frontier: []gocid.Cid{start},
		open:     map[gocid.Cid]struct{}{start: {}},
		visited:  make(map[gocid.Cid]struct{}),
	}
}

func (s searchSide) seen(h gocid.Cid) bool {
	if _, ok := s.visited[h]; ok {
		return true
	}
	_, ok := s.open[h]
	return ok
}

func (s searchSide) reached(h gocid.Cid) bool {
	_, ok := s.visited[h]
	return ok
}

// CollectUntilCommonAncestor searches breadth first from theirs and ours in
// alternating rounds until both histories meet and every branch has ended.
// When one start is reachable from the other it is the common ancestor;
// otherwise the first meeting point is. The workspace keeps only the
// divergence region: visited nodes that are not ancestors of the common
// ancestor, plus the ancestor itself with its parents cleared.
func (w *Workspace) CollectUntilCommonAncestor(theirs, ours gocid.Cid) (gocid.Cid, error) {
	sides := [2]searchSide{newSearchSide(theirs), newSearchSide(ours)}
	ancestor := gocid.Undef

	for len(sides[0].frontier) > 0 || len(sides[1].frontier) > 0 {
		for i := range sides {
			next, met, err := w.expand(sides[i], sides[1-i], ancestor)
			if err != nil {
				return gocid.Undef, err
			}
			for _, h := range met {
				sides[1-i].visited[h] = struct{}{}
			}
			if !ancestor.Defined() && len(met) > 0 {
				ancestor = met[0]
			}
			sides[i] = next
		}
	}

	switch {
	case !ancestor.Defined():
		return gocid.Undef, ErrNoCommonAncestorFound
	case sides[0].reached(ours):
		ancestor = ours
	case sides[1].reached(theirs):
		ancestor = theirs
	}

	visited := make(map[gocid.Cid]struct{})
	for _, s := range sides {
		for h := range s.visited {
			visited[h] = struct{}{}
		}
	}
	w.truncateBelow(ancestor, visited)
	return ancestor, nil
}

// expand runs one round for side and returns the updated side together
// with the nodes where it met the other side this round.
func (w *Workspace) expand(side, other searchSide, ancestor gocid.Cid) (searchSide, []gocid.Cid, error) {
	var (
		met  []gocid.Cid
		next []gocid.Cid
		open = make(map[gocid.Cid]struct{})
	)

	for _, h := range side.frontier {
		if side.reached(h) {
			continue
		}

		// A meeting node keeps expanding so the common history below it is
		// known when the region is cut.
		if other.seen(h) {
			met = append(met, h)
		} else if ancestor.Defined() {
			leaf, err := w.snapshotEndsBranch(h, other.start, ancestor)
			if err != nil {
				return side, nil, err
			}
			if leaf {
				side.visited[h] = struct{}{}
				continue
			}
		}

		ref, err := w.loadEntry(h)
		if err != nil {
			return side, nil, err
		}
		side.visited[h] = struct{}{}
		for _, p := range ref.Parents {
			if side.reached(p) {
				continue
			}
			if _, ok := open[p]; ok {
				continue
			}
			open[p] = struct{}{}
			next = append(next, p)
		}
	}

	side.frontier = next
	side.open = open
	return side, met, nil
}

// snapshotEndsBranch turns h into a snapshot leaf when it has a snapshot
// that covers none of the targets, meaning no target lies below h.
func (w *Workspace) snapshotEndsBranch(h gocid.Cid, targets ...gocid.Cid) (bool, error) {
	snapHash, ok, err := w.snapshotOf(h)
	if err != nil || !ok {
		return false, err
	}
	var snap perspective.Snapshot
	if err := w.r.Get(snapHash, &snap); err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	for _, inc := range snap.IncludedDiffs {
		for _, t := range targets {
			if inc.Equals(t) {
				return false, nil
			}
		}
	}
	return true, w.loadSnapshotLeaf(h, snapHash)
}

// ancestry returns h and every node reachable from it through loaded
// parents.
func (w *Workspace) ancestry(h gocid.Cid) map[gocid.Cid]struct{} {
	out := make(map[gocid.Cid]struct{})
	stack := []gocid.Cid{h}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := out[n]; ok {
			continue
		}
		out[n] = struct{}{}
		if ref, ok := w.loaded[n]; ok {
			stack = append(stack, ref.Parents...)
		}
	}
	return out
}

func (w *Workspace) truncateBelow(ancestor gocid.Cid, visited map[gocid.Cid]struct{}) {
	below := w.ancestry(ancestor)
	delete(below, ancestor)

	for h := range w.entries {
		_, keep := visited[h]
		if _, drop := below[h]; drop || !keep {
			delete(w.entries, h)
			delete(w.diffs, h)
		}
	}

	root := w.entries[ancestor]
	root.Parents = nil
	w.entries[ancestor] = root
}

// TopoSortGraph orders the region parents-first and builds the path graph
// over it.
func (w *Workspace) TopoSortGraph() error {
	sorted, err := topoSort(w.entries)
	if err != nil {
		return err
	}
	w.sorted = sorted
	w.graph = buildGraph(sorted, w.entries)
	return nil
}

// GetPaths returns every simple path from child to ancestor.
func (w *Workspace) GetPaths(child, ancestor gocid.Cid) ([][]gocid.Cid, error) {
	if w.graph == nil {
		return nil, fmt.Errorf("%w: must get parent index after building graph", ErrInternal)
	}
	return w.graph.Paths(child, ancestor)
}

// SquashedDiff concatenates the content of every non-merge node in sorted
// order.
func (w *Workspace) SquashedDiff() perspective.PerspectiveDiff {
	return w.squash(w.sorted)
}

// SquashedFastForwardFrom concatenates, in sorted order, the content of
// every node in the region that base does not already contain.
func (w *Workspace) SquashedFastForwardFrom(base gocid.Cid) (perspective.PerspectiveDiff, error) {
	if _, ok := w.entries[base]; !ok {
		return perspective.PerspectiveDiff{}, fmt.Errorf("%w: fast-forward base %s was not collected", ErrInternal, base)
	}
	return w.squash(w.notIn(base)), nil
}

func (w *Workspace) isMerge(h gocid.Cid) bool {
	return w.loaded[h].IsMerge()
}

// notIn lists, in sorted order, the region nodes outside the ancestry of tip.
func (w *Workspace) notIn(tip gocid.Cid) []gocid.Cid {
	known := w.ancestry(tip)
	var out []gocid.Cid
	for _, h := range w.sorted {
		if _, ok := known[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// squash concatenates the content of the given nodes in order. Merge nodes
// are skipped: their content repeats a branch that is already part of their
// ancestry.
func (w *Workspace) squash(nodes []gocid.Cid) perspective.PerspectiveDiff {
	var out perspective.PerspectiveDiff
	for _, h := range nodes {
		if w.isMerge(h) {
			continue
		}
		out.Append(w.diffs[h])
	}
	return out
}
