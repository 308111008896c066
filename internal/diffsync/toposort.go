package diffsync

import (
	"fmt"
	"sort"

	gocid "github.com/ipfs/go-cid"

	"github.com/systemshift/diffsync/internal/perspective"
)

// topoSort orders entries so that every node follows all of its parents that
// are part of the map. It starts from hash order and relocates a parent found
// after its child to the position just before the child, then re-checks that
// position. Relative order is otherwise preserved.
func topoSort(entries map[gocid.Cid]perspective.EntryReference) ([]gocid.Cid, error) {
	order := make([]gocid.Cid, 0, len(entries))
	for h := range entries {
		order = append(order, h)
	}
	sort.Slice(order, func(i, j int) bool {
		return order[i].KeyString() < order[j].KeyString()
	})

	pos := make(map[gocid.Cid]int, len(order))
	reindex := func(from int) {
		for i := from; i < len(order); i++ {
			pos[order[i]] = i
		}
	}
	reindex(0)

	// A DAG needs far fewer relocations than this; hitting it means a cycle.
	budget := len(order)*len(order) + 1
	for i := 0; i < len(order); {
		moved := false
		for _, p := range entries[order[i]].Parents {
			j, ok := pos[p]
			if !ok || j <= i {
				continue
			}
			budget--
			if budget < 0 {
				return nil, fmt.Errorf("%w: cycle detected while sorting revisions at %s", ErrInternal, order[i])
			}
			copy(order[i+1:j+1], order[i:j])
			order[i] = p
			reindex(i)
			moved = true
			break
		}
		if !moved {
			i++
		}
	}
	return order, nil
}
