package diffsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocid "github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/systemshift/diffsync/internal/perspective"
)

// Pull reconciles the current revision with the shared latest revision and
// returns the changes this replica had not seen.
//
// A latest revision that descends from current is fast-forwarded. Diverged
// histories get a merge node with parents [latest, current] whose content is
// this replica's side of the fork; the other side is returned. Histories
// with no common root are union-merged and the whole foreign history is
// returned.
func (n *Node) Pull(ctx context.Context) (perspective.PerspectiveDiff, error) {
	_, span := tracer.Start(ctx, "diffsync.Pull")
	defer span.End()
	start := time.Now()

	n.mu.Lock()
	diff, result, err := n.pullLocked()
	n.mu.Unlock()

	pullDuration.Observe(time.Since(start).Seconds())
	pullsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("result", result), attribute.Int("diff.changes", diff.TotalDiffNumber()))
	if err != nil {
		return perspective.PerspectiveDiff{}, traceErr(span, err)
	}
	if result != pullUpToDate {
		n.logger.Info("pulled", slog.String("result", result), slog.Int("changes", diff.TotalDiffNumber()))
	}
	return diff, nil
}

func (n *Node) pullLocked() (perspective.PerspectiveDiff, string, error) {
	var empty perspective.PerspectiveDiff

	latest, err := n.r.LatestRevision()
	if err != nil {
		return empty, pullError, err
	}
	if latest == nil {
		return empty, pullUpToDate, nil
	}
	current, err := n.r.CurrentRevision()
	if err != nil {
		return empty, pullError, err
	}
	if current != nil && current.Hash.Equals(latest.Hash) {
		return empty, pullUpToDate, nil
	}

	if current == nil {
		diff, err := n.collectAll(latest.Hash)
		if err != nil {
			return empty, pullError, err
		}
		if err := n.r.UpdateCurrentRevision(latest.Hash, latest.Timestamp); err != nil {
			return empty, pullError, err
		}
		return diff, pullBootstrap, nil
	}

	ws := NewWorkspace(n.r)
	ancestor, err := ws.CollectUntilCommonAncestor(latest.Hash, current.Hash)
	if errors.Is(err, ErrNoCommonAncestorFound) {
		diff, err := n.unionMerge(latest.Hash, current.Hash)
		if err != nil {
			return empty, pullError, err
		}
		return diff, pullUnrelated, nil
	}
	if err != nil {
		return empty, pullError, err
	}
	if err := ws.TopoSortGraph(); err != nil {
		return empty, pullError, err
	}
	workspaceNodes.Observe(float64(len(ws.Entries())))

	if ancestor.Equals(latest.Hash) {
		// Another replica advertised an older revision; re-advertise ours.
		if err := n.r.UpdateLatestRevision(current.Hash, n.now()); err != nil {
			return empty, pullError, err
		}
		return empty, pullBehind, nil
	}

	paths, err := ws.GetPaths(latest.Hash, current.Hash)
	if err != nil {
		return empty, pullError, err
	}
	if len(paths) > 0 {
		diff, err := ws.SquashedFastForwardFrom(current.Hash)
		if err != nil {
			return empty, pullError, err
		}
		if err := n.r.UpdateCurrentRevision(latest.Hash, latest.Timestamp); err != nil {
			return empty, pullError, err
		}
		return diff, pullFastForward, nil
	}

	mergeDiff := ws.squash(ws.notIn(latest.Hash))
	unseen := ws.squash(ws.notIn(current.Hash))
	h, err := n.createMerge(mergeDiff, latest.Hash, current.Hash)
	if err != nil {
		return empty, pullError, err
	}
	n.logger.Debug("merged fork",
		slog.String("merge", h.String()),
		slog.String("ancestor", ancestor.String()),
		slog.Int("merge_changes", mergeDiff.TotalDiffNumber()))
	return unseen, pullFork, nil
}

// collectAll squashes the entire history reachable from h.
func (n *Node) collectAll(h gocid.Cid) (perspective.PerspectiveDiff, error) {
	ws := NewWorkspace(n.r)
	if err := ws.CollectOnlyFromLatest(h); err != nil {
		return perspective.PerspectiveDiff{}, err
	}
	if err := ws.TopoSortGraph(); err != nil {
		return perspective.PerspectiveDiff{}, err
	}
	workspaceNodes.Observe(float64(len(ws.Entries())))
	return ws.SquashedDiff(), nil
}

// unionMerge joins two unrelated histories with an empty merge node and
// returns everything reachable from latest.
func (n *Node) unionMerge(latest, current gocid.Cid) (perspective.PerspectiveDiff, error) {
	diff, err := n.collectAll(latest)
	if err != nil {
		return perspective.PerspectiveDiff{}, err
	}
	if _, err := n.createMerge(perspective.PerspectiveDiff{}, latest, current); err != nil {
		return perspective.PerspectiveDiff{}, err
	}
	return diff, nil
}

// createMerge stores a merge node over latest and current and moves both
// revision pointers to it.
func (n *Node) createMerge(diff perspective.PerspectiveDiff, latest, current gocid.Cid) (gocid.Cid, error) {
	var latestRef, currentRef perspective.EntryReference
	if err := n.r.Get(latest, &latestRef); err != nil {
		return gocid.Undef, fmt.Errorf("load latest revision: %w", err)
	}
	if err := n.r.Get(current, &currentRef); err != nil {
		return gocid.Undef, fmt.Errorf("load current revision: %w", err)
	}

	ref := perspective.EntryReference{
		Parents:            []gocid.Cid{latest, current},
		DiffsSinceSnapshot: latestRef.DiffsSinceSnapshot + currentRef.DiffsSinceSnapshot + 1,
	}
	if err := n.storeDiff(diff, &ref); err != nil {
		return gocid.Undef, err
	}
	h, _, err := n.storeRevision(ref)
	if err != nil {
		return gocid.Undef, err
	}
	if err := n.setBoth(h, n.now()); err != nil {
		return gocid.Undef, err
	}
	return h, nil
}
