package diffsync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	gocid "github.com/ipfs/go-cid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/systemshift/diffsync/internal/perspective"
)

// Commit appends diff on top of the current revision and advertises the new
// node as the latest revision. Active peers are then signalled; delivery
// failures are logged and do not fail the commit.
func (n *Node) Commit(ctx context.Context, diff perspective.PerspectiveDiff) (gocid.Cid, error) {
	ctx, span := tracer.Start(ctx, "diffsync.Commit")
	defer span.End()
	span.SetAttributes(attribute.Int("diff.changes", diff.TotalDiffNumber()))

	n.mu.Lock()
	h, ref, snapshot, err := n.commitLocked(diff)
	n.mu.Unlock()
	if err != nil {
		return gocid.Undef, traceErr(span, err)
	}

	commitsTotal.WithLabelValues(strconv.FormatBool(snapshot)).Inc()
	span.SetAttributes(attribute.String("revision", h.String()), attribute.Bool("snapshot", snapshot))
	n.logger.Info("committed diff",
		slog.String("revision", h.String()),
		slog.Int("changes", diff.TotalDiffNumber()),
		slog.Int("chunks", max(1, len(ref.Chunks))),
		slog.Bool("snapshot", snapshot))

	if n.broadcaster != nil {
		sig := Signal{ID: ulid.Make().String(), Diff: diff, Reference: ref, ReferenceHash: h}
		if err := n.broadcaster.Broadcast(ctx, sig); err != nil {
			n.logger.Warn("signal broadcast failed", slog.String("revision", h.String()), slog.Any("error", err))
		}
	}
	return h, nil
}

func (n *Node) commitLocked(diff perspective.PerspectiveDiff) (gocid.Cid, perspective.EntryReference, bool, error) {
	var ref perspective.EntryReference

	current, err := n.r.CurrentRevision()
	if err != nil {
		return gocid.Undef, ref, false, err
	}
	ref.DiffsSinceSnapshot = 1
	if current != nil {
		var parent perspective.EntryReference
		if err := n.r.Get(current.Hash, &parent); err != nil {
			return gocid.Undef, ref, false, fmt.Errorf("load parent revision: %w", err)
		}
		ref.Parents = []gocid.Cid{current.Hash}
		ref.DiffsSinceSnapshot = parent.DiffsSinceSnapshot + 1
	}

	if err := n.storeDiff(diff, &ref); err != nil {
		return gocid.Undef, ref, false, err
	}
	h, snapshot, err := n.storeRevision(ref)
	if err != nil {
		return gocid.Undef, ref, false, err
	}
	if snapshot {
		ref.DiffsSinceSnapshot = 0
	}
	if err := n.setBoth(h, n.now()); err != nil {
		return gocid.Undef, ref, false, err
	}
	return h, ref, snapshot, nil
}
