package diffsync

import (
	"context"
	"fmt"
	"log/slog"

	gocid "github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/systemshift/diffsync/internal/perspective"
)

// Signal announces a fresh commit to peers so they can apply it without a
// full pull.
type Signal struct {
	ID            string                      `json:"id"`
	Diff          perspective.PerspectiveDiff `json:"diff"`
	Reference     perspective.EntryReference  `json:"reference"`
	ReferenceHash gocid.Cid                   `json:"reference_hash"`
}

// Signal outcomes.
const (
	signalDuplicate   = "duplicate"
	signalFastForward = "fast_forward"
	signalPulled      = "pulled"
)

// HandleSignal applies a peer's commit signal and returns the changes that
// are new to this replica. A signal for the current revision is ignored. A
// signal whose only parent is the current revision advances it directly.
// Anything else triggers a pull; the result then lists the signal's own
// changes first followed by whatever else the pull produced.
func (n *Node) HandleSignal(ctx context.Context, sig Signal) (perspective.PerspectiveDiff, error) {
	_, span := tracer.Start(ctx, "diffsync.HandleSignal")
	defer span.End()
	span.SetAttributes(attribute.String("signal.id", sig.ID), attribute.String("signal.revision", sig.ReferenceHash.String()))

	n.mu.Lock()
	defer n.mu.Unlock()

	current, err := n.r.CurrentRevision()
	if err != nil {
		return perspective.PerspectiveDiff{}, traceErr(span, err)
	}
	if current != nil && current.Hash.Equals(sig.ReferenceHash) {
		signalsTotal.WithLabelValues(signalDuplicate).Inc()
		return perspective.PerspectiveDiff{}, nil
	}

	// The stored parents decide; the parents carried on the wire are only
	// advisory.
	var stored perspective.EntryReference
	if current != nil {
		if err := n.r.Get(sig.ReferenceHash, &stored); err != nil {
			return perspective.PerspectiveDiff{}, traceErr(span, fmt.Errorf("signalled revision: %w", err))
		}
	}
	if current != nil && len(stored.Parents) == 1 && stored.Parents[0].Equals(current.Hash) {
		if err := n.r.UpdateCurrentRevision(sig.ReferenceHash, n.now()); err != nil {
			return perspective.PerspectiveDiff{}, traceErr(span, err)
		}
		signalsTotal.WithLabelValues(signalFastForward).Inc()
		n.logger.Debug("signal fast-forward", slog.String("revision", sig.ReferenceHash.String()))
		return sig.Diff, nil
	}

	pulled, result, err := n.pullLocked()
	pullsTotal.WithLabelValues(result).Inc()
	if err != nil {
		return perspective.PerspectiveDiff{}, traceErr(span, err)
	}
	signalsTotal.WithLabelValues(signalPulled).Inc()

	out := perspective.PerspectiveDiff{
		Additions: append([]perspective.LinkExpression(nil), sig.Diff.Additions...),
		Removals:  append([]perspective.LinkExpression(nil), sig.Diff.Removals...),
	}
	out.Append(pulled.Without(sig.Diff))
	return out, nil
}
