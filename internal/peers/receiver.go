package peers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/systemshift/diffsync/internal/diffsync"
	"github.com/systemshift/diffsync/internal/perspective"
)

const maxEnvelopeSize = 64 << 20

// Receiver accepts envelopes from peers over websocket connections. Signals
// are applied to the node; every verified envelope refreshes the sender in
// the roster.
type Receiver struct {
	node     *diffsync.Node
	roster   *Roster
	onDiff   func(perspective.PerspectiveDiff)
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// NewReceiver creates a receiver. onDiff, when set, gets every non-empty
// diff a signal produced.
func NewReceiver(node *diffsync.Node, roster *Roster, logger *slog.Logger, onDiff func(perspective.PerspectiveDiff)) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		node:   node,
		roster: roster,
		onDiff: onDiff,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "receiver")),
		now:    time.Now,
	}
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rc.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxEnvelopeSize)

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rc.logger.Debug("peer connection closed", slog.Any("error", err))
			}
			return
		}
		if err := rc.Receive(r.Context(), &env); err != nil {
			rc.logger.Warn("envelope rejected",
				slog.String("id", env.ID),
				slog.String("from", env.From),
				slog.Any("error", err))
		}
	}
}

// Receive verifies and applies one envelope.
func (rc *Receiver) Receive(ctx context.Context, env *Envelope) error {
	if err := VerifyEnvelope(env); err != nil {
		return err
	}
	if err := rc.roster.Touch(env.From, rc.now()); err != nil {
		return err
	}
	if env.Kind == KindPresence {
		return nil
	}

	diff, err := rc.node.HandleSignal(ctx, *env.Signal)
	if err != nil {
		return err
	}
	rc.logger.Debug("signal applied",
		slog.String("id", env.Signal.ID),
		slog.String("revision", env.Signal.ReferenceHash.String()),
		slog.Int("changes", diff.TotalDiffNumber()))
	if !diff.IsEmpty() && rc.onDiff != nil {
		rc.onDiff(diff)
	}
	return nil
}
