package peers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/diffsync/internal/dag"
	"github.com/systemshift/diffsync/internal/diffsync"
)

const (
	sendTimeout = 10 * time.Second
	maxInFlight = 8
)

// Notifier sends signed envelopes to peers. It implements
// diffsync.Broadcaster.
type Notifier struct {
	roster   *Roster
	identity *dag.Identity
	window   time.Duration
	dialer   *websocket.Dialer
	logger   *slog.Logger
	now      func() time.Time
}

// NewNotifier creates a notifier that signals peers seen within window.
func NewNotifier(roster *Roster, identity *dag.Identity, window time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = diffsync.DefaultActiveAgentDuration
	}
	return &Notifier{
		roster:   roster,
		identity: identity,
		window:   window,
		dialer:   &websocket.Dialer{HandshakeTimeout: sendTimeout},
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
	}
}

// Broadcast sends a commit signal to every active peer.
func (n *Notifier) Broadcast(ctx context.Context, sig diffsync.Signal) error {
	active := n.roster.Active(n.window, n.now())
	if len(active) == 0 {
		n.logger.Debug("no active peers to signal")
		return nil
	}
	return n.send(ctx, active, KindSignal, &sig)
}

// Announce sends a presence envelope to every peer with an address, so
// they treat this node as active.
func (n *Notifier) Announce(ctx context.Context) error {
	return n.send(ctx, n.roster.List(), KindPresence, nil)
}

func (n *Notifier) send(ctx context.Context, peers []Peer, kind string, sig *diffsync.Signal) error {
	key, err := n.identity.SigningKey()
	if err != nil {
		return fmt.Errorf("get signing key: %w", err)
	}
	env, err := SignEnvelope(newEnvelope(n.identity.DID, kind, sig, n.now()), key)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	errs := make([]error, len(peers))
	for i, p := range peers {
		if p.URL == "" {
			continue
		}
		g.Go(func() error {
			if err := n.deliver(gCtx, p, env); err != nil {
				n.logger.Warn("peer delivery failed",
					slog.String("peer", p.Label()),
					slog.String("kind", kind),
					slog.Any("error", err))
				errs[i] = fmt.Errorf("%s: %w", p.Label(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, p Peer, env *Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	conn, _, err := n.dialer.DialContext(ctx, p.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
