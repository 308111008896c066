package diffsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/systemshift/diffsync/internal/perspective"
)

// Syncer periodically pulls in the background and hands non-empty results
// to a callback.
type Syncer struct {
	node     *Node
	interval time.Duration
	onDiff   func(perspective.PerspectiveDiff)
	onTick   func(context.Context)
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopOnce sync.Once
}

// NewSyncer creates a syncer that pulls at the given interval. onDiff may be
// nil.
func NewSyncer(node *Node, interval time.Duration, onDiff func(perspective.PerspectiveDiff)) *Syncer {
	return &Syncer{
		node:     node,
		interval: interval,
		onDiff:   onDiff,
		logger:   node.logger.With(slog.String("component", "syncer")),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnTick registers a hook run before every pull, such as a presence
// announcement. Must be called before Start.
func (s *Syncer) OnTick(fn func(context.Context)) {
	s.onTick = fn
}

// Start launches the background polling goroutine. Calls after the first,
// or after Stop, do nothing.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.SyncOnce(context.Background())
			}
		}
	}()
}

// SyncOnce runs one tick synchronously.
func (s *Syncer) SyncOnce(ctx context.Context) {
	if s.onTick != nil {
		s.onTick(ctx)
	}
	diff, err := s.node.Pull(ctx)
	if err != nil {
		s.logger.Error("sync pull failed", slog.Any("error", err))
		return
	}
	if !diff.IsEmpty() && s.onDiff != nil {
		s.onDiff(diff)
	}
}

// Stop signals the syncer to stop and waits for it to finish. It is safe to
// call more than once and without a prior Start.
func (s *Syncer) Stop() {
	s.mu.Lock()
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	if started {
		<-s.doneCh
	}
}
