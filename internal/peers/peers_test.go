package peers

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/diffsync/internal/dag"
	"github.com/systemshift/diffsync/internal/diffsync"
	"github.com/systemshift/diffsync/internal/perspective"
)

const (
	aliceDID = "did:key:z6MkehRgf7yJbgaGfYsdoAsKdBPE3dj2CYhowQdcjqSJgvVd"
	bobDID   = "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"
)

var alice = &dag.Identity{
	DID:        aliceDID,
	PublicKey:  "A6EHv/POEL4dcN0Y50vAmWfk1jCbpQ1fHdyGZBJVMbg=",
	PrivateKey: "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=",
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openRoster(t *testing.T) *Roster {
	t.Helper()
	r, err := OpenRoster(filepath.Join(t.TempDir(), "peers.json"))
	require.NoError(t, err)
	return r
}

func TestRoster_AddListRemove(t *testing.T) {
	r := openRoster(t)

	p, err := r.Add(bobDID, "", "ws://bob.example/signals")
	require.NoError(t, err)
	assert.Equal(t, "brave-raven", p.Alias)

	_, err = r.Add(bobDID, "other", "")
	assert.ErrorIs(t, err, ErrPeerExists)
	_, err = r.Add("did:web:example.com", "", "")
	assert.ErrorIs(t, err, ErrInvalidDID)

	_, err = r.Add(aliceDID, "alice", "")
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Alias)
	assert.Equal(t, "brave-raven", list[1].Alias)

	got, err := r.Get("brave-raven")
	require.NoError(t, err)
	assert.Equal(t, bobDID, got.DID)

	require.NoError(t, r.Remove("alice"))
	assert.ErrorIs(t, r.Remove("alice"), ErrUnknownPeer)
	assert.Len(t, r.List(), 1)
}

func TestRoster_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	r, err := OpenRoster(path)
	require.NoError(t, err)
	_, err = r.Add(bobDID, "bob", "ws://bob")
	require.NoError(t, err)
	seen := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Touch(bobDID, seen))

	reopened, err := OpenRoster(path)
	require.NoError(t, err)
	p, err := reopened.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, "ws://bob", p.URL)
	assert.True(t, seen.Equal(p.LastSeen))
}

func TestRoster_FailedWriteKeepsMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	r, err := OpenRoster(path)
	require.NoError(t, err)
	_, err = r.Add(bobDID, "bob", "ws://bob")
	require.NoError(t, err)

	// A regular file where the roster directory should be makes every
	// write fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	r.path = filepath.Join(blocker, "peers.json")

	assert.Error(t, r.Remove("bob"))
	_, err = r.Get("bob")
	assert.NoError(t, err, "peer survives a failed remove")

	assert.Error(t, r.Touch(bobDID, time.Now()))
	p, _ := r.Get("bob")
	assert.True(t, p.LastSeen.IsZero())

	_, err = r.Add(aliceDID, "alice", "")
	assert.Error(t, err)
	assert.Len(t, r.List(), 1)

	r.path = path
	require.NoError(t, r.Remove("bob"))
	reopened, err := OpenRoster(path)
	require.NoError(t, err)
	assert.Empty(t, reopened.List())
}

func TestRoster_ActiveWindow(t *testing.T) {
	r := openRoster(t)
	_, err := r.Add(aliceDID, "alice", "")
	require.NoError(t, err)
	_, err = r.Add(bobDID, "bob", "")
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Empty(t, r.Active(time.Hour, now), "never seen is not active")

	require.NoError(t, r.Touch(aliceDID, now.Add(-30*time.Minute)))
	require.NoError(t, r.Touch(bobDID, now.Add(-2*time.Hour)))
	active := r.Active(time.Hour, now)
	require.Len(t, active, 1)
	assert.Equal(t, aliceDID, active[0].DID)

	require.NoError(t, r.Touch(bobDID, now.Add(-3*time.Hour)), "older heartbeat is ignored")
	p, _ := r.Get("bob")
	assert.True(t, now.Add(-2*time.Hour).Equal(p.LastSeen))

	assert.ErrorIs(t, r.Touch("did:key:zUnknown", now), ErrUnknownPeer)
	assert.ErrorIs(t, r.Touch("bob", now), ErrUnknownPeer, "touch takes a DID, not an alias")
}

func TestEnvelope_SignVerify(t *testing.T) {
	key, err := alice.SigningKey()
	require.NoError(t, err)

	sig := &diffsync.Signal{ID: "01J0000000000000000000000", Diff: perspective.PerspectiveDiff{}}
	env, err := SignEnvelope(newEnvelope(aliceDID, KindSignal, sig, time.Now()), key)
	require.NoError(t, err)
	require.NoError(t, VerifyEnvelope(env))

	forged := *env
	forged.From = bobDID
	assert.ErrorIs(t, VerifyEnvelope(&forged), ErrBadEnvelope)

	tampered := *env
	tampered.Kind = KindPresence
	assert.ErrorIs(t, VerifyEnvelope(&tampered), ErrBadEnvelope)

	unsigned := newEnvelope(aliceDID, KindPresence, nil, time.Now())
	assert.ErrorIs(t, VerifyEnvelope(unsigned), ErrBadEnvelope)
}

// TestSignalDelivery runs two replicas sharing a memory store: alice commits
// and bob learns the change through a websocket signal.
func TestSignalDelivery(t *testing.T) {
	bob, err := dag.NewIdentity()
	require.NoError(t, err)
	shared := dag.NewMemoryStore()

	bobRoster := openRoster(t)
	_, err = bobRoster.Add(aliceDID, "alice", "")
	require.NoError(t, err)
	bobNode := diffsync.NewNode(diffsync.NewMemoryRetriever(shared), diffsync.Options{Logger: quietLogger()})

	got := make(chan perspective.PerspectiveDiff, 1)
	receiver := NewReceiver(bobNode, bobRoster, quietLogger(), func(d perspective.PerspectiveDiff) { got <- d })
	srv := httptest.NewServer(receiver)
	t.Cleanup(srv.Close)

	aliceRoster := openRoster(t)
	_, err = aliceRoster.Add(bob.DID, "bob", "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	require.NoError(t, aliceRoster.Touch(bob.DID, time.Now()))

	notifier := NewNotifier(aliceRoster, alice, time.Hour, quietLogger())
	aliceNode := diffsync.NewNode(diffsync.NewMemoryRetriever(shared), diffsync.Options{
		Broadcaster: notifier,
		Logger:      quietLogger(),
	})

	l, err := perspective.Sign(alice, perspective.NewTriple("note://1", "tagged", "topic://go"), time.Now())
	require.NoError(t, err)
	h, err := aliceNode.Commit(context.Background(), perspective.PerspectiveDiff{Additions: []perspective.LinkExpression{l}})
	require.NoError(t, err)

	select {
	case d := <-got:
		require.Len(t, d.Additions, 1)
		assert.True(t, l.Equal(d.Additions[0]))
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not delivered")
	}

	rev, err := bobNode.CurrentRevision()
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, h, rev.Hash)

	p, err := bobRoster.Get("alice")
	require.NoError(t, err)
	assert.False(t, p.LastSeen.IsZero(), "signal refreshes the sender")
}

func TestNotifier_AnnounceReachesUnseenPeers(t *testing.T) {
	bob, err := dag.NewIdentity()
	require.NoError(t, err)

	bobRoster := openRoster(t)
	_, err = bobRoster.Add(aliceDID, "alice", "")
	require.NoError(t, err)
	bobNode := diffsync.NewNode(diffsync.NewMemoryRetriever(dag.NewMemoryStore()), diffsync.Options{Logger: quietLogger()})
	srv := httptest.NewServer(NewReceiver(bobNode, bobRoster, quietLogger(), nil))
	t.Cleanup(srv.Close)

	aliceRoster := openRoster(t)
	_, err = aliceRoster.Add(bob.DID, "bob", "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)

	require.NoError(t, NewNotifier(aliceRoster, alice, time.Hour, quietLogger()).Announce(context.Background()))

	assert.Eventually(t, func() bool {
		p, err := bobRoster.Get("alice")
		return err == nil && !p.LastSeen.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNotifier_ReportsUnreachablePeers(t *testing.T) {
	r := openRoster(t)
	_, err := r.Add(bobDID, "bob", "ws://127.0.0.1:1/signals")
	require.NoError(t, err)
	require.NoError(t, r.Touch(bobDID, time.Now()))

	err = NewNotifier(r, alice, time.Hour, quietLogger()).Broadcast(context.Background(), diffsync.Signal{ID: "x"})
	assert.Error(t, err)
}

func TestReceiver_RejectsUnknownSender(t *testing.T) {
	node := diffsync.NewNode(diffsync.NewMemoryRetriever(dag.NewMemoryStore()), diffsync.Options{Logger: quietLogger()})
	rc := NewReceiver(node, openRoster(t), quietLogger(), nil)

	key, err := alice.SigningKey()
	require.NoError(t, err)
	env, err := SignEnvelope(newEnvelope(aliceDID, KindPresence, nil, time.Now()), key)
	require.NoError(t, err)

	assert.ErrorIs(t, rc.Receive(context.Background(), env), ErrUnknownPeer)
}
