// Package peers tracks the replicas this node talks to and carries commit
// signals between them over websockets.
package peers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systemshift/diffsync/internal/dag"
)

// Roster errors.
var (
	// ErrInvalidDID means the identifier is not an Ed25519 did:key.
	ErrInvalidDID = errors.New("invalid DID format")

	// ErrPeerExists is returned when adding a DID twice.
	ErrPeerExists = errors.New("peer already in roster")

	// ErrUnknownPeer means no peer matches the given DID or alias.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Peer is one entry of the roster.
type Peer struct {
	DID      string    `json:"did"`
	Alias    string    `json:"alias,omitempty"`
	URL      string    `json:"url,omitempty"`
	AddedAt  time.Time `json:"added_at"`
	LastSeen time.Time `json:"last_seen"`
}

// Label returns the alias, or the tail of the DID when there is none.
func (p Peer) Label() string {
	if p.Alias != "" {
		return p.Alias
	}
	if len(p.DID) > 12 {
		return p.DID[len(p.DID)-12:]
	}
	return p.DID
}

// Roster is the persisted list of known peers. It is safe for concurrent
// use; every mutation is written through to the roster file.
type Roster struct {
	mu    sync.Mutex
	path  string
	peers []Peer
	now   func() time.Time
}

// OpenRoster loads the roster file at path. A missing file is an empty
// roster.
func OpenRoster(path string) (*Roster, error) {
	r := &Roster{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	if err := json.Unmarshal(data, &r.peers); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	return r, nil
}

// commit writes peers to disk and only then makes them the in-memory
// roster, so a failed write leaves both unchanged.
func (r *Roster) commit(peers []Peer) error {
	data, err := json.MarshalIndent(peers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	if err := dag.SafeWrite(r.path, data, 0644, dag.CreateDirs(0755), dag.SyncDir()); err != nil {
		return fmt.Errorf("save roster: %w", err)
	}
	r.peers = peers
	return nil
}

func (r *Roster) find(didOrAlias string) int {
	for i, p := range r.peers {
		if p.DID == didOrAlias || (p.Alias != "" && p.Alias == didOrAlias) {
			return i
		}
	}
	return -1
}

// Add registers a peer. If alias is empty a petname is generated.
func (r *Roster) Add(did, alias, url string) (Peer, error) {
	if !strings.HasPrefix(did, "did:key:z") {
		return Peer{}, fmt.Errorf("%w: %s", ErrInvalidDID, did)
	}
	if _, err := dag.DecodeDIDKey(did); err != nil {
		return Peer{}, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(did) >= 0 {
		return Peer{}, fmt.Errorf("%w: %s", ErrPeerExists, did)
	}
	if alias == "" {
		alias = PetnameFromDID(did)
	}
	p := Peer{DID: did, Alias: alias, URL: url, AddedAt: r.now().UTC()}
	next := append(append(make([]Peer, 0, len(r.peers)+1), r.peers...), p)
	if err := r.commit(next); err != nil {
		return Peer{}, err
	}
	return p, nil
}

// Remove drops the peer matching a DID or alias.
func (r *Roster) Remove(didOrAlias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.find(didOrAlias)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, didOrAlias)
	}
	next := append(append(make([]Peer, 0, len(r.peers)-1), r.peers[:i]...), r.peers[i+1:]...)
	return r.commit(next)
}

// Get returns the peer matching a DID or alias.
func (r *Roster) Get(didOrAlias string) (Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.find(didOrAlias)
	if i < 0 {
		return Peer{}, fmt.Errorf("%w: %s", ErrUnknownPeer, didOrAlias)
	}
	return r.peers[i], nil
}

// List returns every peer ordered by alias.
func (r *Roster) List() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]Peer(nil), r.peers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out
}

// Touch records that a peer was heard from at the given time.
func (r *Roster) Touch(did string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.find(did)
	if i < 0 || r.peers[i].DID != did {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, did)
	}
	if !at.After(r.peers[i].LastSeen) {
		return nil
	}
	next := append([]Peer(nil), r.peers...)
	next[i].LastSeen = at.UTC()
	return r.commit(next)
}

// Active returns the peers seen within the window before now. A peer that
// has never been seen is not active.
func (r *Roster) Active(window time.Duration, now time.Time) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Peer
	for _, p := range r.peers {
		if !p.LastSeen.IsZero() && now.Sub(p.LastSeen) <= window {
			out = append(out, p)
		}
	}
	return out
}
