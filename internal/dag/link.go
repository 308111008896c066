package dag

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	gocid "github.com/ipfs/go-cid"
)

// LinkBackend stores typed, directed links between blocks.
// Links returns an empty slice, not an error, when nothing is linked.
type LinkBackend interface {
	AddLink(source, target gocid.Cid, typ string) error
	Links(source gocid.Cid, typ string) ([]gocid.Cid, error)
}

// LinkEntry is a single link record in the JSONL journal.
type LinkEntry struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// LinkIndex maintains an append-only JSONL journal and an in-memory
// forward map keyed by source.
type LinkIndex struct {
	mu      sync.RWMutex
	path    string
	forward map[string][]LinkEntry
}

// NewLinkIndex creates a LinkIndex, loading existing entries from the journal file.
func NewLinkIndex(path string) (*LinkIndex, error) {
	idx := &LinkIndex{
		path:    path,
		forward: make(map[string][]LinkEntry),
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *LinkIndex) load() error {
	f, err := os.Open(idx.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open link journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry LinkEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // torn tail write
		}
		idx.forward[entry.Source] = append(idx.forward[entry.Source], entry)
	}
	return scanner.Err()
}

// AddLink appends a link to the journal. Duplicates are ignored.
func (idx *LinkIndex) AddLink(source, target gocid.Cid, typ string) error {
	entry := LinkEntry{Source: CIDToFilename(source), Target: CIDToFilename(target), Type: typ}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, existing := range idx.forward[entry.Source] {
		if existing == entry {
			return nil
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode link entry: %w", err)
	}
	if err := SafeAppend(idx.path, append(data, '\n')); err != nil {
		return fmt.Errorf("write link entry: %w", err)
	}
	idx.forward[entry.Source] = append(idx.forward[entry.Source], entry)
	return nil
}

// Links returns the targets of every link of the given type leaving source,
// in insertion order.
func (idx *LinkIndex) Links(source gocid.Cid, typ string) ([]gocid.Cid, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []gocid.Cid
	for _, l := range idx.forward[CIDToFilename(source)] {
		if l.Type != typ {
			continue
		}
		c, err := CIDFromFilename(l.Target)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
