package dag

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DataDirName is the directory created inside a repository root.
const DataDirName = ".diffsync"

// Repository bundles the three storage concerns of one on-disk replica.
type Repository struct {
	root   string
	Blocks Blockstore
	Refs   RefBackend
	Links  LinkBackend
	closer func() error
}

// repoMeta is written once to meta.json when a data dir is created.
type repoMeta struct {
	Version int    `json:"version"`
	Backend string `json:"backend"`
	Created string `json:"created"`
}

func prepareDataDir(root, backend string) (string, error) {
	dataDir := filepath.Join(root, DataDirName)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("create dir %s: %w", dataDir, err)
	}

	metaPath := filepath.Join(dataDir, "meta.json")
	if _, err := os.Stat(metaPath); errors.Is(err, os.ErrNotExist) {
		meta := repoMeta{Version: 1, Backend: backend, Created: time.Now().UTC().Format(time.RFC3339)}
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode meta: %w", err)
		}
		if err := SafeWrite(metaPath, data, 0644); err != nil {
			return "", fmt.Errorf("write meta: %w", err)
		}
	}
	return dataDir, nil
}

// OpenRepository opens or creates a file-backed repository at root:
//
//	.diffsync/objects/     one file per block
//	.diffsync/refs/        one JSON file per ref
//	.diffsync/links.jsonl  link journal
func OpenRepository(root string) (*Repository, error) {
	dataDir, err := prepareDataDir(root, "file")
	if err != nil {
		return nil, err
	}

	store, err := NewObjectStore(filepath.Join(dataDir, "objects"))
	if err != nil {
		return nil, err
	}
	refs, err := NewRefStore(filepath.Join(dataDir, "refs"))
	if err != nil {
		return nil, err
	}
	links, err := NewLinkIndex(filepath.Join(dataDir, "links.jsonl"))
	if err != nil {
		return nil, err
	}

	return &Repository{
		root:   root,
		Blocks: store,
		Refs:   refs,
		Links:  links,
		closer: func() error { return nil },
	}, nil
}

// OpenBadgerRepository opens or creates a repository whose blocks, refs and
// links all live in one BadgerDB under .diffsync/badger.
func OpenBadgerRepository(root string, logger *slog.Logger) (*Repository, error) {
	dataDir, err := prepareDataDir(root, "badger")
	if err != nil {
		return nil, err
	}
	db, err := OpenBadger(BadgerConfig{
		Path:       filepath.Join(dataDir, "badger"),
		SyncWrites: true,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return &Repository{
		root:   root,
		Blocks: db,
		Refs:   db,
		Links:  db,
		closer: db.Close,
	}, nil
}

// Dir returns the path to the .diffsync/ data directory.
func (r *Repository) Dir() string {
	return filepath.Join(r.root, DataDirName)
}

// Close releases any handles held by the backends.
func (r *Repository) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
