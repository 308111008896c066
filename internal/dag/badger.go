package dag

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	gocid "github.com/ipfs/go-cid"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM; used by tests.
	InMemory bool

	// SyncWrites fsyncs every transaction.
	SyncWrites bool

	// Logger receives badger's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// BadgerStore is an embedded key-value backend implementing Blockstore,
// RefBackend and LinkBackend in a single database.
//
// Key layout:
//
//	b/<cid>                      block bytes
//	r/<name>                     JSON ref record
//	l/<source>/<type>/<target>   empty value
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (creating if needed) a BadgerStore.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func blockKey(c gocid.Cid) []byte {
	return append([]byte("b/"), c.Bytes()...)
}

func refKey(name string) []byte {
	return []byte("r/" + name)
}

func linkPrefix(source gocid.Cid, typ string) []byte {
	return []byte("l/" + CIDToFilename(source) + "/" + typ + "/")
}

func (s *BadgerStore) Put(data []byte) (gocid.Cid, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return gocid.Undef, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(c), data)
	})
	if err != nil {
		return gocid.Undef, fmt.Errorf("put block %s: %w", c, err)
	}
	return c, nil
}

func (s *BadgerStore) Get(c gocid.Cid) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(c))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("object %s: %w", c, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", c, err)
	}
	return out, nil
}

func (s *BadgerStore) Has(c gocid.Cid) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(c))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat block %s: %w", c, err)
	}
	return true, nil
}

func (s *BadgerStore) SetRef(name string, ref Ref) error {
	data, err := EncodeRef(ref)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(refKey(name), data)
	})
}

func (s *BadgerStore) GetRef(name string) (Ref, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Ref{}, fmt.Errorf("ref %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Ref{}, fmt.Errorf("get ref %s: %w", name, err)
	}
	return DecodeRef(data)
}

func (s *BadgerStore) AddLink(source, target gocid.Cid, typ string) error {
	key := append(linkPrefix(source, typ), CIDToFilename(target)...)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, nil)
	})
}

// Links returns link targets ordered by key, which for badger means by
// encoded target CID rather than insertion order.
func (s *BadgerStore) Links(source gocid.Cid, typ string) ([]gocid.Cid, error) {
	prefix := linkPrefix(source, typ)
	var out []gocid.Cid
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			c, err := CIDFromFilename(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list links %s: %w", source, err)
	}
	return out, nil
}
