package dag

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type writeConfig struct {
	syncDir    bool
	createDirs bool
	dirPerm    os.FileMode
}

// WriteOption tunes SafeWrite.
type WriteOption func(*writeConfig)

// SyncDir fsyncs the parent directory after the rename so the new directory
// entry itself survives a crash. Refs and the peer roster use it.
func SyncDir() WriteOption {
	return func(c *writeConfig) { c.syncDir = true }
}

// CreateDirs creates missing parent directories with the given mode.
func CreateDirs(perm os.FileMode) WriteOption {
	return func(c *writeConfig) {
		c.createDirs = true
		c.dirPerm = perm
	}
}

// SafeWrite replaces path with data without ever exposing a partial file.
// The data lands in a sibling temp file that is synced and then renamed
// over path.
func SafeWrite(path string, data []byte, perm os.FileMode, opts ...WriteOption) error {
	var cfg writeConfig
	for _, o := range opts {
		o(&cfg)
	}
	dir := filepath.Dir(path)
	if cfg.createDirs {
		if err := os.MkdirAll(dir, cfg.dirPerm); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	tmp, err := writeTemp(dir, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if cfg.syncDir {
		return syncDir(dir)
	}
	return nil
}

// writeTemp stores data in a synced temp file inside dir and returns its
// name. Nothing is left behind on failure.
func writeTemp(dir string, data []byte, perm os.FileMode) (name string, err error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	name = f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(name)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err = f.Chmod(perm); err != nil {
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}
	if err = f.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return name, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// SafeAppend appends one record to a journal and syncs it. Creating the
// journal also syncs its directory.
func SafeAppend(path string, data []byte) error {
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if created {
		return syncDir(filepath.Dir(path))
	}
	return nil
}
