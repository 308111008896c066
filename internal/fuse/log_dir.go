package fuse

import (
	"context"
	"strconv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/diffsync/internal/diffsync"
)

// LogDir lists the first-parent history of the current revision.
// log/0 is the current revision, log/1 its first parent, and so on.
type LogDir struct {
	fs.Inode
	node *diffsync.Node
}

var _ = (fs.NodeLookuper)((*LogDir)(nil))
var _ = (fs.NodeReaddirer)((*LogDir)(nil))
var _ = (fs.NodeGetattrer)((*LogDir)(nil))

func (d *LogDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("log")
	return fs.OK
}

func (d *LogDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	history, err := diffsync.History(d.node.Retriever(), maxLogEntries)
	if err != nil {
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, len(history))
	for i := range history {
		name := strconv.Itoa(i)
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFREG,
			Ino:  stableIno("log/" + name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *LogDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 0 || idx >= maxLogEntries {
		return nil, syscall.ENOENT
	}
	history, err := diffsync.History(d.node.Retriever(), idx+1)
	if err != nil {
		return nil, syscall.EIO
	}
	if idx >= len(history) {
		return nil, syscall.ENOENT
	}

	// Pin the entry found now; the name keeps pointing at it even if the
	// current revision moves while the file is open.
	data, err := indentJSON(newLogEntry(history[idx]))
	if err != nil {
		return nil, syscall.EIO
	}
	return newFile(ctx, &d.Inode, "log/"+name, func(context.Context) ([]byte, error) {
		return data, nil
	}), fs.OK
}
