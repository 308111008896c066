package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/diffsync/internal/diffsync"
)

// RootNode is the mountpoint directory.
type RootNode struct {
	fs.Inode
	node *diffsync.Node
}

var _ = (fs.NodeOnAdder)((*RootNode)(nil))
var _ = (fs.NodeGetattrer)((*RootNode)(nil))

func (r *RootNode) OnAdd(ctx context.Context) {
	r.addFile(ctx, "current", func(context.Context) ([]byte, error) {
		return revisionBytes(r.node.CurrentRevision)
	})
	r.addFile(ctx, "latest", func(context.Context) ([]byte, error) {
		return revisionBytes(r.node.LatestRevision)
	})
	r.addFile(ctx, "links.json", func(ctx context.Context) ([]byte, error) {
		return linksBytes(ctx, r.node)
	})

	logInode := r.NewPersistentInode(ctx, &LogDir{node: r.node}, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno("log"),
	})
	r.AddChild("log", logInode, true)
}

func (r *RootNode) addFile(ctx context.Context, name string, content func(context.Context) ([]byte, error)) {
	inode := r.NewPersistentInode(ctx, &genFile{path: name, content: content}, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno(name),
	})
	r.AddChild(name, inode, true)
}

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("/")
	return fs.OK
}
