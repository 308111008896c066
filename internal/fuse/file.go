package fuse

import (
	"context"
	"hash/fnv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// stableIno returns a stable inode number for a path.
func stableIno(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return h.Sum64()
}

// genFile is a read-only file whose content is produced on every access.
type genFile struct {
	fs.Inode
	path    string
	content func(ctx context.Context) ([]byte, error)
}

var _ = (fs.NodeGetattrer)((*genFile)(nil))
var _ = (fs.NodeReader)((*genFile)(nil))
var _ = (fs.NodeOpener)((*genFile)(nil))

func (f *genFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	data, err := f.content(ctx)
	if err != nil {
		return syscall.EIO
	}
	out.Mode = 0444
	out.Size = uint64(len(data))
	out.Ino = stableIno(f.path)
	return fs.OK
}

func (f *genFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (f *genFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.content(ctx)
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(slice(data, off, len(dest))), fs.OK
}

// slice returns the window of data starting at off, at most n bytes long.
func slice(data []byte, off int64, n int) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	end := off + int64(n)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end]
}

func newFile(ctx context.Context, parent *fs.Inode, path string, content func(context.Context) ([]byte, error)) *fs.Inode {
	return parent.NewInode(ctx, &genFile{path: path, content: content}, fs.StableAttr{
		Mode: syscall.S_IFREG,
		Ino:  stableIno(path),
	})
}
