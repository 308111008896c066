// Package fuse exposes a replica as a read-only filesystem:
//
//	current     CID of the local revision
//	latest      CID of the shared revision
//	links.json  the rendered perspective
//	log/N       first-parent history, newest first
package fuse

import (
	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/diffsync/internal/diffsync"
)

// MountFS mounts the view of node at mountpoint. Call server.Wait() to block
// and server.Unmount() to stop.
func MountFS(mountpoint string, node *diffsync.Node, debug bool) (*gofuse.Server, error) {
	root := &RootNode{node: node}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			FsName:        "diffsync",
			Name:          "diffsync",
			DisableXAttrs: true,
			Debug:         debug,
		},
	}
	return fs.Mount(mountpoint, root, opts)
}
