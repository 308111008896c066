package diffsync

import "errors"

// Storage errors.
var (
	// ErrNotFound means an entry or ref that was required is absent.
	ErrNotFound = errors.New("entry not found")

	// ErrDecode means an entry exists but does not have the expected shape.
	ErrDecode = errors.New("entry has unexpected shape")
)

// Reconciliation errors.
var (
	// ErrNoCommonAncestorFound means two revisions share no root.
	// Pull recovers from it with a union merge.
	ErrNoCommonAncestorFound = errors.New("no common ancestor found")

	// ErrNoCurrentRevision is returned by Render on an empty history.
	ErrNoCurrentRevision = errors.New("can't render when we have no current revision")

	// ErrInternal marks a broken invariant inside the workspace.
	ErrInternal = errors.New("internal error")
)
