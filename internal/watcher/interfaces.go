package watcher

import (
	"context"

	"github.com/mvp-joe/tandem/internal/storage"
)

// Store is the document store as seen by the pipeline.
type Store interface {
	// ByLocalPath returns the document at a relative path, or nil.
	ByLocalPath(ctx context.Context, path string) (*storage.Metadata, error)

	// PreviousRevision returns the revision n steps before the current
	// one, or nil.
	PreviousRevision(ctx context.Context, id string, n int) (*storage.Metadata, error)

	// Lock takes the store's exclusive lock and returns its release.
	Lock(ctx context.Context, owner string) (func(), error)

	// InitialScanDocs returns the documents with local-side data.
	InitialScanDocs(ctx context.Context) ([]*storage.Metadata, error)

	// LastSeq returns the sequence number of the latest change.
	LastSeq(ctx context.Context) (int64, error)
}

// Merger applies dispatched events to the store.
type Merger interface {
	AddFile(ctx context.Context, doc *storage.Metadata) error
	PutFolder(ctx context.Context, doc *storage.Metadata) error
	UpdateFile(ctx context.Context, doc *storage.Metadata) error
	MoveFile(ctx context.Context, doc, was, overwritten *storage.Metadata) error
	MoveFolder(ctx context.Context, doc, was, overwritten *storage.Metadata) error
	TrashFile(ctx context.Context, was *storage.Metadata) error
	TrashFolder(ctx context.Context, was *storage.Metadata) error
}

// Checksummer hashes file contents.
type Checksummer interface {
	Push(ctx context.Context, absPath string) (string, error)
}

// IgnoreMatcher tells which relative paths are excluded from sync.
type IgnoreMatcher interface {
	IsIgnored(relPath string, isFolder bool) bool
}

// FlagStore persists one-shot feature flags.
type FlagStore interface {
	IsFlagActive(name string) bool
	SetFlag(name string, active bool) error
}

// RawEventType is the kind of change reported by a Backend.
type RawEventType string

const (
	RawCreate RawEventType = "create"
	RawUpdate RawEventType = "update"
	RawDelete RawEventType = "delete"
	RawRename RawEventType = "rename"
)

// RawEvent is a change as reported by the native watcher. Paths are
// absolute.
type RawEvent struct {
	Type    RawEventType
	Path    string
	OldPath string // RawRename only
	Kind    Kind
	Ino     uint64
	FileID  string
}

// Backend is the native filesystem watcher.
type Backend interface {
	// Subscribe starts watching root recursively. Batches of raw events are
	// delivered on the first channel until Unsubscribe is called or ctx
	// ends; watcher errors on the second.
	Subscribe(ctx context.Context, root string) (<-chan []RawEvent, <-chan error, error)

	// Unsubscribe stops watching and closes the subscription channels.
	Unsubscribe() error

	// Scan lists every entry under root/rel, parents before children.
	// rel itself is not included.
	Scan(ctx context.Context, root, rel string) ([]RawEvent, error)
}
