// Package merge records local changes in the document store.
//
// It is the local half of the merge layer: each operation takes the new
// metadata built from a watcher event (and the previous document when
// relevant) and turns it into store revisions. Propagating those revisions
// to the remote side is the synchronization engine's job.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mvp-joe/tandem/internal/logging"
	"github.com/mvp-joe/tandem/internal/storage"
)

// ErrDestinationExists is returned when a move targets a path already
// occupied by another document that the move did not overwrite.
var ErrDestinationExists = errors.New("move destination already exists")

// Store is the subset of the document store used by Merger.
type Store interface {
	ByID(ctx context.Context, id string) (*storage.Metadata, error)
	Descendants(ctx context.Context, path string) ([]*storage.Metadata, error)
	Put(ctx context.Context, doc *storage.Metadata) error
	Delete(ctx context.Context, id string) error
}

// Merger applies local changes to the store.
type Merger struct {
	store Store
	log   *slog.Logger
}

// New creates a Merger.
func New(store Store, logger *slog.Logger) *Merger {
	return &Merger{
		store: store,
		log:   logging.Component(logger, "Merge"),
	}
}

// AddFile records a file found or created locally.
func (m *Merger) AddFile(ctx context.Context, doc *storage.Metadata) error {
	doc.DocType = storage.DocFile
	return m.put(ctx, doc)
}

// PutFolder records a folder found, created or modified locally.
func (m *Merger) PutFolder(ctx context.Context, doc *storage.Metadata) error {
	doc.DocType = storage.DocFolder
	return m.put(ctx, doc)
}

// UpdateFile records new content for a local file.
func (m *Merger) UpdateFile(ctx context.Context, doc *storage.Metadata) error {
	doc.DocType = storage.DocFile
	return m.put(ctx, doc)
}

func (m *Merger) put(ctx context.Context, doc *storage.Metadata) error {
	prepare(doc)

	existing, err := m.store.ByID(ctx, doc.ID)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Trashed && upToDate(existing, doc) {
		m.log.Debug("up to date", "path", doc.Path)
		return nil
	}
	if existing != nil && !existing.Trashed {
		doc.MoveFrom = existing.MoveFrom
	}
	return m.store.Put(ctx, doc)
}

// MoveFile records a local file move from was to doc. When overwritten is
// not nil, the document it designates at the destination is replaced.
func (m *Merger) MoveFile(ctx context.Context, doc, was, overwritten *storage.Metadata) error {
	doc.DocType = storage.DocFile
	return m.move(ctx, doc, was, overwritten)
}

// MoveFolder records a local folder move and moves every descendant along.
func (m *Merger) MoveFolder(ctx context.Context, doc, was, overwritten *storage.Metadata) error {
	doc.DocType = storage.DocFolder

	children, err := m.store.Descendants(ctx, was.Path)
	if err != nil {
		return err
	}
	if err := m.move(ctx, doc, was, overwritten); err != nil {
		return err
	}

	for _, child := range children {
		dst := child.Clone()
		dst.Path = doc.Path + strings.TrimPrefix(child.Path, was.Path)
		dst.ID = ""
		if err := m.move(ctx, dst, child, nil); err != nil {
			return fmt.Errorf("failed to move %s along with its parent: %w", child.Path, err)
		}
	}
	return nil
}

func (m *Merger) move(ctx context.Context, doc, was, overwritten *storage.Metadata) error {
	prepare(doc)
	doc.MoveFrom = was.Path

	if doc.ID != was.ID {
		existing, err := m.store.ByID(ctx, doc.ID)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Trashed {
			if overwritten == nil || overwritten.ID != existing.ID {
				return fmt.Errorf("%w: %s", ErrDestinationExists, doc.Path)
			}
			m.log.Debug("overwriting", "path", doc.Path)
		}
		if err := m.store.Delete(ctx, was.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	m.log.Debug("moved", "from", was.Path, "to", doc.Path)
	return m.store.Put(ctx, doc)
}

// TrashFile marks a locally deleted file as trashed.
func (m *Merger) TrashFile(ctx context.Context, was *storage.Metadata) error {
	return m.trash(ctx, was)
}

// TrashFolder marks a locally deleted folder and its descendants as
// trashed.
func (m *Merger) TrashFolder(ctx context.Context, was *storage.Metadata) error {
	children, err := m.store.Descendants(ctx, was.Path)
	if err != nil {
		return err
	}
	// Deepest first.
	for i := len(children) - 1; i >= 0; i-- {
		if children[i].Trashed {
			continue
		}
		if err := m.trash(ctx, children[i]); err != nil {
			return err
		}
	}
	return m.trash(ctx, was)
}

func (m *Merger) trash(ctx context.Context, was *storage.Metadata) error {
	doc := was.Clone()
	doc.Trashed = true
	doc.MoveFrom = ""
	m.log.Debug("trashed", "path", doc.Path)
	return m.store.Put(ctx, doc)
}

func prepare(doc *storage.Metadata) {
	if doc.ID == "" {
		doc.ID = storage.IDFor(doc.Path)
	}
	doc.Local = true
	doc.Trashed = false
}

func upToDate(existing, doc *storage.Metadata) bool {
	return existing.Path == doc.Path &&
		existing.DocType == doc.DocType &&
		existing.Ino == doc.Ino &&
		existing.FileID == doc.FileID &&
		existing.MD5Sum == doc.MD5Sum &&
		existing.Size == doc.Size &&
		existing.UpdatedAt.Equal(doc.UpdatedAt) &&
		existing.Local
}
