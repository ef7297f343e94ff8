// Package storage persists the synchronized documents in SQLite.
//
// The store keeps the current metadata of every document, a JSON snapshot
// of each revision and an append-only change feed. It also owns the
// exclusive lock that serializes local merges with the synchronization
// engine.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mvp-joe/tandem/internal/logging"
)

// ErrNotFound is returned by mutations targeting a missing document.
var ErrNotFound = errors.New("document not found")

var docColumns = []string{
	"id", "path", "doc_type", "ino", "file_id", "md5sum", "size",
	"updated_at", "trashed", "move_from", "local", "rev",
}

// Store is the SQLite document store.
type Store struct {
	db  *sql.DB
	sem chan struct{}
	log *slog.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the schema.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	// One connection keeps in-memory databases shared and writes serialized.
	db.SetMaxOpenConns(1)
	if err := CreateSchema(db); err != nil {
		return nil, err
	}
	return &Store{
		db:  db,
		sem: make(chan struct{}, 1),
		log: logging.Component(logger, "Store"),
		now: time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lock takes the store's exclusive lock. The returned release function is
// idempotent.
func (s *Store) Lock(ctx context.Context, owner string) (func(), error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.log.Debug("lock acquired", "owner", owner)

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			s.log.Debug("lock released", "owner", owner)
		})
	}, nil
}

// ByID returns the document with the given id.
// Returns (nil, nil) if it does not exist.
func (s *Store) ByID(ctx context.Context, id string) (*Metadata, error) {
	row := sq.Select(docColumns...).
		From("docs").
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx)

	doc, err := scanDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doc %s: %w", id, err)
	}
	return doc, nil
}

// ByLocalPath returns the document at the given relative path.
// Returns (nil, nil) if it does not exist.
func (s *Store) ByLocalPath(ctx context.Context, p string) (*Metadata, error) {
	return s.ByID(ctx, IDFor(p))
}

// Descendants returns every document under the folder at p, sorted by path.
func (s *Store) Descendants(ctx context.Context, p string) ([]*Metadata, error) {
	prefix := IDFor(p) + "/"
	// "0" sorts right after "/", which bounds the prefix range.
	upper := IDFor(p) + "0"

	return s.queryDocs(ctx, sq.Select(docColumns...).
		From("docs").
		Where(sq.And{sq.Gt{"id": prefix}, sq.Lt{"id": upper}}).
		OrderBy("path"))
}

// InitialScanDocs returns the documents known on the local side, which
// the watcher expects to find during its initial scan.
func (s *Store) InitialScanDocs(ctx context.Context) ([]*Metadata, error) {
	return s.queryDocs(ctx, sq.Select(docColumns...).
		From("docs").
		Where(sq.Eq{"local": true, "trashed": false}).
		Where(sq.Or{sq.NotEq{"ino": 0}, sq.NotEq{"file_id": ""}}).
		OrderBy("path"))
}

// All returns every document, sorted by path.
func (s *Store) All(ctx context.Context) ([]*Metadata, error) {
	return s.queryDocs(ctx, sq.Select(docColumns...).From("docs").OrderBy("path"))
}

func (s *Store) queryDocs(ctx context.Context, q sq.SelectBuilder) ([]*Metadata, error) {
	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query docs: %w", err)
	}
	defer rows.Close()

	var docs []*Metadata
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan doc: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// PreviousRevision returns the document as it was n revisions ago.
// Returns (nil, nil) if that revision does not exist.
func (s *Store) PreviousRevision(ctx context.Context, id string, n int) (*Metadata, error) {
	var current int64
	err := sq.Select("COALESCE(MAX(rev), 0)").
		From("revisions").
		Where(sq.Eq{"doc_id": id}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("failed to get current revision of %s: %w", id, err)
	}

	var data string
	err = sq.Select("data").
		From("revisions").
		Where(sq.Eq{"doc_id": id, "rev": current - int64(n)}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revision of %s: %w", id, err)
	}

	doc := &Metadata{}
	if err := json.Unmarshal([]byte(data), doc); err != nil {
		return nil, fmt.Errorf("failed to decode revision of %s: %w", id, err)
	}
	return doc, nil
}

// Put saves a new revision of doc. The id is derived from the path when
// empty; Rev and Seq are updated in place.
func (s *Store) Put(ctx context.Context, doc *Metadata) error {
	if doc.ID == "" {
		doc.ID = IDFor(doc.Path)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	var current int64
	err = sq.Select("COALESCE(MAX(rev), 0)").
		From("revisions").
		Where(sq.Eq{"doc_id": doc.ID}).
		RunWith(tx).
		QueryRowContext(ctx).
		Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to get current revision of %s: %w", doc.Path, err)
	}
	doc.Rev = current + 1

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", doc.Path, err)
	}
	if _, err := sq.Insert("revisions").
		Columns("doc_id", "rev", "data").
		Values(doc.ID, doc.Rev, string(data)).
		RunWith(tx).
		ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to write revision of %s: %w", doc.Path, err)
	}

	if _, err := sq.Insert("docs").
		Columns(docColumns...).
		Values(
			doc.ID,
			doc.Path,
			string(doc.DocType),
			int64(doc.Ino),
			doc.FileID,
			doc.MD5Sum,
			doc.Size,
			doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
			doc.Trashed,
			doc.MoveFrom,
			doc.Local,
			doc.Rev,
		).
		Options("OR REPLACE").
		RunWith(tx).
		ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to write doc %s: %w", doc.Path, err)
	}

	seq, err := s.appendChange(ctx, tx, doc.ID, doc.Rev, false)
	if err != nil {
		return err
	}
	doc.Seq = seq

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", doc.Path, err)
	}
	return nil
}

// Delete removes the document with the given id. Its revisions are kept so
// PreviousRevision keeps working.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	res, err := sq.Delete("docs").
		Where(sq.Eq{"id": id}).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete doc %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := s.appendChange(ctx, tx, id, 0, true); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion of %s: %w", id, err)
	}
	return nil
}

func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, id string, rev int64, deleted bool) (int64, error) {
	res, err := sq.Insert("changes").
		Columns("doc_id", "rev", "deleted", "changed_at").
		Values(id, rev, deleted, s.now().UTC().Format(time.RFC3339Nano)).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to append change for %s: %w", id, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read change seq for %s: %w", id, err)
	}
	return seq, nil
}

// LastSeq returns the sequence number of the latest change, 0 when empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := sq.Select("COALESCE(MAX(seq), 0)").
		From("changes").
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read last seq: %w", err)
	}
	return seq, nil
}

// Counts summarizes the store content.
type Counts struct {
	Files   int
	Folders int
	Trashed int
}

// Count returns document counts. Trashed documents are only counted in
// Trashed.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	rows, err := sq.Select("doc_type", "trashed", "COUNT(*)").
		From("docs").
		GroupBy("doc_type", "trashed").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count docs: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var (
			docType string
			trashed bool
			n       int
		)
		if err := rows.Scan(&docType, &trashed, &n); err != nil {
			return Counts{}, fmt.Errorf("failed to scan counts: %w", err)
		}
		switch {
		case trashed:
			c.Trashed += n
		case DocType(docType) == DocFolder:
			c.Folders += n
		default:
			c.Files += n
		}
	}
	return c, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row rowScanner) (*Metadata, error) {
	var (
		doc       Metadata
		docType   string
		ino       int64
		updatedAt string
	)
	err := row.Scan(
		&doc.ID,
		&doc.Path,
		&docType,
		&ino,
		&doc.FileID,
		&doc.MD5Sum,
		&doc.Size,
		&updatedAt,
		&doc.Trashed,
		&doc.MoveFrom,
		&doc.Local,
		&doc.Rev,
	)
	if err != nil {
		return nil, err
	}
	doc.DocType = DocType(docType)
	doc.Ino = uint64(ino)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &doc, nil
}
