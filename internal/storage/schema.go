package storage

import (
	"database/sql"
	"fmt"
)

// CreateSchema creates the document store tables and indexes.
// It is idempotent and runs in a single transaction.
//
// Tables:
//   - docs: the current state of every known document, keyed by id
//   - revisions: a JSON snapshot of every document revision
//   - changes: the append-only change feed; its max seq is the watermark
func CreateSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	tables := []struct {
		name string
		ddl  string
	}{
		{"docs", createDocsTable},
		{"revisions", createRevisionsTable},
		{"changes", createChangesTable},
	}

	for _, table := range tables {
		if _, err := tx.Exec(table.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	for i, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return nil
}

const createDocsTable = `
CREATE TABLE IF NOT EXISTS docs (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	doc_type   TEXT NOT NULL CHECK (doc_type IN ('file', 'folder')),
	ino        INTEGER NOT NULL DEFAULT 0,
	file_id    TEXT NOT NULL DEFAULT '',
	md5sum     TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	trashed    INTEGER NOT NULL DEFAULT 0,
	move_from  TEXT NOT NULL DEFAULT '',
	local      INTEGER NOT NULL DEFAULT 0,
	rev        INTEGER NOT NULL DEFAULT 0
)`

const createRevisionsTable = `
CREATE TABLE IF NOT EXISTS revisions (
	doc_id TEXT NOT NULL,
	rev    INTEGER NOT NULL,
	data   TEXT NOT NULL,
	PRIMARY KEY (doc_id, rev)
)`

const createChangesTable = `
CREATE TABLE IF NOT EXISTS changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id     TEXT NOT NULL,
	rev        INTEGER NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	changed_at TEXT NOT NULL
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_docs_path ON docs(path)`,
	`CREATE INDEX IF NOT EXISTS idx_docs_local ON docs(local, trashed)`,
	`CREATE INDEX IF NOT EXISTS idx_changes_doc ON changes(doc_id)`,
}
