package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/tandem/internal/config"
	"github.com/mvp-joe/tandem/internal/daemon"
	"github.com/mvp-joe/tandem/internal/storage"
)

// Test plan for the folder and status helpers:
// 1. resolveDir defaults to the working directory and rejects files
// 2. openFolder creates the state directory and wires a watcher
// 3. collectStatus reports counts, sequence, lock and flags
// 4. formatStatus and the JSON report
// 5. formatNumber

func openTestFolder(t *testing.T) *folder {
	t.Helper()
	f, err := openFolder(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestResolveDir(t *testing.T) {
	t.Parallel()

	wd, err := os.Getwd()
	require.NoError(t, err)
	got, err := resolveDir("")
	require.NoError(t, err)
	assert.Equal(t, wd, got)

	dir := t.TempDir()
	got, err = resolveDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = resolveDir(file)
	assert.ErrorContains(t, err, "not a directory")

	_, err = resolveDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestOpenFolder(t *testing.T) {
	t.Parallel()

	f := openTestFolder(t)
	assert.FileExists(t, f.cfg.DBPath())
	assert.DirExists(t, f.stateDir())

	w, err := f.newWatcher()
	require.NoError(t, err)
	assert.NotNil(t, w.Notifier())

	// Test: Close is safe to call twice
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
}

func TestCollectStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := openTestFolder(t)

	report, err := collectStatus(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, &statusReport{Folder: f.cfg.Sync.Path}, report)

	// Test: documents, lock and flags are reported
	require.NoError(t, f.store.Put(ctx, &storage.Metadata{Path: "a.txt", DocType: storage.DocFile}))
	require.NoError(t, f.store.Put(ctx, &storage.Metadata{Path: "dir", DocType: storage.DocFolder}))
	require.NoError(t, f.flags.SetFlag(config.FlagDateMigration, true))

	singleton := daemon.NewSingleton(f.stateDir())
	require.NoError(t, singleton.Acquire())
	t.Cleanup(func() { _ = singleton.Release() })

	report, err = collectStatus(ctx, f)
	require.NoError(t, err)
	assert.True(t, report.Watching)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.Folders)
	assert.Equal(t, int64(2), report.LastSeq)
	assert.True(t, report.DateMigration)
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()

	report := &statusReport{
		Folder:        "/home/me/Sync",
		Watching:      true,
		Files:         12345,
		Folders:       12,
		LastSeq:       99,
		DateMigration: true,
	}

	var out bytes.Buffer
	formatStatus(&out, report)
	assert.Contains(t, out.String(), "Folder: /home/me/Sync")
	assert.Contains(t, out.String(), "Status:   watching")
	assert.Contains(t, out.String(), "Files:    12,345")
	assert.Contains(t, out.String(), "Last seq: 99")
	assert.Contains(t, out.String(), "date migration")

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"folder": "/home/me/Sync",
		"watching": true,
		"files": 12345,
		"folders": 12,
		"trashed": 0,
		"last_seq": 99,
		"date_migration": true
	}`, string(data))
}

func TestFormatNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4200, "-4,200"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatNumber(tt.n))
	}
}
