package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for addInfos:
// - Existing entries get their stats and kind
// - Missing entries are marked unresolved and kept
// - Deleted entries take their kind and inode from the store
// - Unknown kinds default to file when the store has no record
// - Symlinks are dropped
// - initial-scan-done is forwarded untouched

func TestAddInfos(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), []byte("foo"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	require.NoError(t, os.Symlink("file", filepath.Join(root, "link")))

	store := newFakeStore(folderDoc("gone-dir", 5))
	s := newAddInfos(root, store, newTestProvenance(t), nil)

	file := NewEvent(ActionCreated, KindUnknown, "file")
	dir := NewEvent(ActionScan, KindUnknown, "dir")
	missing := NewEvent(ActionModified, KindFile, "missing")
	goneDir := NewEvent(ActionDeleted, KindUnknown, "gone-dir")
	goneFile := NewEvent(ActionDeleted, KindUnknown, "gone-file")
	link := NewEvent(ActionCreated, KindUnknown, "link")
	done := initialScanDone()

	out, err := s.step(context.Background(), Batch{file, dir, missing, goneDir, goneFile, link, done})
	require.NoError(t, err)

	assert.Equal(t, Batch{file, dir, missing, goneDir, goneFile, done}, out)

	// Test: stats fill the kind
	require.NotNil(t, file.Stats)
	assert.Equal(t, KindFile, file.Kind)
	assert.Equal(t, int64(3), file.Stats.Size)
	assert.NotEmpty(t, file.Ino())
	assert.Equal(t, KindDirectory, dir.Kind)

	// Test: missing entries stay in the batch as unresolved
	assert.True(t, missing.Incomplete())
	assert.Equal(t, stepAddInfos, missing.Unresolved.Step)

	// Test: deletions are completed from the store
	assert.Equal(t, KindDirectory, goneDir.Kind)
	assert.Equal(t, inoKey(5), goneDir.DeletedIno)
	assert.Equal(t, KindFile, goneFile.Kind)
	assert.Empty(t, goneFile.DeletedIno)

	assert.Nil(t, done.Stats)
	assert.False(t, done.Incomplete())
}

func TestAddInfos_StoreErrorMarksUnresolved(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.lookupErr = assert.AnError
	s := newAddInfos(t.TempDir(), store, nil, nil)

	e := NewEvent(ActionDeleted, KindUnknown, "foo")
	out, err := s.step(context.Background(), Batch{e})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, e.Incomplete())
}
