package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for identicalRenaming:
// - Renames reported with path == oldPath get their old path from the store
// - Deletions of the old spelling are ignored, within or across batches,
//   whatever the case or Unicode normalization
// - Batches without deletions go through at once
// - Events from the first deletion on are held until the deadline
// - Store errors do not block the batch

const testIdenticalDelay = 100 * time.Millisecond

func newTestIdenticalRenaming(t *testing.T, store Store) *identicalRenaming {
	t.Helper()
	return newIdenticalRenaming(&IdenticalRenamingState{}, testIdenticalDelay, store, newTestProvenance(t), nil)
}

func TestIdenticalRenaming_FixesOldPath(t *testing.T) {
	t.Parallel()

	// The store resolves both spellings to the same document.
	store := newFakeStore()
	store.docs["FOO"] = fileDoc("foo", 1, "sum")
	s := newTestIdenticalRenaming(t, store)

	renamed := renamedEv(KindFile, "FOO", "FOO", 1)
	out, err := s.onBatch(context.Background(), Batch{renamed}, testTime)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"renamed file foo -> FOO"}}, describeBatches(out))
	n, ok := s.prov.Find(renamed, stepIdenticalRenaming, "oldPathBeforeFix")
	require.True(t, ok)
	assert.Equal(t, "FOO", n.Value)
}

func TestIdenticalRenaming_IgnoresDeletionOfOldSpelling(t *testing.T) {
	t.Parallel()

	s := newTestIdenticalRenaming(t, newFakeStore())

	// Test: the deletion is held
	out, err := s.onBatch(context.Background(), Batch{deletedEv(KindFile, "café", 1)}, testTime)
	require.NoError(t, err)
	assert.Empty(t, out)

	deadline, ok := s.nextDeadline()
	require.True(t, ok)
	assert.Equal(t, testTime.Add(testIdenticalDelay), deadline)

	// Test: the rename to another spelling ignores it and releases both
	out, err = s.onBatch(context.Background(), Batch{renamedEv(KindFile, "café", "CAFÉ", 1)}, testTime.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{
		"ignored file café",
		"renamed file café -> CAFÉ",
	}}, describeBatches(out))

	_, ok = s.nextDeadline()
	assert.False(t, ok)
}

func TestIdenticalRenaming_SameBatch(t *testing.T) {
	t.Parallel()

	s := newTestIdenticalRenaming(t, newFakeStore())
	out, err := s.onBatch(context.Background(), Batch{
		createdEv(KindFile, "first", 1),
		deletedEv(KindDirectory, "dir", 2),
		renamedEv(KindDirectory, "dir", "Dir", 2),
	}, testTime)
	require.NoError(t, err)

	// Test: a deletion already ignored by the rename is not held
	assert.Equal(t, [][]string{{
		"created file first",
		"ignored directory dir",
		"renamed directory dir -> Dir",
	}}, describeBatches(out))

	_, ok := s.nextDeadline()
	assert.False(t, ok)
}

func TestIdenticalRenaming_StoreError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.lookupErr = assert.AnError
	s := newTestIdenticalRenaming(t, store)

	out, err := s.onBatch(context.Background(), Batch{renamedEv(KindFile, "a", "a", 1)}, testTime)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"renamed file a -> a"}}, describeBatches(out))
}
