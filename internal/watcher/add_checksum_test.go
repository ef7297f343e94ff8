package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddChecksum(t *testing.T) {
	t.Parallel()

	c := &fakeChecksummer{}
	s := newAddChecksum("/sync", c, nil)

	created := createdEv(KindFile, "a", 1)
	renamed := renamedEv(KindFile, "b", "c", 2)
	known := scanEv(KindFile, "d", 3)
	known.MD5Sum = "known"
	dir := createdEv(KindDirectory, "dir", 4)
	deleted := deletedEv(KindFile, "e", 5)
	incomplete := incompleteEv(modifiedEv(KindFile, "f", 6))

	out, err := s.step(context.Background(), Batch{created, renamed, known, dir, deleted, incomplete})
	require.NoError(t, err)
	assert.Len(t, out, 6)

	assert.Equal(t, "md5(a)", created.MD5Sum)
	assert.Equal(t, "md5(c)", renamed.MD5Sum)
	assert.Equal(t, "known", known.MD5Sum)
	assert.Empty(t, dir.MD5Sum)
	assert.Empty(t, deleted.MD5Sum)
	assert.Empty(t, incomplete.MD5Sum)
	assert.Equal(t, 2, c.Calls())
	assert.Equal(t, filepath.Join("/sync", "a"), c.calls[0])
}

func TestAddChecksum_Failure(t *testing.T) {
	t.Parallel()

	// Test: a failed checksum leaves the event unresolved
	s := newAddChecksum("/sync", &fakeChecksummer{err: errors.New("busy")}, nil)
	e := createdEv(KindFile, "a", 1)

	out, err := s.step(context.Background(), Batch{e})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, e.Incomplete())
	assert.Equal(t, stepAddChecksum, e.Unresolved.Step)

	// Test: cancellation aborts the batch
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.step(ctx, Batch{createdEv(KindFile, "b", 2)})
	assert.ErrorIs(t, err, context.Canceled)
}
