package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Producer:
// - Start scans the folder one directory per batch, then pushes the barrier
// - Live events map to pipeline actions once the initial scan is done
// - The root, temporary entries and ignored paths never enter the pipeline
// - Renames from outside the folder become creations
// - Suspend and Resume re-subscribe to the backend
// - Scan errors fail Start

func testRoot() string {
	return filepath.Join(string(filepath.Separator), "sync")
}

func underRoot(rel string) string {
	return filepath.Join(testRoot(), filepath.FromSlash(rel))
}

func newTestProducer(t *testing.T, backend Backend, ignore IgnoreMatcher) (*Producer, <-chan Notification) {
	t.Helper()
	notifier := NewNotifier()
	t.Cleanup(notifier.Close)
	notes, _ := notifier.Subscribe(16)
	p := NewProducer(testRoot(), backend, ignore, notifier, nil)
	t.Cleanup(func() { _ = p.Stop() })
	return p, notes
}

func TestProducer_Start(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.scans[""] = []RawEvent{
		{Type: RawCreate, Path: underRoot("a"), Kind: KindDirectory, Ino: 1},
		{Type: RawCreate, Path: underRoot("a/b"), Kind: KindFile, Ino: 2},
		{Type: RawCreate, Path: underRoot("c"), Kind: KindFile, Ino: 3},
		{Type: RawCreate, Path: underRoot(TmpDirPrefix + "/x"), Kind: KindFile, Ino: 4},
	}
	p, notes := newTestProducer(t, backend, nil)

	require.NoError(t, p.Start(context.Background()))

	c := p.Channel()
	assert.Equal(t, []string{"scan directory a", "scan file c"}, describe(popWithin(t, c, time.Second)...))
	assert.Equal(t, []string{"scan file a/b"}, describe(popWithin(t, c, time.Second)...))
	assert.Equal(t, []string{"initial-scan-done unknown ."}, describe(popWithin(t, c, time.Second)...))
	assert.Zero(t, c.Len())

	assert.Equal(t, NotifyBufferingStart, (<-notes).Type)
	assert.Equal(t, NotifyBufferingEnd, (<-notes).Type)
	assert.Equal(t, 1, backend.subscriptions())
}

func TestProducer_LiveEvents(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	p, _ := newTestProducer(t, backend, fakeIgnore{"ignored"})
	require.NoError(t, p.Start(context.Background()))
	c := p.Channel()
	popWithin(t, c, time.Second) // barrier

	require.NoError(t, backend.emit(
		RawEvent{Type: RawCreate, Path: underRoot("new"), Kind: KindFile},
		RawEvent{Type: RawUpdate, Path: underRoot("new"), Kind: KindFile},
		RawEvent{Type: RawDelete, Path: underRoot("old"), Kind: KindFile, Ino: 7},
		RawEvent{Type: RawRename, OldPath: underRoot("a"), Path: underRoot("b"), Kind: KindDirectory},
		RawEvent{Type: RawRename, OldPath: "/elsewhere/c", Path: underRoot("c"), Kind: KindFile},
		RawEvent{Type: RawRename, OldPath: underRoot("ignored/d"), Path: underRoot("d"), Kind: KindFile},
		RawEvent{Type: RawCreate, Path: underRoot("ignored/e"), Kind: KindFile},
		RawEvent{Type: RawCreate, Path: underRoot("x/" + TmpDirPrefix + "-1/f"), Kind: KindFile},
		RawEvent{Type: RawUpdate, Path: testRoot(), Kind: KindDirectory},
		RawEvent{Type: RawCreate, Path: "/elsewhere/g", Kind: KindFile},
	))

	b := popWithin(t, c, time.Second)
	assert.Equal(t, []string{
		"created file new",
		"modified file new",
		"deleted file old",
		"renamed directory a -> b",
		"created file c",
		"renamed file ignored/d -> d",
	}, describe(b...))
	assert.Equal(t, inoKey(7), b[2].DeletedIno)
}

func TestProducer_ScanAfterStart(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.scans["dir"] = []RawEvent{
		{Type: RawCreate, Path: underRoot("dir/a"), Kind: KindFile},
	}
	p, _ := newTestProducer(t, backend, nil)
	require.NoError(t, p.Start(context.Background()))
	popWithin(t, p.Channel(), time.Second) // barrier

	// Test: explicit scans still report scan events
	require.NoError(t, p.Scan(context.Background(), "dir"))
	assert.Equal(t, []string{"scan file dir/a"}, describe(popWithin(t, p.Channel(), time.Second)...))
}

func TestProducer_SuspendResume(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	p, _ := newTestProducer(t, backend, nil)
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Suspend())
	assert.Error(t, backend.emit(RawEvent{Type: RawCreate, Path: underRoot("a")}))

	require.NoError(t, p.Resume(context.Background()))
	require.NoError(t, p.Resume(context.Background()))
	assert.Equal(t, 2, backend.subscriptions())
}

func TestProducer_ScanError(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.scanErr = assert.AnError
	p, _ := newTestProducer(t, backend, nil)

	assert.ErrorIs(t, p.Start(context.Background()), assert.AnError)
}
