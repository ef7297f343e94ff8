package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/tandem/internal/stater"
	"github.com/mvp-joe/tandem/internal/storage"
)

var testTime = time.Date(2024, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

func fileStats(ino uint64) *stater.Stats {
	return &stater.Stats{Ino: ino, Size: 3, Mode: 0o644, Mtime: testTime, Ctime: testTime}
}

func dirStats(ino uint64) *stater.Stats {
	return &stater.Stats{Ino: ino, Mode: fs.ModeDir | 0o755, Mtime: testTime, Ctime: testTime}
}

func statsFor(kind Kind, ino uint64) *stater.Stats {
	if kind == KindDirectory {
		return dirStats(ino)
	}
	return fileStats(ino)
}

func inoKey(ino uint64) stater.InodeKey {
	return stater.KeyFor("", ino)
}

func newEvent(action Action, kind Kind, p string, ino uint64) *Event {
	e := NewEvent(action, kind, p)
	if ino != 0 {
		e.Stats = statsFor(kind, ino)
	}
	return e
}

func createdEv(kind Kind, p string, ino uint64) *Event {
	return newEvent(ActionCreated, kind, p, ino)
}

func scanEv(kind Kind, p string, ino uint64) *Event {
	return newEvent(ActionScan, kind, p, ino)
}

func modifiedEv(kind Kind, p string, ino uint64) *Event {
	return newEvent(ActionModified, kind, p, ino)
}

func renamedEv(kind Kind, oldPath, p string, ino uint64) *Event {
	e := newEvent(ActionRenamed, kind, p, ino)
	e.OldPath = oldPath
	return e
}

func deletedEv(kind Kind, p string, ino uint64) *Event {
	e := NewEvent(ActionDeleted, kind, p)
	e.DeletedIno = inoKey(ino)
	return e
}

func incompleteEv(e *Event) *Event {
	e.Unresolved = &Unresolved{Step: stepAddInfos, Reason: "no such file or directory"}
	e.Stats = nil
	return e
}

// describe renders events for assertions.
func describe(events ...*Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.String())
	}
	return out
}

func describeBatches(batches []Batch) [][]string {
	out := make([][]string, 0, len(batches))
	for _, b := range batches {
		out = append(out, describe(b...))
	}
	return out
}

func fileDoc(p string, ino uint64, md5 string) *storage.Metadata {
	return &storage.Metadata{
		ID:        storage.IDFor(p),
		Path:      p,
		DocType:   storage.DocFile,
		Ino:       ino,
		MD5Sum:    md5,
		UpdatedAt: testTime.Truncate(time.Millisecond),
		Local:     true,
	}
}

func folderDoc(p string, ino uint64) *storage.Metadata {
	return &storage.Metadata{
		ID:        storage.IDFor(p),
		Path:      p,
		DocType:   storage.DocFolder,
		Ino:       ino,
		UpdatedAt: testTime.Truncate(time.Millisecond),
		Local:     true,
	}
}

func newTestProvenance(t *testing.T) *Provenance {
	t.Helper()
	p, err := NewProvenance(1000)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

// fakeStore is an in-memory Store keyed by path.
type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]*storage.Metadata
	previous  map[string]*storage.Metadata
	seq       int64
	lookupErr error
	seqErr    error
	locked    int
}

func newFakeStore(docs ...*storage.Metadata) *fakeStore {
	s := &fakeStore{
		docs:     make(map[string]*storage.Metadata),
		previous: make(map[string]*storage.Metadata),
	}
	for _, d := range docs {
		s.docs[d.Path] = d
	}
	return s
}

func (s *fakeStore) ByLocalPath(_ context.Context, p string) (*storage.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if d, ok := s.docs[p]; ok {
		return d.Clone(), nil
	}
	return nil, nil
}

func (s *fakeStore) PreviousRevision(_ context.Context, id string, n int) (*storage.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n != 1 {
		return nil, nil
	}
	return s.previous[id], nil
}

func (s *fakeStore) Lock(_ context.Context, _ string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.locked--
	}, nil
}

func (s *fakeStore) InitialScanDocs(_ context.Context) ([]*storage.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []*storage.Metadata
	for _, d := range s.docs {
		if d.Local && !d.Trashed && d.InodeKey() != "" {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func (s *fakeStore) LastSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.seqErr
}

func (s *fakeStore) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// fakeMerger records the merge operations it is asked to run.
type fakeMerger struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error // by operation name
}

func (m *fakeMerger) record(op, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op+" "+detail)
	return m.fail[op]
}

func (m *fakeMerger) AddFile(_ context.Context, doc *storage.Metadata) error {
	return m.record("AddFile", doc.Path)
}

func (m *fakeMerger) PutFolder(_ context.Context, doc *storage.Metadata) error {
	return m.record("PutFolder", doc.Path)
}

func (m *fakeMerger) UpdateFile(_ context.Context, doc *storage.Metadata) error {
	return m.record("UpdateFile", doc.Path)
}

func (m *fakeMerger) MoveFile(_ context.Context, doc, was, overwritten *storage.Metadata) error {
	return m.record("MoveFile", moveDetail(doc, was, overwritten))
}

func (m *fakeMerger) MoveFolder(_ context.Context, doc, was, overwritten *storage.Metadata) error {
	return m.record("MoveFolder", moveDetail(doc, was, overwritten))
}

func (m *fakeMerger) TrashFile(_ context.Context, was *storage.Metadata) error {
	return m.record("TrashFile", was.Path)
}

func (m *fakeMerger) TrashFolder(_ context.Context, was *storage.Metadata) error {
	return m.record("TrashFolder", was.Path)
}

func (m *fakeMerger) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func moveDetail(doc, was, overwritten *storage.Metadata) string {
	s := was.Path + " -> " + doc.Path
	if overwritten != nil {
		s += " overwriting " + overwritten.Path
	}
	return s
}

// fakeChecksummer returns "md5(<base name>)" unless told to fail.
type fakeChecksummer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *fakeChecksummer) Push(_ context.Context, absPath string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, absPath)
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("md5(%s)", path.Base(absPath)), nil
}

func (c *fakeChecksummer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeFlags is an in-memory FlagStore.
type fakeFlags struct {
	mu     sync.Mutex
	active map[string]bool
}

func newFakeFlags(active ...string) *fakeFlags {
	f := &fakeFlags{active: make(map[string]bool)}
	for _, name := range active {
		f.active[name] = true
	}
	return f
}

func (f *fakeFlags) IsFlagActive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[name]
}

func (f *fakeFlags) SetFlag(name string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[name] = active
	return nil
}

// fakeIgnore ignores the listed relative paths and everything under them.
type fakeIgnore []string

func (f fakeIgnore) IsIgnored(rel string, _ bool) bool {
	for _, p := range f {
		if isSameOrParentPath(p, rel) {
			return true
		}
	}
	return false
}

// fakeBackend lets tests inject raw events.
type fakeBackend struct {
	mu         sync.Mutex
	events     chan []RawEvent
	errs       chan error
	scans      map[string][]RawEvent // by rel
	scanErr    error
	subscribed int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{scans: make(map[string][]RawEvent)}
}

func (b *fakeBackend) Subscribe(_ context.Context, _ string) (<-chan []RawEvent, <-chan error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events != nil {
		return nil, nil, ErrSubscribed
	}
	b.events = make(chan []RawEvent, 16)
	b.errs = make(chan error, 16)
	b.subscribed++
	return b.events, b.errs, nil
}

func (b *fakeBackend) Unsubscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		return nil
	}
	close(b.events)
	close(b.errs)
	b.events = nil
	b.errs = nil
	return nil
}

func (b *fakeBackend) Scan(_ context.Context, _ string, rel string) ([]RawEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scanErr != nil {
		return nil, b.scanErr
	}
	return b.scans[rel], nil
}

func (b *fakeBackend) emit(raw ...RawEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events == nil {
		return errors.New("not subscribed")
	}
	b.events <- raw
	return nil
}

func (b *fakeBackend) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed
}

// popWithin pops the next batch of c or fails the test.
func popWithin(t *testing.T, c *Channel, d time.Duration) Batch {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	b, err := c.Pop(ctx)
	require.NoError(t, err, "no batch within %s", d)
	return b
}
