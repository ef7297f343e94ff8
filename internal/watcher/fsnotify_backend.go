package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mvp-joe/tandem/internal/logging"
	"github.com/mvp-joe/tandem/internal/stater"
)

const (
	// DefaultRenamePairingWindow is how long a rename waits for the
	// creation of its destination before being reported as a deletion.
	DefaultRenamePairingWindow = 50 * time.Millisecond

	// DefaultBatchDelay groups the notifications of a burst into one batch.
	DefaultBatchDelay = 10 * time.Millisecond
)

// ErrSubscribed is returned by Subscribe while a subscription is active.
var ErrSubscribed = errors.New("backend already subscribed")

// FSNotifyOptions configures an FSNotifyBackend.
type FSNotifyOptions struct {
	// Exclude lists root-relative paths never watched nor scanned.
	Exclude             []string
	RenamePairingWindow time.Duration
	BatchDelay          time.Duration
	Logger              *slog.Logger
}

// FSNotifyBackend is the native watcher built on fsnotify. Watches are
// registered on every directory of the tree, including directories
// appearing later. fsnotify reports a rename as the removal of the old
// name followed by the creation of the new one: both are paired by inode
// into a single rename event.
type FSNotifyBackend struct {
	opts FSNotifyOptions
	log  *slog.Logger

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewFSNotifyBackend creates a backend. Nothing is watched before
// Subscribe.
func NewFSNotifyBackend(opts FSNotifyOptions) *FSNotifyBackend {
	if opts.RenamePairingWindow <= 0 {
		opts.RenamePairingWindow = DefaultRenamePairingWindow
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	return &FSNotifyBackend{
		opts: opts,
		log:  logging.Component(opts.Logger, "ChannelWatcher/fsnotify"),
	}
}

// Subscribe starts watching root.
func (b *FSNotifyBackend) Subscribe(ctx context.Context, root string) (<-chan []RawEvent, <-chan error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fsw != nil {
		return nil, nil, ErrSubscribed
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	out := make(chan []RawEvent, 16)
	errs := make(chan error, 16)
	s := &subscription{
		backend: b,
		root:    root,
		fsw:     fsw,
		known:   make(map[string]entry),
		out:     out,
		errs:    errs,
	}
	if err := s.watchTree(root, true); err != nil {
		fsw.Close()
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	b.fsw = fsw
	b.cancel = cancel
	b.doneCh = make(chan struct{})

	go s.run(ctx, b.doneCh)
	return out, errs, nil
}

// Unsubscribe stops watching. It is safe to call when not subscribed.
func (b *FSNotifyBackend) Unsubscribe() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fsw == nil {
		return nil
	}
	b.cancel()
	<-b.doneCh

	err := b.fsw.Close()
	b.fsw = nil
	b.cancel = nil
	b.doneCh = nil
	return err
}

// Scan lists the entries under root/rel.
func (b *FSNotifyBackend) Scan(ctx context.Context, root, rel string) ([]RawEvent, error) {
	start := filepath.Join(root, filepath.FromSlash(rel))
	var events []RawEvent

	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start {
				return err
			}
			b.log.Warn("cannot scan entry", "path", p, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == start {
			return nil
		}
		if b.excluded(root, p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		stats, err := stater.Stat(p)
		if err != nil {
			b.log.Debug("entry vanished during scan", "path", p, "error", err)
			return nil
		}
		events = append(events, RawEvent{
			Type:   RawCreate,
			Path:   p,
			Kind:   stater.KindOf(stats),
			Ino:    stats.Ino,
			FileID: stats.FileID,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", start, err)
	}
	return events, nil
}

func (b *FSNotifyBackend) excluded(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, ex := range b.opts.Exclude {
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return true
		}
	}
	return false
}

type entry struct {
	kind   Kind
	ino    uint64
	fileID string
}

func (e entry) key() stater.InodeKey { return stater.KeyFor(e.fileID, e.ino) }

type queued struct {
	ev RawEvent
	// A rename waiting for the creation of its destination.
	placeholder bool
	key         stater.InodeKey
	deadline    time.Time
	moved       map[string]entry
}

// subscription is the state of one Subscribe call, owned by its run
// goroutine.
type subscription struct {
	backend *FSNotifyBackend
	root    string
	fsw     *fsnotify.Watcher
	known   map[string]entry
	queue   []*queued
	flushAt time.Time
	out     chan<- []RawEvent
	errs    chan<- error
}

func (s *subscription) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer close(s.out)
	defer close(s.errs)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var expired <-chan time.Time
		if len(s.queue) > 0 {
			timer.Reset(time.Until(s.nextFlush()))
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			return

		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if len(s.queue) == 0 {
				s.flushAt = time.Now().Add(s.backend.opts.BatchDelay)
			}
			s.handle(ev)

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			select {
			case s.errs <- err:
			default:
				s.backend.log.Error("dropping watcher error", "error", err)
			}

		case now := <-expired:
			if !s.flush(ctx, now) {
				return
			}
		}
	}
}

// nextFlush is the batch delay, or the pairing deadline of the rename
// holding the queue back.
func (s *subscription) nextFlush() time.Time {
	if q := s.queue[0]; q.placeholder {
		return q.deadline
	}
	return s.flushAt
}

// flush sends the queued events preceding the first rename still waiting
// for its pair. It returns false when ctx ended.
func (s *subscription) flush(ctx context.Context, now time.Time) bool {
	for _, q := range s.queue {
		if q.placeholder && !now.Before(q.deadline) {
			q.placeholder = false
			q.ev = RawEvent{
				Type:   RawDelete,
				Path:   q.ev.OldPath,
				Kind:   q.ev.Kind,
				Ino:    q.ev.Ino,
				FileID: q.ev.FileID,
			}
		}
	}

	n := 0
	for n < len(s.queue) && !s.queue[n].placeholder {
		n++
	}
	if n == 0 {
		s.flushAt = now
		return true
	}

	batch := make([]RawEvent, n)
	for i, q := range s.queue[:n] {
		batch[i] = q.ev
	}
	s.queue = s.queue[n:]
	s.flushAt = now

	select {
	case s.out <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *subscription) handle(ev fsnotify.Event) {
	abs := filepath.Clean(ev.Name)
	if abs == s.root || s.backend.excluded(s.root, abs) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		s.created(abs)
	case ev.Has(fsnotify.Write):
		e, ok := s.known[abs]
		if !ok {
			e = s.remember(abs)
		}
		s.push(&queued{ev: RawEvent{Type: RawUpdate, Path: abs, Kind: e.kind, Ino: e.ino, FileID: e.fileID}})
	case ev.Has(fsnotify.Remove):
		e, _, _ := s.forget(abs)
		s.push(&queued{ev: RawEvent{Type: RawDelete, Path: abs, Kind: e.kind, Ino: e.ino, FileID: e.fileID}})
	case ev.Has(fsnotify.Rename):
		e, moved, ok := s.forget(abs)
		raw := RawEvent{Type: RawDelete, Path: abs, Kind: e.kind, Ino: e.ino, FileID: e.fileID}
		if !ok || e.key() == "" {
			s.push(&queued{ev: raw})
			return
		}
		raw.OldPath = abs
		s.push(&queued{
			ev:          raw,
			placeholder: true,
			key:         e.key(),
			deadline:    time.Now().Add(s.backend.opts.RenamePairingWindow),
			moved:       moved,
		})
	}
}

func (s *subscription) push(q *queued) {
	s.queue = append(s.queue, q)
}

func (s *subscription) created(abs string) {
	stats, err := stater.Stat(abs)
	if err != nil {
		s.backend.log.Debug("created entry vanished", "path", abs, "error", err)
		return
	}
	e := entry{kind: stater.KindOf(stats), ino: stats.Ino, fileID: stats.FileID}
	raw := RawEvent{Type: RawCreate, Path: abs, Kind: e.kind, Ino: e.ino, FileID: e.fileID}

	if q := s.pairing(e.key()); q != nil {
		old := q.ev.OldPath
		q.placeholder = false
		q.ev = RawEvent{Type: RawRename, Path: abs, OldPath: old, Kind: e.kind, Ino: e.ino, FileID: e.fileID}
		s.known[abs] = e
		for p, child := range q.moved {
			s.known[abs+p[len(old):]] = child
		}
	} else {
		s.known[abs] = e
		s.push(&queued{ev: raw})
	}

	if e.kind == KindDirectory {
		if err := s.watchTree(abs, false); err != nil {
			s.backend.log.Warn("failed to watch new directory", "path", abs, "error", err)
		}
	}
}

func (s *subscription) pairing(key stater.InodeKey) *queued {
	if key == "" {
		return nil
	}
	for _, q := range s.queue {
		if q.placeholder && q.key == key {
			return q
		}
	}
	return nil
}

func (s *subscription) remember(abs string) entry {
	stats, err := stater.Stat(abs)
	if err != nil {
		return entry{kind: KindUnknown}
	}
	e := entry{kind: stater.KindOf(stats), ino: stats.Ino, fileID: stats.FileID}
	s.known[abs] = e
	return e
}

// forget drops abs and its descendants from the known entries.
func (s *subscription) forget(abs string) (entry, map[string]entry, bool) {
	e, ok := s.known[abs]
	delete(s.known, abs)
	if !ok {
		e.kind = KindUnknown
	}

	var moved map[string]entry
	if e.kind == KindDirectory {
		prefix := abs + string(filepath.Separator)
		for p, child := range s.known {
			if strings.HasPrefix(p, prefix) {
				if moved == nil {
					moved = make(map[string]entry)
				}
				moved[p] = child
				delete(s.known, p)
			}
		}
		if err := s.fsw.Remove(abs); err != nil {
			// The watch went away with the directory.
			s.backend.log.Debug("cannot remove watch", "path", abs, "error", err)
		}
	}
	return e, moved, ok
}

// watchTree registers a watch on every directory under dir and records the
// entries found. Errors below dir are logged and skipped.
func (s *subscription) watchTree(dir string, isRoot bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			s.backend.log.Warn("error accessing entry", "path", p, "error", err)
			return nil
		}
		if s.backend.excluded(s.root, p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !(isRoot && p == dir) {
			if _, ok := s.known[p]; !ok {
				s.remember(p)
			}
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.fsw.Add(p); err != nil {
			if p == dir {
				return fmt.Errorf("failed to watch %s: %w", p, err)
			}
			s.backend.log.Warn("failed to watch directory", "path", p, "error", err)
		}
		return nil
	})
}
