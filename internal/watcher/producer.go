package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mvp-joe/tandem/internal/logging"
	"github.com/mvp-joe/tandem/internal/stater"
)

// TmpDirPrefix marks the temporary entries written by the synchronization
// itself. They never enter the pipeline.
const TmpDirPrefix = ".system-tmp-tandem"

// Producer turns the raw notifications of a Backend into batches of events
// pushed to its channel. Before the initial scan completes, entries found
// are reported as scan events; live creations are reported as created
// events afterwards.
type Producer struct {
	root     string
	backend  Backend
	ignore   IgnoreMatcher
	notifier *Notifier
	out      *Channel
	log      *slog.Logger

	initialScanDone atomic.Bool

	mu      sync.Mutex
	forward chan struct{} // closed when the forwarding goroutine exits
}

// NewProducer creates a producer for the synchronized folder root.
func NewProducer(root string, backend Backend, ignore IgnoreMatcher, notifier *Notifier, logger *slog.Logger) *Producer {
	return &Producer{
		root:     root,
		backend:  backend,
		ignore:   ignore,
		notifier: notifier,
		out:      NewChannel(),
		log:      logging.Component(logger, "ChannelWatcher/Producer"),
	}
}

// Channel returns the channel the producer pushes to.
func (p *Producer) Channel() *Channel {
	return p.out
}

// Start subscribes to the backend, scans the whole folder and pushes the
// initial-scan-done barrier.
func (p *Producer) Start(ctx context.Context) error {
	p.log.Info("starting producer")

	if err := p.subscribe(ctx); err != nil {
		return err
	}

	p.notifier.Publish(Notification{Type: NotifyBufferingStart})
	if err := p.Scan(ctx, ""); err != nil {
		return err
	}
	p.out.Push(Batch{initialScanDone()})
	p.initialScanDone.Store(true)
	p.log.Info("folder scan done")
	p.notifier.Publish(Notification{Type: NotifyBufferingEnd})
	return nil
}

// Resume subscribes again after Suspend.
func (p *Producer) Resume(ctx context.Context) error {
	p.log.Info("resuming producer")
	return p.subscribe(ctx)
}

// Suspend stops watching until Resume.
func (p *Producer) Suspend() error {
	p.log.Info("suspending producer")
	return p.unsubscribe()
}

// Stop stops watching.
func (p *Producer) Stop() error {
	p.log.Info("stopping producer")
	return p.unsubscribe()
}

func (p *Producer) subscribe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.forward != nil {
		return nil
	}
	events, errs, err := p.backend.Subscribe(ctx, p.root)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", p.root, err)
	}

	done := make(chan struct{})
	p.forward = done
	go func() {
		defer close(done)
		for events != nil || errs != nil {
			select {
			case raw, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				p.process(raw, false)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				p.log.Error("watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (p *Producer) unsubscribe() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.forward == nil {
		return nil
	}
	err := p.backend.Unsubscribe()
	<-p.forward
	p.forward = nil
	return err
}

// Scan reports every entry under the relative directory rel as scan
// events, one batch per directory, parents first.
func (p *Producer) Scan(ctx context.Context, rel string) error {
	raw, err := p.backend.Scan(ctx, p.root, rel)
	if err != nil {
		return err
	}

	var dirs []string
	byDir := make(map[string][]RawEvent)
	for _, r := range raw {
		dir := filepath.Dir(r.Path)
		if _, ok := byDir[dir]; !ok {
			dirs = append(dirs, dir)
		}
		byDir[dir] = append(byDir[dir], r)
	}
	for _, dir := range dirs {
		p.process(byDir[dir], true)
	}
	return nil
}

func (p *Producer) process(raw []RawEvent, fromScan bool) {
	batch := make(Batch, 0, len(raw))
	for _, r := range raw {
		if e := p.buildEvent(r, fromScan); e != nil {
			batch = append(batch, e)
		}
	}
	p.out.Push(batch)
}

func (p *Producer) buildEvent(r RawEvent, fromScan bool) *Event {
	if filepath.Clean(r.Path) == filepath.Clean(p.root) {
		return nil
	}
	rel, ok := p.relative(r.Path)
	if !ok || isTmpPath(rel) {
		return nil
	}

	var oldRel string
	if r.Type == RawRename {
		if oldRel, ok = p.relative(r.OldPath); !ok {
			r.Type = RawCreate
		}
	}
	if p.ignored(rel, r.Kind) && (r.Type != RawRename || p.ignored(oldRel, r.Kind)) {
		return nil
	}

	switch r.Type {
	case RawDelete:
		e := NewEvent(ActionDeleted, r.Kind, rel)
		e.DeletedIno = stater.KeyFor(r.FileID, r.Ino)
		return e
	case RawUpdate:
		return NewEvent(ActionModified, r.Kind, rel)
	case RawRename:
		e := NewEvent(ActionRenamed, r.Kind, rel)
		e.OldPath = oldRel
		return e
	}
	if p.initialScanDone.Load() && !fromScan {
		return NewEvent(ActionCreated, r.Kind, rel)
	}
	return NewEvent(ActionScan, r.Kind, rel)
}

func (p *Producer) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(p.root, abs)
	if err != nil {
		return "", false
	}
	rel = cleanRel(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

func (p *Producer) ignored(rel string, kind Kind) bool {
	return p.ignore != nil && p.ignore.IsIgnored(rel, kind == KindDirectory)
}

func isTmpPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, TmpDirPrefix) {
			return true
		}
	}
	return false
}
