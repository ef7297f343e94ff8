package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvp-joe/tandem/internal/config"
	"github.com/mvp-joe/tandem/internal/storage"
)

const stepDispatch = "dispatch"

// DefaultLocalEndDelay is how long the dispatcher stays idle before
// announcing the end of local activity.
const DefaultLocalEndDelay = time.Second

// dispatcher applies the final events to the store through the merge layer.
type dispatcher struct {
	state    *DispatchState
	store    Store
	merger   Merger
	flags    FlagStore
	notifier *Notifier
	delay    time.Duration
	prov     *Provenance
	log      *slog.Logger

	// scanDone is called when the initial-scan-done barrier is dispatched.
	scanDone func()
}

func newDispatcher(state *DispatchState, store Store, merger Merger, flags FlagStore, notifier *Notifier, delay time.Duration, prov *Provenance, logger *slog.Logger) *dispatcher {
	if delay <= 0 {
		delay = DefaultLocalEndDelay
	}
	return &dispatcher{
		state:    state,
		store:    store,
		merger:   merger,
		flags:    flags,
		notifier: notifier,
		delay:    delay,
		prov:     prov,
		log:      stepLogger(logger, stepDispatch),
	}
}

// step dispatches every event of the batch. Failures are logged and the
// next event is dispatched anyway. Nothing flows past the dispatcher.
func (s *dispatcher) step(ctx context.Context, events Batch) (Batch, error) {
	s.stopLocalEnd()
	s.notifier.Publish(Notification{Type: NotifyLocalStart})

	for _, e := range events {
		if err := s.dispatch(ctx, e); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Error("could not dispatch local event", "event", e.String(), "error", err, "notes", s.prov.Notes(e))
		}
	}

	s.armLocalEnd()
	return nil, nil
}

func (s *dispatcher) stopLocalEnd() {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if s.state.localEnd != nil {
		s.state.localEnd.Stop()
		s.state.localEnd = nil
	}
}

func (s *dispatcher) armLocalEnd() {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.localEnd = time.AfterFunc(s.delay, func() {
		s.notifier.Publish(Notification{Type: NotifyLocalEnd})
	})
}

func (s *dispatcher) dispatch(ctx context.Context, e *Event) error {
	switch {
	case e.Action == ActionInitialScanDone:
		s.initialScanDone()
		return nil
	case e.Action == ActionIgnored:
		s.log.Debug("ignored", "event", e.String(), "notes", s.prov.Notes(e))
		return nil
	case e.Incomplete():
		s.log.Warn("not dispatching unresolved event", "event", e.String(), "reason", e.Unresolved.Error())
		return nil
	}

	release, err := s.store.Lock(ctx, "ChannelWatcher/"+stepDispatch)
	if err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer release()

	applied, err := s.apply(ctx, e)
	if err != nil {
		return err
	}

	seq, err := s.store.LastSeq(ctx)
	if err != nil {
		s.log.Error("cannot read sync target", "error", err)
	} else {
		s.notifier.Publish(Notification{Type: NotifySyncTarget, Seq: seq})
	}
	if applied {
		s.notifier.Publish(Notification{Type: NotifyDispatched, Event: e})
	}
	return nil
}

func (s *dispatcher) initialScanDone() {
	s.log.Info("initial scan done")
	if s.flags != nil && s.flags.IsFlagActive(config.FlagDateMigration) {
		if err := s.flags.SetFlag(config.FlagDateMigration, false); err != nil {
			s.log.Error("cannot clear flag", "flag", config.FlagDateMigration, "error", err)
		}
	}
	s.notifier.Publish(Notification{Type: NotifyInitialScanDone})
	if s.scanDone != nil {
		s.scanDone()
	}
}

// apply calls the merge operation matching the event. It reports whether
// the store was asked to change.
func (s *dispatcher) apply(ctx context.Context, e *Event) (bool, error) {
	switch e.Action {
	case ActionScan:
		return s.created(ctx, e, "found")
	case ActionCreated:
		return s.created(ctx, e, "added")
	case ActionModified:
		if e.Kind == KindDirectory {
			s.log.Debug("dir modified", "path", e.Path)
			return true, s.merger.PutFolder(ctx, buildDoc(e))
		}
		s.log.Debug("file modified", "path", e.Path)
		return true, s.merger.UpdateFile(ctx, buildDoc(e))
	case ActionRenamed:
		return s.renamed(ctx, e)
	case ActionDeleted:
		return s.deleted(ctx, e)
	}
	s.log.Warn("could not dispatch event with invalid action", "event", e.String())
	return false, nil
}

func (s *dispatcher) created(ctx context.Context, e *Event, description string) (bool, error) {
	if e.Kind == KindDirectory {
		s.log.Debug("dir "+description, "path", e.Path)
		return true, s.merger.PutFolder(ctx, buildDoc(e))
	}
	s.log.Debug("file "+description, "path", e.Path)
	return true, s.merger.AddFile(ctx, buildDoc(e))
}

func (s *dispatcher) renamed(ctx context.Context, e *Event) (bool, error) {
	was, err := s.store.ByLocalPath(ctx, e.OldPath)
	if err != nil {
		return false, err
	}
	if was == nil {
		if s.docWasAlreadyMoved(ctx, e.OldPath, e.Path) {
			s.log.Debug("assuming already moved", "event", e.String())
			return false, nil
		}
		s.prov.Annotate(e, stepDispatch, "originalEvent", e.String())
		e.Action = ActionCreated
		e.OldPath = ""
		return s.created(ctx, e, "moved, assuming added")
	}
	if was.InodeKey() != e.Stats.Key() {
		s.prov.Annotate(e, stepDispatch, "moveSrcReplacement", was.Path)
		s.log.Warn("move source has been replaced in the store", "event", e.String(), "storeIno", was.InodeKey(), "ino", e.Stats.Key())
		return false, nil
	}

	var overwritten *storage.Metadata
	if e.Overwrite {
		if overwritten, err = s.store.ByLocalPath(ctx, e.Path); err != nil {
			return false, err
		}
	}

	doc := buildDoc(e)
	if e.Kind == KindDirectory {
		s.log.Debug("dir moved", "from", e.OldPath, "to", e.Path)
		return true, s.merger.MoveFolder(ctx, doc, was, overwritten)
	}
	s.log.Debug("file moved", "from", e.OldPath, "to", e.Path)
	return true, s.merger.MoveFile(ctx, doc, was, overwritten)
}

func (s *dispatcher) deleted(ctx context.Context, e *Event) (bool, error) {
	was, err := s.store.ByLocalPath(ctx, e.Path)
	if err != nil {
		return false, err
	}
	if was == nil || was.Trashed {
		s.log.Debug("assuming already removed", "path", e.Path)
		return false, nil
	}
	if e.Kind == KindDirectory {
		s.log.Debug("dir removed", "path", e.Path)
		return true, s.merger.TrashFolder(ctx, was)
	}
	s.log.Debug("file removed", "path", e.Path)
	return true, s.merger.TrashFile(ctx, was)
}

// docWasAlreadyMoved reports whether the move from src to dst was made by
// the synchronization itself, which recorded it before the watcher saw it.
func (s *dispatcher) docWasAlreadyMoved(ctx context.Context, src, dst string) bool {
	existing, err := s.store.ByLocalPath(ctx, dst)
	if err != nil || existing == nil {
		return false
	}
	previous, err := s.store.PreviousRevision(ctx, existing.ID, 1)
	if err != nil || previous == nil {
		return false
	}
	return previous.MoveFrom == src
}

func buildDoc(e *Event) *storage.Metadata {
	doc := &storage.Metadata{Path: e.Path}
	if e.Stats != nil {
		doc.Ino = e.Stats.Ino
		doc.FileID = e.Stats.FileID
		doc.UpdatedAt = e.Stats.UpdateTime()
	}
	if e.Kind == KindDirectory {
		doc.DocType = storage.DocFolder
		return doc
	}
	doc.DocType = storage.DocFile
	doc.MD5Sum = e.MD5Sum
	if e.Stats != nil {
		doc.Size = e.Stats.Size
	}
	return doc
}
