package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mvp-joe/tandem/internal/stater"
)

const stepIncompleteFixer = "incompleteFixer"

// DefaultIncompleteExpiry is how long an unresolved event may wait for the
// event completing it.
const DefaultIncompleteExpiry = 3 * time.Second

var errEntryGone = errors.New("entry is gone")

type incompleteItem struct {
	event *Event
	at    time.Time
}

// incompleteFixer rebuilds unresolved events once a later event tells
// where their entry went. Three situations complete an unresolved event:
// its entry (or an ancestor) was renamed again, the destination of its
// rename was deleted, or the source of its rename was replaced by an entry
// of the same kind.
type incompleteFixer struct {
	state       *IncompleteState
	root        string
	expiry      time.Duration
	store       Store
	checksummer Checksummer
	prov        *Provenance
	log         *slog.Logger

	now       func() time.Time
	statMaybe func(string) (*stater.Stats, error)
}

func newIncompleteFixer(state *IncompleteState, root string, expiry time.Duration, store Store, checksummer Checksummer, prov *Provenance, logger *slog.Logger) *incompleteFixer {
	if expiry <= 0 {
		expiry = DefaultIncompleteExpiry
	}
	return &incompleteFixer{
		state:       state,
		root:        root,
		expiry:      expiry,
		store:       store,
		checksummer: checksummer,
		prov:        prov,
		log:         stepLogger(logger, stepIncompleteFixer),
		now:         time.Now,
		statMaybe:   stater.StatMaybe,
	}
}

// orderedSet keeps events in insertion order without duplicates.
type orderedSet struct {
	seen   map[*Event]struct{}
	events Batch
}

func (s *orderedSet) add(e *Event) {
	if s.seen == nil {
		s.seen = make(map[*Event]struct{})
	}
	if _, ok := s.seen[e]; ok {
		return
	}
	s.seen[e] = struct{}{}
	s.events = append(s.events, e)
}

func (s *incompleteFixer) step(ctx context.Context, events Batch) (Batch, error) {
	var batch orderedSet

	for _, e := range events {
		if e.Incomplete() && e.Action != ActionIgnored {
			s.log.Debug("incomplete", "path", e.Path, "action", e.Action, "reason", e.Unresolved.Reason)
			s.state.items = append(s.state.items, incompleteItem{event: e, at: s.now()})
		}
	}

	for _, e := range events {
		s.expire()

		if len(s.state.items) == 0 || !completes(e) {
			if !e.Incomplete() {
				batch.add(e)
			}
			continue
		}

		var kept []incompleteItem
		keptEvents := make(map[*Event]struct{})
		keep := func(item incompleteItem) {
			if _, ok := keptEvents[item.event]; ok {
				return
			}
			keptEvents[item.event] = struct{}{}
			kept = append(kept, item)
		}
		keepEvent := func(ev *Event) {
			if ev.Incomplete() {
				keep(incompleteItem{event: ev, at: s.now()})
			} else {
				batch.add(ev)
			}
		}

		// The completing event goes on unless a rebuilt event replaces it.
		consumed, emitted := false, false
		for _, item := range s.state.items {
			if item.event == e {
				continue
			}

			rebuilt, ignored, err := s.detectCompletion(ctx, item.event, e)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.log.Warn("error while rebuilding incomplete event", "path", item.event.Path, "event", e.String(), "error", err)
				keep(item)
				continue
			}
			if ignored {
				s.log.Debug("incomplete event undone", "path", item.event.Path, "event", e.String())
				consumed = true
				continue
			}
			if rebuilt == nil {
				keep(item)
				continue
			}

			s.log.Debug("rebuilt event", "path", e.Path, "rebuilt", rebuilt.String())
			decision, err := s.keepCompletingEvent(ctx, item.event, e, rebuilt)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.log.Warn("cannot look up incomplete event document", "path", item.event.Path, "error", err)
				decision = collisionKeepBoth
			}
			switch decision {
			case collisionKeepCompleting:
				// rebuilt is dropped
			case collisionKeepBoth:
				if !emitted {
					keepEvent(e)
					emitted = true
				}
				keepEvent(rebuilt)
			default:
				consumed = true
				keepEvent(rebuilt)
			}
		}
		if !consumed && !emitted {
			keepEvent(e)
		}
		s.state.items = kept
	}

	return batch.events, nil
}

func completes(e *Event) bool {
	switch e.Action {
	case ActionRenamed, ActionDeleted, ActionCreated:
		return true
	}
	return false
}

func (s *incompleteFixer) expire() {
	now := s.now()
	items := s.state.items[:0]
	for _, item := range s.state.items {
		if item.at.Add(s.expiry).Before(now) {
			s.log.Debug("dropping expired incomplete event", "path", item.event.Path, "event", item.event.String())
			continue
		}
		items = append(items, item)
	}
	clear(s.state.items[len(items):])
	s.state.items = items
}

type collision int

const (
	collisionKeepRebuilt collision = iota
	collisionKeepCompleting
	collisionKeepBoth
)

// keepCompletingEvent decides which of the completing and rebuilt events
// go on when an unresolved event gets completed.
func (s *incompleteFixer) keepCompletingEvent(ctx context.Context, incomplete, completing, rebuilt *Event) (collision, error) {
	existing, err := s.store.ByLocalPath(ctx, incomplete.Path)
	if err != nil {
		return collisionKeepRebuilt, err
	}
	if existing != nil && !existing.Trashed {
		switch incomplete.Action {
		case ActionCreated, ActionScan:
			return collisionKeepCompleting, nil
		case ActionModified:
			return collisionKeepBoth, nil
		}
	}
	if isParentPath(completing.Path, rebuilt.Path) {
		return collisionKeepBoth, nil
	}
	// The destination of the rename lies inside a deleted directory: both
	// the source and the directory are gone.
	if completing.Action == ActionDeleted && isParentPath(completing.Path, incomplete.Path) {
		return collisionKeepBoth, nil
	}
	return collisionKeepRebuilt, nil
}

// detectCompletion returns the event rebuilt from prev thanks to next, nil
// when next does not complete prev, or ignored when the completion turns
// prev into a no-op.
func (s *incompleteFixer) detectCompletion(ctx context.Context, prev, next *Event) (rebuilt *Event, ignored bool, err error) {
	switch {
	case wasRenamedSuccessively(prev, next):
		return s.rebuild(ctx, prev, next)
	case itemDestinationWasDeleted(prev, next):
		return s.deletedFromRenamed(prev, next), false, nil
	case renamedItemWasReplaced(prev, next):
		return s.modifiedFromRenamed(prev, next), false, nil
	}
	return nil, false, nil
}

func wasRenamedSuccessively(prev, next *Event) bool {
	return next.OldPath != "" && isSameOrParentPath(next.OldPath, prev.Path)
}

func itemDestinationWasDeleted(prev, next *Event) bool {
	return next.Action == ActionDeleted && prev.OldPath != "" && isSameOrParentPath(next.Path, prev.Path)
}

func renamedItemWasReplaced(prev, next *Event) bool {
	return next.Action == ActionCreated && prev.OldPath != "" &&
		next.Path == prev.OldPath && next.Kind == prev.Kind
}

func (s *incompleteFixer) rebuild(ctx context.Context, prev, next *Event) (*Event, bool, error) {
	p := replacePrefix(prev.Path, next.OldPath, next.Path)
	oldPath := ""
	if prev.OldPath != "" {
		if p == next.Path {
			oldPath = prev.OldPath
		} else {
			oldPath = replacePrefix(prev.OldPath, next.OldPath, next.Path)
		}
	}
	if p == oldPath {
		return nil, true, nil
	}

	abs := filepath.Join(s.root, filepath.FromSlash(p))
	stats, err := s.statMaybe(abs)
	if err != nil {
		return nil, false, err
	}

	rebuilt := NewEvent(prev.Action, prev.Kind, p)
	rebuilt.OldPath = oldPath
	s.linkCompletion(rebuilt, prev, next)

	if stats == nil {
		rebuilt.markUnresolved(stepIncompleteFixer, errEntryGone)
		return rebuilt, false, nil
	}
	rebuilt.Stats = stats
	rebuilt.Kind = stater.KindOf(stats)
	if rebuilt.Kind == KindFile {
		sum, err := s.checksummer.Push(ctx, abs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			rebuilt.markUnresolved(stepIncompleteFixer, err)
			return rebuilt, false, nil
		}
		rebuilt.MD5Sum = sum
	}
	return rebuilt, false, nil
}

func (s *incompleteFixer) deletedFromRenamed(prev, next *Event) *Event {
	rebuilt := NewEvent(next.Action, prev.Kind, prev.OldPath)
	rebuilt.DeletedIno = prev.Ino()
	s.linkCompletion(rebuilt, prev, next)
	return rebuilt
}

func (s *incompleteFixer) modifiedFromRenamed(prev, next *Event) *Event {
	rebuilt := next.Clone()
	rebuilt.Action = ActionModified
	s.prov.Inherit(rebuilt, next)
	s.linkCompletion(rebuilt, prev, next)
	return rebuilt
}

func (s *incompleteFixer) linkCompletion(rebuilt, prev, next *Event) {
	s.prov.Link(rebuilt, stepIncompleteFixer, "incompleteEvent", prev)
	s.prov.Link(rebuilt, stepIncompleteFixer, "completingEvent", next)
}
