package watcher

import (
	"context"
	"log/slog"
	"time"
)

const stepOverwrite = "overwrite"

// DefaultOverwriteDelay is how long every batch is held so that a deletion
// can be matched with a later move or creation on the same path.
const DefaultOverwriteDelay = 500 * time.Millisecond

type overwritePending struct {
	deletedByPath map[string]*Event
	events        Batch
	deadline      time.Time
}

// overwrite recognizes an entry replaced by a move or a creation: the OS
// reports the deletion of the replaced entry first. The deletion is ignored
// and the surviving event carries the Overwrite flag instead.
type overwrite struct {
	state *OverwriteState
	delay time.Duration
	prov  *Provenance
	log   *slog.Logger
}

func newOverwrite(state *OverwriteState, delay time.Duration, prov *Provenance, logger *slog.Logger) *overwrite {
	if delay <= 0 {
		delay = DefaultOverwriteDelay
	}
	if state.deletedByPath == nil {
		state.deletedByPath = make(map[string]*Event)
	}
	return &overwrite{
		state: state,
		delay: delay,
		prov:  prov,
		log:   stepLogger(logger, stepOverwrite),
	}
}

func (s *overwrite) onBatch(_ context.Context, events Batch, now time.Time) ([]Batch, error) {
	for _, e := range events {
		if e.Action == ActionDeleted {
			s.state.deletedByPath[e.Path] = e
		}
		switch e.Action {
		case ActionRenamed:
			s.ignoreDeletedBefore(e, "moveToDeletedPath", "deletedBeforeRenamed")
		case ActionCreated:
			s.ignoreDeletedBefore(e, "createOnDeletedPath", "deletedBeforeCreate")
		}
	}

	s.state.pending = append(s.state.pending, &overwritePending{
		deletedByPath: s.state.deletedByPath,
		events:        events,
		deadline:      now.Add(s.delay),
	})
	s.state.deletedByPath = make(map[string]*Event)
	return s.onDeadline(now), nil
}

func (s *overwrite) ignoreDeletedBefore(e *Event, survivorKey, deletedKey string) {
	deleted := s.findDeleted(e.Path)
	if deleted == nil {
		return
	}
	s.log.Debug("ignoring deletion of overwritten entry", "path", e.Path, "action", e.Action)
	s.prov.Link(e, stepOverwrite, survivorKey, deleted)
	s.prov.Link(deleted, stepOverwrite, deletedKey, e)
	deleted.Action = ActionIgnored
	e.Overwrite = true
}

func (s *overwrite) findDeleted(p string) *Event {
	if e, ok := s.state.deletedByPath[p]; ok {
		return e
	}
	for _, pending := range s.state.pending {
		if e, ok := pending.deletedByPath[p]; ok {
			return e
		}
	}
	return nil
}

func (s *overwrite) onDeadline(now time.Time) []Batch {
	var out []Batch
	for len(s.state.pending) > 0 {
		front := s.state.pending[0]
		if now.Before(front.deadline) {
			break
		}
		out = append(out, front.events)
		s.state.pending[0] = nil
		s.state.pending = s.state.pending[1:]
	}
	return out
}

func (s *overwrite) nextDeadline() (time.Time, bool) {
	if len(s.state.pending) == 0 {
		return time.Time{}, false
	}
	return s.state.pending[0].deadline, true
}
