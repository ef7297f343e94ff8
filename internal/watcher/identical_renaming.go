package watcher

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const stepIdenticalRenaming = "identicalRenaming"

// DefaultIdenticalRenamingDelay is how long batches following a deletion
// are held.
const DefaultIdenticalRenamingDelay = 500 * time.Millisecond

// identicalRenaming repairs renames changing only the case or the Unicode
// normalization of a name, on filesystems where both spellings designate
// the same entry. Such renames are reported with path == oldPath, along
// with a bogus deletion of the old spelling.
type identicalRenaming struct {
	state *IdenticalRenamingState
	delay time.Duration
	store Store
	prov  *Provenance
	log   *slog.Logger
	fold  cases.Caser
}

func newIdenticalRenaming(state *IdenticalRenamingState, delay time.Duration, store Store, prov *Provenance, logger *slog.Logger) *identicalRenaming {
	if delay <= 0 {
		delay = DefaultIdenticalRenamingDelay
	}
	if state.deletedByID == nil {
		state.deletedByID = make(map[string]*Event)
	}
	return &identicalRenaming{
		state: state,
		delay: delay,
		store: store,
		prov:  prov,
		log:   stepLogger(logger, stepIdenticalRenaming),
		fold:  cases.Fold(),
	}
}

// normalizedID maps every spelling of a path to the same key.
func (s *identicalRenaming) normalizedID(p string) string {
	return s.fold.String(norm.NFC.String(p))
}

func (s *identicalRenaming) onBatch(ctx context.Context, events Batch, now time.Time) ([]Batch, error) {
	st := s.state
	for _, e := range events {
		if e.Action == ActionDeleted {
			st.deletedByID[s.normalizedID(e.Path)] = e
		}
		if e.Action != ActionRenamed {
			continue
		}
		if err := s.fixIdenticalRenamed(ctx, e); err != nil {
			s.log.Warn("cannot fix identical rename", "path", e.Path, "error", err)
		}
		s.ignoreDeletedBefore(e)
	}

	firstDeleted := len(events)
	for i, e := range events {
		if e.Action == ActionDeleted {
			firstDeleted = i
			break
		}
	}

	out := s.flush(events[:firstDeleted])
	st.pending = identicalPending{
		deletedByID: st.deletedByID,
		events:      events[firstDeleted:],
	}
	if len(st.pending.events) > 0 {
		st.pending.deadline = now.Add(s.delay)
	}
	st.deletedByID = make(map[string]*Event)
	return out, nil
}

func (s *identicalRenaming) fixIdenticalRenamed(ctx context.Context, e *Event) error {
	if e.Path != e.OldPath {
		return nil
	}
	doc, err := s.store.ByLocalPath(ctx, e.Path)
	if err != nil {
		return err
	}
	if doc != nil && !doc.Trashed && doc.Path != e.OldPath {
		s.prov.Annotate(e, stepIdenticalRenaming, "oldPathBeforeFix", e.OldPath)
		s.log.Debug("fixing identical rename", "path", e.Path, "oldPath", doc.Path)
		e.OldPath = doc.Path
	}
	return nil
}

func (s *identicalRenaming) ignoreDeletedBefore(e *Event) {
	id := s.normalizedID(e.Path)
	deleted, ok := s.state.deletedByID[id]
	if !ok {
		deleted, ok = s.state.pending.deletedByID[id]
	}
	if !ok {
		return
	}
	s.prov.Link(deleted, stepIdenticalRenaming, "deletedBeforeRenamed", e)
	deleted.Action = ActionIgnored
}

// flush releases the held events followed by fastTrack.
func (s *identicalRenaming) flush(fastTrack Batch) []Batch {
	pending := &s.state.pending
	b := append(pending.events[:len(pending.events):len(pending.events)], fastTrack...)
	*pending = identicalPending{}
	if len(b) == 0 {
		return nil
	}
	return []Batch{b}
}

func (s *identicalRenaming) onDeadline(time.Time) []Batch {
	return s.flush(nil)
}

func (s *identicalRenaming) nextDeadline() (time.Time, bool) {
	p := s.state.pending
	if len(p.events) == 0 {
		return time.Time{}, false
	}
	return p.deadline, true
}
