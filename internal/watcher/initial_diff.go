package watcher

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mvp-joe/tandem/internal/config"
	"github.com/mvp-joe/tandem/internal/stater"
	"github.com/mvp-joe/tandem/internal/storage"
)

const stepInitialDiff = "initialDiff"

// DefaultInitialDiffDelay is how long a batch with rename candidates waits
// for overlapping scan events.
const DefaultInitialDiffDelay = 200 * time.Millisecond

// initialDiff reconciles the initial scan with the documents known to
// exist locally. It detects entries moved or removed while the client was
// stopped, and reuses the checksum of untouched files. Once the
// initial-scan-done barrier went through, the stage is a pass-through.
type initialDiff struct {
	state *InitialDiffState
	delay time.Duration
	flags FlagStore
	prov  *Provenance
	log   *slog.Logger
}

func newInitialDiff(state *InitialDiffState, delay time.Duration, flags FlagStore, prov *Provenance, logger *slog.Logger) *initialDiff {
	if delay <= 0 {
		delay = DefaultInitialDiffDelay
	}
	return &initialDiff{
		state: state,
		delay: delay,
		flags: flags,
		prov:  prov,
		log:   stepLogger(logger, stepInitialDiff),
	}
}

func (s *initialDiff) onBatch(_ context.Context, events Batch, now time.Time) ([]Batch, error) {
	st := s.state
	if st.done {
		return []Batch{events}, nil
	}

	events = s.debounce(events)

	candidates := 0
	scanDone := false
	batch := make(Batch, 0, len(events))

	for _, e := range events {
		if e.Incomplete() || scanDone {
			batch = append(batch, e)
			continue
		}

		if e.Action == ActionCreated || e.Action == ActionScan {
			was := st.lookup(e.Stats)
			switch {
			case was != nil && was.MoveFrom != "" && was.MoveFrom == e.Path:
				s.prov.Annotate(e, stepInitialDiff, "unappliedMoveTo", was.Path)
				e.Action = ActionIgnored

			case was != nil && was.Path != e.Path:
				if was.Kind() == e.Kind {
					s.prov.Annotate(e, stepInitialDiff, "actionConvertedFrom", e.Action)
					e.Action = ActionRenamed
					e.OldPath = was.Path
					candidates++
				} else {
					// The inode was reused by an entry of another kind. The
					// old document is deleted and the new entry is created
					// over whatever the store holds at its path.
					deleted := NewEvent(ActionDeleted, was.Kind(), was.Path)
					deleted.DeletedIno = was.InodeKey()
					s.prov.Link(deleted, stepInitialDiff, "inodeReuse", e)
					batch = append(batch, deleted)
				}

			case s.foundUntouchedFile(e, was):
				s.prov.Annotate(e, stepInitialDiff, "md5sumReusedFrom", was.Path)
				e.MD5Sum = was.MD5Sum
			}
		}

		switch e.Action {
		case ActionCreated, ActionModified, ActionRenamed, ActionScan, ActionIgnored:
			for _, key := range e.Stats.Keys() {
				delete(st.byInode, key)
			}
			st.scannedPaths[e.Path] = struct{}{}
		}

		s.fixPathsAfterParentMove(e)
		if e.Action == ActionRenamed {
			st.renamed = append(st.renamed, e)
		}

		if e.Action == ActionInitialScanDone {
			batch = append(batch, s.notFoundDocs()...)
			scanDone = true
		}
		batch = append(batch, e)
	}

	if scanDone {
		out := append(st.waiting.drain(), batch)
		st.clear()
		s.log.Debug("initial diff done")
		return out, nil
	}

	st.waiting.push(batch, candidates, now.Add(s.delay))
	return st.waiting.release(now), nil
}

func (s *initialDiff) onDeadline(now time.Time) []Batch {
	return s.state.waiting.release(now)
}

func (s *initialDiff) nextDeadline() (time.Time, bool) {
	return s.state.waiting.nextDeadline()
}

// debounce drops scan events overlapping a rename detected in a batch
// still waiting: the scan saw the entry at its new location.
func (s *initialDiff) debounce(events Batch) Batch {
	return slices.DeleteFunc(events, func(e *Event) bool {
		if e.Incomplete() || e.Action != ActionScan {
			return false
		}
		for _, w := range s.state.waiting.correlatable() {
			for _, prev := range w.Events {
				if prev.Action == ActionRenamed && prev.Path == e.Path {
					s.log.Debug("ignoring overlapping scan", "path", e.Path, "kind", e.Kind)
					w.Candidates--
					return true
				}
			}
		}
		return false
	})
}

// fixPathsAfterParentMove rewrites paths of e that still designate the old
// location of a renamed ancestor. A rename turning out to be the ancestor's
// move itself is downgraded to a scan.
func (s *initialDiff) fixPathsAfterParentMove(e *Event) {
	for _, r := range s.state.renamed {
		if e.OldPath != "" && isParentPath(r.OldPath, e.OldPath) {
			fixed := replacePrefix(e.OldPath, r.OldPath, r.Path)
			if e.Path == fixed {
				e.Action = ActionScan
			} else {
				e.OldPath = fixed
			}
			s.prov.Annotate(e, stepInitialDiff, "renamedAncestor", r.OldPath+" -> "+r.Path)
		}
		if isParentPath(r.OldPath, e.Path) {
			fixed := replacePrefix(e.Path, r.OldPath, r.Path)
			if e.OldPath != fixed {
				e.Path = fixed
			}
			s.prov.Annotate(e, stepInitialDiff, "renamedAncestor", r.OldPath+" -> "+r.Path)
		}
	}
}

// notFoundDocs synthesizes a deletion for every known document whose entry
// was not seen during the scan, sorted by path.
func (s *initialDiff) notFoundDocs() Batch {
	st := s.state
	docs := make([]*storage.Metadata, 0, len(st.byInode))
	for _, doc := range st.byInode {
		docs = append(docs, doc)
	}
	slices.SortFunc(docs, func(a, b *storage.Metadata) int {
		return strings.Compare(a.Path, b.Path)
	})

	var batch Batch
	for _, doc := range docs {
		deleted := NewEvent(ActionDeleted, doc.Kind(), doc.Path)
		deleted.DeletedIno = doc.InodeKey()
		s.fixPathsAfterParentMove(deleted)
		if _, seen := st.scannedPaths[deleted.Path]; seen {
			continue
		}
		s.prov.Annotate(deleted, stepInitialDiff, "notFound", doc.Path)
		batch = append(batch, deleted)
	}
	return batch
}

func (s *initialDiff) foundUntouchedFile(e *Event, was *storage.Metadata) bool {
	if was == nil || was.MD5Sum == "" || e.Kind != KindFile || e.Stats == nil {
		return false
	}
	eventTime := e.Stats.UpdateTime()
	docTime := was.UpdatedAt.Truncate(time.Millisecond)
	if s.flags != nil && s.flags.IsFlagActive(config.FlagDateMigration) {
		eventTime = eventTime.Truncate(time.Second)
		docTime = docTime.Truncate(time.Second)
	}
	return eventTime.Equal(docTime)
}

// lookup finds the document of an entry by file id first, inode otherwise.
func (st *InitialDiffState) lookup(stats *stater.Stats) *storage.Metadata {
	for _, key := range stats.Keys() {
		if doc, ok := st.byInode[key]; ok {
			return doc
		}
	}
	return nil
}
