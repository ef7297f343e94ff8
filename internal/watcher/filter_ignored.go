package watcher

import (
	"log/slog"
)

const stepFilterIgnored = "filterIgnored"

// filterIgnored drops events about ignored paths. Moves across the ignore
// boundary become plain creations or deletions. Filtering twice is a no-op.
type filterIgnored struct {
	ignore IgnoreMatcher
	prov   *Provenance
	log    *slog.Logger
}

func newFilterIgnored(ignore IgnoreMatcher, prov *Provenance, logger *slog.Logger) *filterIgnored {
	return &filterIgnored{
		ignore: ignore,
		prov:   prov,
		log:    stepLogger(logger, stepFilterIgnored),
	}
}

func (s *filterIgnored) step(events Batch) Batch {
	batch := make(Batch, 0, len(events))
	for _, e := range events {
		if kept := s.notIgnored(e); kept != nil {
			batch = append(batch, kept)
		} else {
			s.log.Debug("ignored via ignore rules", "path", e.Path, "action", e.Action)
		}
	}
	return batch
}

func (s *filterIgnored) isIgnored(p string, kind Kind) bool {
	return s.ignore != nil && s.ignore.IsIgnored(p, kind == KindDirectory)
}

func (s *filterIgnored) notIgnored(e *Event) *Event {
	if e.NoIgnore || e.Action == ActionInitialScanDone {
		return e
	}

	pathIgnored := s.isIgnored(e.Path, e.Kind)

	if e.Action == ActionRenamed && e.OldPath != "" {
		oldPathIgnored := s.isIgnored(e.OldPath, e.Kind)
		switch {
		case !oldPathIgnored && pathIgnored:
			s.prov.Annotate(e, stepFilterIgnored, "movedToIgnoredPath", e.Path)
			e.Action = ActionDeleted
			e.Path = e.OldPath
			e.OldPath = ""
			return e
		case oldPathIgnored && !pathIgnored:
			s.prov.Annotate(e, stepFilterIgnored, "movedFromIgnoredPath", e.OldPath)
			e.Action = ActionCreated
			e.OldPath = ""
			return e
		case !oldPathIgnored && !pathIgnored:
			return e
		}
		return nil
	}

	if pathIgnored {
		return nil
	}
	return e
}
