package watcher

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/mvp-joe/tandem/internal/stater"
)

const stepAddInfos = "addInfos"

// addInfos stats the entries events are about and guesses the kind of
// deleted ones from the store.
type addInfos struct {
	root  string
	store Store
	prov  *Provenance
	log   *slog.Logger
	stat  func(string) (*stater.Stats, error)
}

func newAddInfos(root string, store Store, prov *Provenance, logger *slog.Logger) *addInfos {
	return &addInfos{
		root:  root,
		store: store,
		prov:  prov,
		log:   stepLogger(logger, stepAddInfos),
		stat:  stater.Stat,
	}
}

func (s *addInfos) step(ctx context.Context, events Batch) (Batch, error) {
	batch := make(Batch, 0, len(events))
	for _, e := range events {
		if e.Kind == KindSymlink {
			s.log.Warn("symlinks are not supported", "path", e.Path)
			continue
		}
		if e.Action != ActionInitialScanDone {
			if err := s.addInfos(ctx, e); err != nil {
				s.log.Debug("cannot get infos", "path", e.Path, "action", e.Action, "error", err)
				e.markUnresolved(stepAddInfos, err)
			}
			if e.Kind == KindSymlink {
				s.log.Warn("symlinks are not supported", "path", e.Path)
				continue
			}
		}
		batch = append(batch, e)
	}
	return batch, nil
}

func (s *addInfos) addInfos(ctx context.Context, e *Event) error {
	if needsStats(e) {
		s.log.Debug("stat", "path", e.Path, "action", e.Action)
		stats, err := s.stat(filepath.Join(s.root, filepath.FromSlash(e.Path)))
		if err != nil {
			return err
		}
		e.Stats = stats
	}

	if e.Stats != nil {
		e.Kind = stater.KindOf(e.Stats)
		return nil
	}
	if !needsStoreRecord(e) {
		return nil
	}

	doc, err := s.store.ByLocalPath(ctx, e.Path)
	if err != nil {
		return err
	}
	if e.Kind != KindFile && e.Kind != KindDirectory {
		s.prov.Annotate(e, stepAddInfos, "kindConvertedFrom", e.Kind)
		e.Kind = KindFile
		if doc != nil {
			e.Kind = doc.Kind()
		}
	}
	if e.Action == ActionDeleted && doc != nil {
		e.DeletedIno = doc.InodeKey()
	}
	return nil
}

func needsStats(e *Event) bool {
	switch e.Action {
	case ActionCreated, ActionModified, ActionRenamed, ActionScan:
		return e.Stats == nil
	}
	return false
}

func needsStoreRecord(e *Event) bool {
	return e.Action == ActionDeleted || (e.Kind != KindFile && e.Kind != KindDirectory)
}
