package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
)

const stepAddChecksum = "addChecksum"

// addChecksum hashes the content of file events lacking a checksum.
type addChecksum struct {
	root        string
	checksummer Checksummer
	log         *slog.Logger
}

func newAddChecksum(root string, checksummer Checksummer, logger *slog.Logger) *addChecksum {
	return &addChecksum{
		root:        root,
		checksummer: checksummer,
		log:         stepLogger(logger, stepAddChecksum),
	}
}

func (s *addChecksum) step(ctx context.Context, events Batch) (Batch, error) {
	for _, e := range events {
		if e.Incomplete() || !hasContent(e) || e.MD5Sum != "" {
			continue
		}
		sum, err := s.checksummer.Push(ctx, filepath.Join(s.root, filepath.FromSlash(e.Path)))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Debug("cannot compute checksum", "path", e.Path, "error", err)
			e.markUnresolved(stepAddChecksum, err)
			continue
		}
		e.MD5Sum = sum
		s.log.Debug("computed checksum", "path", e.Path)
	}
	return events, nil
}

func hasContent(e *Event) bool {
	if e.Kind != KindFile {
		return false
	}
	switch e.Action {
	case ActionCreated, ActionModified, ActionRenamed, ActionScan:
		return true
	}
	return false
}
