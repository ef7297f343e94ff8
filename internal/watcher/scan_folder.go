package watcher

import (
	"context"
	"log/slog"
)

const stepScanFolder = "scanFolder"

// scanFolder asks the producer to scan directories appearing while the
// watcher runs: the OS does not report the content of a directory moved
// in from outside the synchronized folder.
type scanFolder struct {
	scan func(ctx context.Context, rel string) error
	log  *slog.Logger
}

func newScanFolder(scan func(context.Context, string) error, logger *slog.Logger) *scanFolder {
	return &scanFolder{
		scan: scan,
		log:  stepLogger(logger, stepScanFolder),
	}
}

func (s *scanFolder) step(ctx context.Context, events Batch) (Batch, error) {
	for _, e := range events {
		if e.Incomplete() {
			continue
		}
		if e.Action == ActionCreated && e.Kind == KindDirectory {
			s.log.Debug("scanning new folder", "path", e.Path)
			if err := s.scan(ctx, e.Path); err != nil {
				s.log.Error("cannot scan new folder", "path", e.Path, "error", err)
			}
		}
	}
	return events, nil
}
