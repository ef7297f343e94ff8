package watcher

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

const stepAwaitWriteFinish = "awaitWriteFinish"

// DefaultAwaitWriteFinishDelay is how long a batch waits for the writes
// following it.
const DefaultAwaitWriteFinishDelay = 200 * time.Millisecond

// awaitWriteFinish collapses bursts of writes on a path into one event and
// cancels short-lived files.
//
// Within a batch, successive events on the same file are merged. Across
// batches, a modification or deletion arriving while an earlier batch is
// still waiting is merged into it retroactively. A batch is released once
// every write it contains has been correlated, or after the delay.
type awaitWriteFinish struct {
	state *AwaitWriteFinishState
	delay time.Duration
	prov  *Provenance
	log   *slog.Logger
}

func newAwaitWriteFinish(state *AwaitWriteFinishState, delay time.Duration, prov *Provenance, logger *slog.Logger) *awaitWriteFinish {
	if delay <= 0 {
		delay = DefaultAwaitWriteFinishDelay
	}
	return &awaitWriteFinish{
		state: state,
		delay: delay,
		prov:  prov,
		log:   stepLogger(logger, stepAwaitWriteFinish),
	}
}

func (s *awaitWriteFinish) onBatch(_ context.Context, events Batch, now time.Time) ([]Batch, error) {
	events = s.aggregateBatch(events)
	candidates := countFileWriteEvents(events)
	events = s.debounce(events)

	s.state.waiting.push(events, candidates, now.Add(s.delay))
	return s.state.waiting.release(now), nil
}

func (s *awaitWriteFinish) onDeadline(now time.Time) []Batch {
	return s.state.waiting.release(now)
}

func (s *awaitWriteFinish) nextDeadline() (time.Time, bool) {
	return s.state.waiting.nextDeadline()
}

func countFileWriteEvents(events Batch) int {
	n := 0
	for _, e := range events {
		if e.Incomplete() || e.Kind != KindFile {
			continue
		}
		switch e.Action {
		case ActionCreated, ActionModified, ActionRenamed:
			n++
		}
	}
	return n
}

func (s *awaitWriteFinish) aggregateBatch(events Batch) Batch {
	lastWrites := make(map[string]*Event)
	out := make(Batch, 0, len(events))

	for _, e := range events {
		key := e.Path
		last := lastWrites[key]
		i := slices.Index(out, last)
		if last == nil || i < 0 || !isAggregationCandidate(e, last) {
			if !e.Incomplete() {
				lastWrites[key] = e
			}
			out = append(out, e)
			continue
		}

		// aggregate may move e to the rename source; later events on key
		// then start over.
		merged := s.aggregate(last, e)
		switch {
		case merged == nil:
			out = slices.Delete(out, i, i+1)
			delete(lastWrites, key)
		case merged.Path != key:
			out[i] = merged
			delete(lastWrites, key)
		default:
			out[i] = merged
			lastWrites[key] = merged
		}
	}
	return out
}

func isAggregationCandidate(e, last *Event) bool {
	if e.Incomplete() || e.Kind != KindFile {
		return false
	}
	switch e.Action {
	case ActionCreated, ActionModified, ActionDeleted, ActionRenamed:
	default:
		return false
	}
	return last.Action != ActionRenamed || e.Ino() == last.Ino()
}

// aggregate merges recent into old. A nil result means both cancel out.
func (s *awaitWriteFinish) aggregate(old, recent *Event) *Event {
	switch recent.Action {
	case ActionDeleted:
		switch old.Action {
		case ActionCreated:
			s.log.Debug("ignoring file created then deleted", "path", recent.Path)
			return nil
		case ActionRenamed:
			s.addDebugInfo(recent, old)
			recent.Path = old.OldPath
		}
	case ActionModified:
		s.addDebugInfo(recent, old)
		recent.Action = old.Action
		if old.Action == ActionRenamed {
			recent.OldPath = old.OldPath
		}
	}
	return recent
}

// debounce merges modifications and deletions into the matching writes of
// earlier batches still waiting, and returns what remains of events.
func (s *awaitWriteFinish) debounce(events Batch) Batch {
	for i := 0; i < len(events); i++ {
		e := events[i]
		if e.Incomplete() || e.Kind != KindFile {
			continue
		}
		if e.Action != ActionModified && e.Action != ActionDeleted {
			continue
		}

		dropped := false
		for _, w := range s.state.waiting.correlatable() {
			k := slices.IndexFunc(w.Events, func(prev *Event) bool {
				return prev.Path == e.Path && isPendingWrite(prev, e)
			})
			if k < 0 {
				continue
			}
			prev := w.Events[k]
			w.Events = slices.Delete(w.Events, k, k+1)
			w.Candidates--

			switch e.Action {
			case ActionModified:
				s.addDebugInfo(e, prev)
				e.Action = prev.Action
				if prev.Action == ActionRenamed {
					e.OldPath = prev.OldPath
				}
			case ActionDeleted:
				switch prev.Action {
				case ActionCreated:
					s.log.Debug("ignoring file created then deleted", "path", e.Path)
					dropped = true
				case ActionRenamed:
					s.addDebugInfo(e, prev)
					if prev.OldPath != "" {
						e.Path = prev.OldPath
					}
				}
			}
			if dropped {
				break
			}
		}

		if dropped {
			events = slices.Delete(events, i, i+1)
			i--
		}
	}
	return events
}

func isPendingWrite(prev, e *Event) bool {
	switch prev.Action {
	case ActionCreated, ActionModified:
		return true
	case ActionRenamed:
		return prev.Ino() == e.Ino()
	}
	return false
}

func (s *awaitWriteFinish) addDebugInfo(e, previous *Event) {
	s.prov.Inherit(e, previous)
	s.prov.Link(e, stepAwaitWriteFinish, "previousEvent", previous)
	if previous.Stats != nil {
		s.prov.Annotate(e, stepAwaitWriteFinish, "previousStats", statsSummary(previous.Stats))
	}
}
