package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/mvp-joe/tandem/internal/stater"
)

// DefaultProvenanceSize bounds the number of events with recorded notes.
const DefaultProvenanceSize = 10_000

// Note is a diagnostic annotation left on an event by a stage.
type Note struct {
	Step  string
	Key   string
	Value string
	// Ref is the ID of a related event, if any.
	Ref string
}

func (n Note) String() string {
	if n.Ref != "" {
		return fmt.Sprintf("%s.%s=%s (%s)", n.Step, n.Key, n.Value, n.Ref)
	}
	return fmt.Sprintf("%s.%s=%s", n.Step, n.Key, n.Value)
}

// Provenance records why stages changed events. Notes live in a bounded
// side-table keyed by event ID, so events never embed each other; old
// entries are evicted once the table is full.
//
// A nil *Provenance records nothing.
type Provenance struct {
	mu    sync.Mutex
	notes otter.Cache[string, []Note]
}

// NewProvenance creates a table holding notes for up to size events.
func NewProvenance(size int) (*Provenance, error) {
	if size <= 0 {
		size = DefaultProvenanceSize
	}
	cache, err := otter.MustBuilder[string, []Note](size).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build provenance table: %w", err)
	}
	return &Provenance{notes: cache}, nil
}

// Annotate attaches a note to e.
func (p *Provenance) Annotate(e *Event, step, key string, value any) {
	p.add(e, Note{Step: step, Key: key, Value: fmt.Sprint(value)})
}

// Link attaches a note to e that refers to other.
func (p *Provenance) Link(e *Event, step, key string, other *Event) {
	p.add(e, Note{Step: step, Key: key, Value: other.String(), Ref: other.ID})
}

// Inherit copies the notes of from onto to, for events rebuilt from others.
func (p *Provenance) Inherit(to, from *Event) {
	if p == nil || to.ID == from.ID {
		return
	}
	for _, n := range p.Notes(from) {
		p.add(to, n)
	}
}

func (p *Provenance) add(e *Event, n Note) {
	if p == nil || e == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	notes, _ := p.notes.Get(e.ID)
	notes = append(notes[:len(notes):len(notes)], n)
	p.notes.Set(e.ID, notes)
}

// Notes returns the notes recorded for e, oldest first.
func (p *Provenance) Notes(e *Event) []Note {
	if p == nil || e == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	notes, _ := p.notes.Get(e.ID)
	return append([]Note(nil), notes...)
}

// Find returns the value of the most recent note for step and key.
func (p *Provenance) Find(e *Event, step, key string) (Note, bool) {
	notes := p.Notes(e)
	for i := len(notes) - 1; i >= 0; i-- {
		if notes[i].Step == step && notes[i].Key == key {
			return notes[i], true
		}
	}
	return Note{}, false
}

// Close releases the table.
func (p *Provenance) Close() {
	if p == nil {
		return
	}
	p.notes.Close()
}

func statsSummary(s *stater.Stats) string {
	return fmt.Sprintf("ino=%s size=%d mtime=%s ctime=%s",
		s.Key(), s.Size, s.Mtime.Format(time.RFC3339Nano), s.Ctime.Format(time.RFC3339Nano))
}
