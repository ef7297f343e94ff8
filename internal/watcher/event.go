package watcher

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mvp-joe/tandem/internal/stater"
)

// Action is what happened to a path, as understood by the pipeline.
type Action string

const (
	ActionCreated         Action = "created"
	ActionModified        Action = "modified"
	ActionDeleted         Action = "deleted"
	ActionRenamed         Action = "renamed"
	ActionScan            Action = "scan"
	ActionInitialScanDone Action = "initial-scan-done"
	ActionIgnored         Action = "ignored"
)

// Kind is the type of the entry an event is about.
type Kind = stater.Kind

const (
	KindFile      = stater.KindFile
	KindDirectory = stater.KindDirectory
	KindSymlink   = stater.KindSymlink
	KindUnknown   = stater.KindUnknown
)

// Unresolved explains why an event could not be completed. Unresolved
// events travel down the pipeline so that the incomplete fixer can rebuild
// them, but they are never dispatched.
type Unresolved struct {
	Step   string
	Reason string
}

func (u *Unresolved) Error() string {
	return fmt.Sprintf("%s: %s", u.Step, u.Reason)
}

// Event is a single filesystem change candidate.
type Event struct {
	// ID keys the event in the provenance table. Rebuilt events get a new one.
	ID      string
	Action  Action
	Kind    Kind
	Path    string // slash separated, relative to the synchronized root
	OldPath string // renamed events only

	Stats      *stater.Stats
	MD5Sum     string
	DeletedIno stater.InodeKey

	Unresolved *Unresolved

	NoIgnore  bool
	Overwrite bool
}

// NewEvent creates an event with a fresh ID.
func NewEvent(action Action, kind Kind, p string) *Event {
	return &Event{
		ID:     uuid.NewString(),
		Action: action,
		Kind:   kind,
		Path:   p,
	}
}

// initialScanDone is the barrier appended by the producer after the
// initial scan.
func initialScanDone() *Event {
	return NewEvent(ActionInitialScanDone, KindUnknown, ".")
}

// Incomplete reports whether the event is still unresolved.
func (e *Event) Incomplete() bool {
	return e.Unresolved != nil
}

// markUnresolved flags the event as unresolved by step. Unresolved events
// never carry a checksum.
func (e *Event) markUnresolved(step string, err error) {
	e.Unresolved = &Unresolved{Step: step, Reason: err.Error()}
	e.MD5Sum = ""
}

// Ino returns the identity of the entry: from the stats when available,
// from the inode recorded at deletion time otherwise.
func (e *Event) Ino() stater.InodeKey {
	if key := e.Stats.Key(); key != "" {
		return key
	}
	return e.DeletedIno
}

// Clone copies the event under a new ID.
func (e *Event) Clone() *Event {
	c := *e
	c.ID = uuid.NewString()
	if e.Unresolved != nil {
		u := *e.Unresolved
		c.Unresolved = &u
	}
	return &c
}

func (e *Event) String() string {
	if e.OldPath != "" {
		return fmt.Sprintf("%s %s %s -> %s", e.Action, e.Kind, e.OldPath, e.Path)
	}
	return fmt.Sprintf("%s %s %s", e.Action, e.Kind, e.Path)
}

// Batch is an ordered group of events produced by one pipeline tick.
type Batch []*Event

// Paths lists the event paths, mostly for logging.
func (b Batch) Paths() []string {
	paths := make([]string, len(b))
	for i, e := range b {
		paths[i] = e.Path
	}
	return paths
}

// isParentPath reports whether child is strictly under parent.
func isParentPath(parent, child string) bool {
	return parent != "" && child != "" && parent != child &&
		strings.HasPrefix(child+"/", parent+"/")
}

// isSameOrParentPath reports whether child is parent or under it.
func isSameOrParentPath(parent, child string) bool {
	return parent != "" && strings.HasPrefix(child+"/", parent+"/")
}

// replacePrefix rewrites the leading from component of p into to.
func replacePrefix(p, from, to string) string {
	if p == from {
		return to
	}
	if strings.HasPrefix(p, from+"/") {
		return to + p[len(from):]
	}
	return p
}

// cleanRel normalizes a relative path to the pipeline's slash form.
func cleanRel(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	if p == "/" {
		return "."
	}
	return strings.TrimPrefix(p, "/")
}
