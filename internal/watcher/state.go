package watcher

import (
	"sync"
	"time"

	"github.com/mvp-joe/tandem/internal/stater"
	"github.com/mvp-joe/tandem/internal/storage"
)

// PipelineState is the mutable state of one watch session. Each stage owns
// its part and is the only goroutine touching it.
type PipelineState struct {
	AwaitWriteFinish  AwaitWriteFinishState
	InitialDiff       InitialDiffState
	IdenticalRenaming IdenticalRenamingState
	Incomplete        IncompleteState
	Overwrite         OverwriteState
	Dispatch          DispatchState
}

// NewPipelineState builds the state of a new session. docs seeds the
// initial diff with the documents known to exist locally.
func NewPipelineState(docs []*storage.Metadata) *PipelineState {
	s := &PipelineState{}
	s.InitialDiff.seed(docs)
	s.Overwrite.deletedByPath = make(map[string]*Event)
	s.IdenticalRenaming.deletedByID = make(map[string]*Event)
	return s
}

// AwaitWriteFinishState holds the batches waiting for writes to settle.
type AwaitWriteFinishState struct {
	waiting waitQueue
}

// InitialDiffState correlates the initial scan with the known documents.
type InitialDiffState struct {
	waiting      waitQueue
	renamed      []*Event
	scannedPaths map[string]struct{}
	byInode      map[stater.InodeKey]*storage.Metadata
	// done is set once the initial scan has been reconciled; the stage is
	// a pass-through afterwards.
	done bool
}

func (s *InitialDiffState) seed(docs []*storage.Metadata) {
	s.scannedPaths = make(map[string]struct{})
	s.byInode = make(map[stater.InodeKey]*storage.Metadata, len(docs))
	for _, doc := range docs {
		if key := doc.InodeKey(); key != "" {
			s.byInode[key] = doc
		}
	}
}

func (s *InitialDiffState) clear() {
	s.waiting = waitQueue{}
	s.renamed = nil
	s.scannedPaths = nil
	s.byInode = nil
	s.done = true
}

// Pending returns the number of documents not observed yet.
func (s *InitialDiffState) Pending() int {
	return len(s.byInode)
}

// IdenticalRenamingState indexes recent deletions by normalized id.
type IdenticalRenamingState struct {
	deletedByID map[string]*Event
	pending     identicalPending
}

type identicalPending struct {
	deletedByID map[string]*Event
	events      Batch
	deadline    time.Time // zero when nothing is held
}

// IncompleteState holds the unresolved events waiting for completion.
type IncompleteState struct {
	items []incompleteItem
}

// Len returns the number of pending unresolved events.
func (s *IncompleteState) Len() int {
	return len(s.items)
}

// OverwriteState indexes recent deletions by path.
type OverwriteState struct {
	deletedByPath map[string]*Event
	pending       []*overwritePending
}

// DispatchState holds the trailing local-end timer.
type DispatchState struct {
	mu       sync.Mutex
	localEnd *time.Timer
}
