package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RunPhase represents the state of an ingestion run.
type RunPhase string

const (
	PhaseQueued     RunPhase = "queued"
	PhaseParsing    RunPhase = "parsing"
	PhaseChunking   RunPhase = "chunking"
	PhaseExtracting RunPhase = "extracting"
	PhaseCompleted  RunPhase = "completed"
	PhaseFailed     RunPhase = "failed"
	PhaseCancelled  RunPhase = "cancelled"
)

// Terminal reports whether the run has stopped moving.
func (p RunPhase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Run tracks the state of a single document ingestion.
type Run struct {
	mu sync.Mutex

	ID         string `json:"run_id"`
	DocumentID string `json:"document_id"`

	Phase    RunPhase `json:"phase"`
	Filename string   `json:"filename"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	cancel context.CancelFunc
	errors []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks     int      `json:"total_chunks"`
	ChunksProcessed int      `json:"chunks_processed"`
	RulesExtracted  int      `json:"rules_extracted"`
	RulesIndexed    int      `json:"rules_indexed"`
	Errors          []string `json:"errors"`
}

// Registry is a thread-safe in-memory run registry with TTL eviction.
// At most one non-terminal run exists per document.
type Registry struct {
	mu    sync.Mutex
	runs  map[string]*Run
	byDoc map[string]string
	ttl   time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		runs:  make(map[string]*Run),
		byDoc: make(map[string]string),
		ttl:   ttl,
	}
}

// Begin registers a new run for a document. It fails if the document
// already has a run in flight.
func (r *Registry) Begin(documentID, filename string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prevID, ok := r.byDoc[documentID]; ok {
		if prev := r.runs[prevID]; prev != nil && !prev.phase().Terminal() {
			return nil, fmt.Errorf("document %s already has run %s in flight", documentID, prevID)
		}
	}
	now := time.Now()
	run := &Run{
		ID:         generateULID(),
		DocumentID: documentID,
		Phase:      PhaseQueued,
		Filename:   filename,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.runs[run.ID] = run
	r.byDoc[documentID] = run.ID
	return run, nil
}

func (r *Registry) Get(id string) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

// ForDocument returns the most recent run for a document, or nil.
func (r *Registry) ForDocument(documentID string) *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byDoc[documentID]
	if !ok {
		return nil
	}
	return r.runs[id]
}

// Cancel stops the in-flight run for a document, if any. It reports
// whether a cancellation was delivered.
func (r *Registry) Cancel(documentID string) bool {
	r.mu.Lock()
	id, ok := r.byDoc[documentID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	run := r.runs[id]
	r.mu.Unlock()
	if run == nil || run.phase().Terminal() {
		return false
	}
	run.mu.Lock()
	cancel := run.cancel
	run.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Cleanup removes expired terminal runs.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, run := range r.runs {
		run.mu.Lock()
		expired := run.Phase.Terminal() && now.Sub(run.UpdatedAt) > r.ttl
		docID := run.DocumentID
		run.mu.Unlock()
		if expired {
			delete(r.runs, id)
			if r.byDoc[docID] == id {
				delete(r.byDoc, docID)
			}
		}
	}
}

func (run *Run) phase() RunPhase {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.Phase
}

// SetPhase updates the run phase atomically.
func (run *Run) SetPhase(phase RunPhase) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.Phase = phase
	run.UpdatedAt = time.Now()
}

// SetCancel wires the context cancel used by Registry.Cancel.
func (run *Run) SetCancel(cancel context.CancelFunc) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.cancel = cancel
}

// AddError records an error.
func (run *Run) AddError(msg string) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.errors = append(run.errors, msg)
	run.Progress.Errors = run.errors
	run.UpdatedAt = time.Now()
}

// IncrChunksProcessed atomically increments chunks processed.
func (run *Run) IncrChunksProcessed() {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.Progress.ChunksProcessed++
	run.UpdatedAt = time.Now()
}

// AddRules records extracted/indexed rule counts.
func (run *Run) AddRules(extracted, indexed int) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.Progress.RulesExtracted += extracted
	run.Progress.RulesIndexed += indexed
	run.UpdatedAt = time.Now()
}

// SetTotalChunks records total chunk count.
func (run *Run) SetTotalChunks(n int) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.Progress.TotalChunks = n
	run.UpdatedAt = time.Now()
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID         string   `json:"run_id"`
	DocumentID string   `json:"document_id"`
	Phase      RunPhase `json:"phase"`
	Filename   string   `json:"filename"`
	Progress   Progress `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (run *Run) Snapshot() RunSnapshot {
	run.mu.Lock()
	defer run.mu.Unlock()
	errs := run.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return RunSnapshot{
		ID:         run.ID,
		DocumentID: run.DocumentID,
		Phase:      run.Phase,
		Filename:   run.Filename,
		Progress: Progress{
			TotalChunks:     run.Progress.TotalChunks,
			ChunksProcessed: run.Progress.ChunksProcessed,
			RulesExtracted:  run.Progress.RulesExtracted,
			RulesIndexed:    run.Progress.RulesIndexed,
			Errors:          errs,
		},
	}
}
