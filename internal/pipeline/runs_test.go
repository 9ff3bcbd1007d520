package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestGenerateULID_Format(t *testing.T) {
	id := generateULID()
	if len(id) != 26 {
		t.Fatalf("expected 26 characters, got %d (%q)", len(id), id)
	}
	for _, c := range id {
		if !strings.ContainsRune(crockford, c) {
			t.Errorf("expected Crockford Base32 characters only, got %q", c)
		}
	}
}

func TestGenerateULID_Monotonic(t *testing.T) {
	prev := generateULID()
	for i := 0; i < 100; i++ {
		next := generateULID()
		if next <= prev {
			t.Fatalf("expected IDs to sort ascending, got %q then %q", prev, next)
		}
		prev = next
	}
}

func TestRunPhase_Terminal(t *testing.T) {
	terminal := []RunPhase{PhaseCompleted, PhaseFailed, PhaseCancelled}
	for _, p := range terminal {
		if !p.Terminal() {
			t.Errorf("expected %q to be terminal", p)
		}
	}
	active := []RunPhase{PhaseQueued, PhaseParsing, PhaseChunking, PhaseExtracting}
	for _, p := range active {
		if p.Terminal() {
			t.Errorf("expected %q to not be terminal", p)
		}
	}
}

func TestRegistry_BeginRejectsSecondRun(t *testing.T) {
	reg := NewRegistry(time.Hour)
	run, err := reg.Begin("doc-1", "rules.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if _, err := reg.Begin("doc-1", "rules.txt"); err == nil {
		t.Fatal("expected second Begin for same document to fail")
	}

	// A second document is unaffected.
	if _, err := reg.Begin("doc-2", "other.txt"); err != nil {
		t.Fatalf("Begin() for second document error = %v", err)
	}

	// Once the run is terminal, a fresh run may begin.
	run.SetPhase(PhaseCompleted)
	if _, err := reg.Begin("doc-1", "rules.txt"); err != nil {
		t.Fatalf("Begin() after completion error = %v", err)
	}
}

func TestRegistry_CancelDeliversToRun(t *testing.T) {
	reg := NewRegistry(time.Hour)
	run, err := reg.Begin("doc-1", "rules.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	run.SetCancel(cancel)

	if !reg.Cancel("doc-1") {
		t.Fatal("expected Cancel to report delivery")
	}
	select {
	case <-ctx.Done():
	default:
		t.Error("expected run context to be cancelled")
	}
}

func TestRegistry_CancelUnknownDocument(t *testing.T) {
	reg := NewRegistry(time.Hour)
	if reg.Cancel("nonexistent") {
		t.Error("expected Cancel to report nothing delivered")
	}
}

func TestRegistry_CancelTerminalRun(t *testing.T) {
	reg := NewRegistry(time.Hour)
	run, err := reg.Begin("doc-1", "rules.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	run.SetCancel(cancel)
	run.SetPhase(PhaseCompleted)

	if reg.Cancel("doc-1") {
		t.Error("expected Cancel on terminal run to report nothing delivered")
	}
}

func TestRegistry_ForDocument(t *testing.T) {
	reg := NewRegistry(time.Hour)
	run, err := reg.Begin("doc-1", "rules.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	got := reg.ForDocument("doc-1")
	if got == nil {
		t.Fatal("expected to find run")
	}
	if got.ID != run.ID {
		t.Errorf("expected run %q, got %q", run.ID, got.ID)
	}
	if reg.ForDocument("doc-2") != nil {
		t.Error("expected nil for unknown document")
	}
}

func TestRegistry_CleanupEvictsOnlyExpiredTerminalRuns(t *testing.T) {
	reg := NewRegistry(50 * time.Millisecond)

	done, err := reg.Begin("doc-done", "a.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	done.SetPhase(PhaseCompleted)

	active, err := reg.Begin("doc-active", "b.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	active.SetPhase(PhaseExtracting)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)
	reg.Cleanup()

	if reg.Get(done.ID) != nil {
		t.Error("expected expired terminal run to be evicted")
	}
	if reg.Get(active.ID) == nil {
		t.Error("expected active run to survive cleanup")
	}

	// Eviction frees the document for a new run.
	if _, err := reg.Begin("doc-done", "a.txt"); err != nil {
		t.Fatalf("Begin() after eviction error = %v", err)
	}
}

func TestRun_ProgressAccumulates(t *testing.T) {
	reg := NewRegistry(time.Hour)
	run, err := reg.Begin("doc-1", "rules.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	run.SetTotalChunks(7)
	run.IncrChunksProcessed()
	run.IncrChunksProcessed()
	run.AddRules(5, 4)
	run.AddRules(3, 3)
	run.AddError("chunk 3 failed")

	snap := run.Snapshot()
	if snap.Progress.TotalChunks != 7 {
		t.Errorf("expected 7 total chunks, got %d", snap.Progress.TotalChunks)
	}
	if snap.Progress.ChunksProcessed != 2 {
		t.Errorf("expected 2 chunks processed, got %d", snap.Progress.ChunksProcessed)
	}
	if snap.Progress.RulesExtracted != 8 {
		t.Errorf("expected 8 rules extracted, got %d", snap.Progress.RulesExtracted)
	}
	if snap.Progress.RulesIndexed != 7 {
		t.Errorf("expected 7 rules indexed, got %d", snap.Progress.RulesIndexed)
	}
	if len(snap.Progress.Errors) != 1 {
		t.Errorf("expected 1 error, got %d", len(snap.Progress.Errors))
	}
}

func TestRun_SnapshotErrorsNotNil(t *testing.T) {
	// Snapshot should always return a non-nil errors slice.
	reg := NewRegistry(time.Hour)
	run, err := reg.Begin("doc-1", "rules.txt")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	snap := run.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}
