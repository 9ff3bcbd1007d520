package extract

import (
	"testing"
	"time"

	"github.com/oasisdevteambal/regula/internal/model"
)

func TestUsageStatsSnapshotPercentiles(t *testing.T) {
	stats := NewUsageStats(time.Hour)
	stats.Record(100, 10)
	stats.Record(200, 20)
	stats.Record(300, 30)
	stats.Record(400, 40)
	stats.Record(500, 50)

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.TotalTokens != 150 {
		t.Fatalf("expected tokens=150, got %d", snap.TotalTokens)
	}
	if snap.MinMs != 100 {
		t.Fatalf("expected min=100, got %d", snap.MinMs)
	}
	if snap.MaxMs != 500 {
		t.Fatalf("expected max=500, got %d", snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestUsageStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewUsageStats(10 * time.Millisecond)
	stats.Record(100, 5)
	time.Sleep(25 * time.Millisecond)

	snap := stats.Snapshot()
	if snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}

	stats.Record(200, 7)
	snap = stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1 for fresh sample, got %d", snap.Count)
	}
	if snap.TotalTokens != 7 {
		t.Fatalf("expected tokens=7 after prune, got %d", snap.TotalTokens)
	}
}

func TestUsageStatsRecordClampsNegativeDuration(t *testing.T) {
	stats := NewUsageStats(time.Hour)
	stats.Record(-10, 0)
	snap := stats.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1, got %d", snap.Count)
	}
	if snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Fatalf("expected clamped duration=0, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestSummarizeRuns_Empty(t *testing.T) {
	sum := SummarizeRuns(nil)
	if sum.Chunks != 0 || sum.TotalTokens != 0 {
		t.Errorf("expected zero summary, got %+v", sum)
	}
}

func TestSummarizeRuns_Aggregates(t *testing.T) {
	base := time.Now()
	stats := []model.ChunkProcessingStats{
		{ChunkID: "c1", StartedAt: base, FinishedAt: base.Add(100 * time.Millisecond), Attempts: 1, RulesExtracted: 3, TokensUsed: 500},
		{ChunkID: "c2", StartedAt: base, FinishedAt: base.Add(300 * time.Millisecond), Attempts: 3, RulesExtracted: 1, TokensUsed: 1500},
	}
	sum := SummarizeRuns(stats)
	if sum.Chunks != 2 {
		t.Errorf("expected 2 chunks, got %d", sum.Chunks)
	}
	if sum.Attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", sum.Attempts)
	}
	if sum.Rules != 4 {
		t.Errorf("expected 4 rules, got %d", sum.Rules)
	}
	if sum.TotalTokens != 2000 {
		t.Errorf("expected 2000 tokens, got %d", sum.TotalTokens)
	}
	if sum.AvgMs != 200 {
		t.Errorf("expected avg 200ms, got %f", sum.AvgMs)
	}
}
