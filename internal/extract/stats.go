package extract

import (
	"sort"
	"sync"
	"time"

	"github.com/oasisdevteambal/regula/internal/model"
)

type sample struct {
	timestamp  time.Time
	durationMs int64
	tokens     int64
}

// UsageSnapshot is a point-in-time aggregate of extraction call latencies
// and token spend within the rolling window.
type UsageSnapshot struct {
	Count       int     `json:"count"`
	TotalTokens int64   `json:"total_tokens"`
	MinMs       int64   `json:"min_ms"`
	MaxMs       int64   `json:"max_ms"`
	AvgMs       float64 `json:"avg_ms"`
	P50Ms       float64 `json:"p50_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
}

// UsageStats tracks recent extraction call latencies and token usage within
// a rolling window.
type UsageStats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
}

func NewUsageStats(maxAge time.Duration) *UsageStats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &UsageStats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
	}
}

func (s *UsageStats) Record(durationMs, tokens int64) {
	if durationMs < 0 {
		durationMs = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	s.samples = append(s.samples, sample{
		timestamp:  now,
		durationMs: durationMs,
		tokens:     tokens,
	})
}

func (s *UsageStats) Snapshot() UsageSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	if len(s.samples) == 0 {
		return UsageSnapshot{}
	}

	values := make([]int64, 0, len(s.samples))
	var sum, tokens int64
	for _, sm := range s.samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		tokens += sm.tokens
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return UsageSnapshot{
		Count:       len(values),
		TotalTokens: tokens,
		MinMs:       values[0],
		MaxMs:       values[len(values)-1],
		AvgMs:       float64(sum) / float64(len(values)),
		P50Ms:       percentile(values, 50),
		P95Ms:       percentile(values, 95),
		P99Ms:       percentile(values, 99),
	}
}

func (s *UsageStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

// RunSummary aggregates the durable per-chunk stats of one or more
// processing runs, as read back from the store.
type RunSummary struct {
	Chunks      int     `json:"chunks"`
	Attempts    int     `json:"attempts"`
	Rules       int     `json:"rules"`
	TotalTokens int64   `json:"total_tokens"`
	AvgMs       float64 `json:"avg_ms"`
	P95Ms       float64 `json:"p95_ms"`
}

// SummarizeRuns folds stored chunk stats into one summary.
func SummarizeRuns(stats []model.ChunkProcessingStats) RunSummary {
	if len(stats) == 0 {
		return RunSummary{}
	}
	durations := make([]int64, 0, len(stats))
	var sum RunSummary
	var totalMs int64
	for _, st := range stats {
		sum.Chunks++
		sum.Attempts += st.Attempts
		sum.Rules += st.RulesExtracted
		sum.TotalTokens += st.TokensUsed
		ms := st.FinishedAt.Sub(st.StartedAt).Milliseconds()
		if ms < 0 {
			ms = 0
		}
		durations = append(durations, ms)
		totalMs += ms
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	sum.AvgMs = float64(totalMs) / float64(len(durations))
	sum.P95Ms = percentile(durations, 95)
	return sum
}

func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	if lower == upper {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}
