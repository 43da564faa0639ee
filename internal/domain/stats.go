package domain

import (
	"sync"
	"time"
)

// RunStats holds monotonically increasing pipeline counters for one
// subscription. It is created at subscription start, mutated by the pipeline
// stages, and read through Snapshot by external reporters.
type RunStats struct {
	mu sync.Mutex

	activityReceived int64
	activityMatched  int64
	tradesDetected   int64
	tradesExecuted   int64
	tradesSkipped    int64
	tradesFailed     int64
	startTime        time.Time
}

// NewRunStats creates a RunStats with startTime set to now.
func NewRunStats() *RunStats {
	return &RunStats{startTime: time.Now().UTC()}
}

// StatsSnapshot is an immutable copy of the counters.
type StatsSnapshot struct {
	ActivityReceived int64
	ActivityMatched  int64
	TradesDetected   int64
	TradesExecuted   int64
	TradesSkipped    int64
	TradesFailed     int64
	StartTime        time.Time
}

// Uptime returns the elapsed time since the subscription started.
func (s StatsSnapshot) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

func (s *RunStats) AddActivityReceived(n int64) {
	s.mu.Lock()
	s.activityReceived += n
	s.mu.Unlock()
}

func (s *RunStats) MarkMatched() {
	s.mu.Lock()
	s.activityMatched++
	s.mu.Unlock()
}

func (s *RunStats) MarkDetected() {
	s.mu.Lock()
	s.tradesDetected++
	s.mu.Unlock()
}

func (s *RunStats) MarkExecuted() {
	s.mu.Lock()
	s.tradesExecuted++
	s.mu.Unlock()
}

func (s *RunStats) MarkSkipped() {
	s.mu.Lock()
	s.tradesSkipped++
	s.mu.Unlock()
}

func (s *RunStats) MarkFailed() {
	s.mu.Lock()
	s.tradesFailed++
	s.mu.Unlock()
}

// Snapshot returns a consistent copy of all counters.
func (s *RunStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		ActivityReceived: s.activityReceived,
		ActivityMatched:  s.activityMatched,
		TradesDetected:   s.tradesDetected,
		TradesExecuted:   s.tradesExecuted,
		TradesSkipped:    s.tradesSkipped,
		TradesFailed:     s.tradesFailed,
		StartTime:        s.startTime,
	}
}
