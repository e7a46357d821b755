// Package service contains the bridge's application services: capability
// initialization, call dispatch, statistics and auditing.
package service

import (
	"maps"
	"sync"
	"sync/atomic"
)

// StatsService tracks runtime statistics using lock-free atomic counters.
// All counter operations are safe for concurrent access from multiple goroutines.
type StatsService struct {
	solved         atomic.Int64
	cancelled      atomic.Int64
	declined       atomic.Int64
	headers        atomic.Int64
	errors         atomic.Int64
	notImplemented atomic.Int64
	duplicates     atomic.Int64
	pending        atomic.Int64

	mu          sync.Mutex
	methodCalls map[string]int64
}

// NewStatsService creates a new StatsService with all counters initialized to zero.
func NewStatsService() *StatsService {
	return &StatsService{
		methodCalls: make(map[string]int64),
	}
}

// RecordCall increments the call counter for method.
func (s *StatsService) RecordCall(method string) {
	s.mu.Lock()
	s.methodCalls[method]++
	s.mu.Unlock()
}

// RecordHeaders counts a successful header reply.
func (s *StatsService) RecordHeaders() { s.headers.Add(1) }

// RecordDeclined counts a "false" reply.
func (s *StatsService) RecordDeclined() { s.declined.Add(1) }

// RecordSolved counts a "solved" reply.
func (s *StatsService) RecordSolved() { s.solved.Add(1) }

// RecordCancelled counts a "cancelled" reply.
func (s *StatsService) RecordCancelled() { s.cancelled.Add(1) }

// RecordError counts an error reply.
func (s *StatsService) RecordError() { s.errors.Add(1) }

// RecordNotImplemented counts a not-implemented reply.
func (s *StatsService) RecordNotImplemented() { s.notImplemented.Add(1) }

// RecordDuplicate counts a suppressed second reply or callback.
func (s *StatsService) RecordDuplicate() { s.duplicates.Add(1) }

// ChallengeStarted marks a call as awaiting its completion callback.
func (s *StatsService) ChallengeStarted() { s.pending.Add(1) }

// ChallengeFinished clears a pending mark.
func (s *StatsService) ChallengeFinished() { s.pending.Add(-1) }

// Pending returns the number of calls awaiting a deferred reply.
func (s *StatsService) Pending() int64 { return s.pending.Load() }

// Duplicates returns the number of suppressed replies.
func (s *StatsService) Duplicates() int64 { return s.duplicates.Load() }

// Stats holds a snapshot of all counters at a point in time.
type Stats struct {
	Headers        int64            `json:"headers"`
	Declined       int64            `json:"declined"`
	Solved         int64            `json:"solved"`
	Cancelled      int64            `json:"cancelled"`
	Errors         int64            `json:"errors"`
	NotImplemented int64            `json:"not_implemented"`
	Duplicates     int64            `json:"duplicates"`
	Pending        int64            `json:"pending"`
	MethodCalls    map[string]int64 `json:"method_calls"`
}

// GetStats returns a snapshot of all counters.
// The snapshot is consistent per-counter but not atomically across all counters.
func (s *StatsService) GetStats() Stats {
	s.mu.Lock()
	mc := maps.Clone(s.methodCalls)
	s.mu.Unlock()

	return Stats{
		Headers:        s.headers.Load(),
		Declined:       s.declined.Load(),
		Solved:         s.solved.Load(),
		Cancelled:      s.cancelled.Load(),
		Errors:         s.errors.Load(),
		NotImplemented: s.notImplemented.Load(),
		Duplicates:     s.duplicates.Load(),
		Pending:        s.pending.Load(),
		MethodCalls:    mc,
	}
}

// Reset sets all counters except pending to zero.
func (s *StatsService) Reset() {
	s.headers.Store(0)
	s.declined.Store(0)
	s.solved.Store(0)
	s.cancelled.Store(0)
	s.errors.Store(0)
	s.notImplemented.Store(0)
	s.duplicates.Store(0)

	s.mu.Lock()
	s.methodCalls = make(map[string]int64)
	s.mu.Unlock()
}
