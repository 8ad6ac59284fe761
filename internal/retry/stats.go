package retry

import (
	"sync"
	"time"
)

// Stats tracks per-operation failure history. A successful attempt clears
// the operation's rolling error window.
type Stats struct {
	mu  sync.RWMutex
	ops map[string]*opStats
}

type opStats struct {
	failures  int64
	successes int64
	byKind    map[Kind]int64
	recent    []time.Time
	lastErr   time.Time
}

// recentCap bounds the per-op rolling window history.
const recentCap = 256

func NewStats() *Stats {
	return &Stats{ops: make(map[string]*opStats)}
}

func (s *Stats) get(op string) *opStats {
	st, ok := s.ops[op]
	if !ok {
		st = &opStats{byKind: make(map[Kind]int64)}
		s.ops[op] = st
	}
	return st
}

func (s *Stats) recordFailure(op string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(op)
	st.failures++
	st.byKind[kind]++
	st.lastErr = time.Now()
	st.recent = append(st.recent, st.lastErr)
	if len(st.recent) > recentCap {
		st.recent = st.recent[len(st.recent)-recentCap:]
	}
}

func (s *Stats) recordSuccess(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(op)
	st.successes++
	st.recent = st.recent[:0]
}

// ErrorRateHigh reports whether op accumulated at least threshold failures
// inside the trailing window without an intervening success.
func (s *Stats) ErrorRateHigh(op string, threshold int, window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.ops[op]
	if !ok {
		return false
	}
	cutoff := time.Now().Add(-window)
	n := 0
	for i := len(st.recent) - 1; i >= 0; i-- {
		if st.recent[i].Before(cutoff) {
			break
		}
		n++
		if n >= threshold {
			return true
		}
	}
	return false
}

// OpSnapshot is a point-in-time view of one operation's counters.
type OpSnapshot struct {
	Failures  int64          `json:"failures"`
	Successes int64          `json:"successes"`
	ByKind    map[Kind]int64 `json:"by_kind"`
	LastError time.Time      `json:"last_error"`
}

// Snapshot copies all per-operation counters.
func (s *Stats) Snapshot() map[string]OpSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]OpSnapshot, len(s.ops))
	for op, st := range s.ops {
		kinds := make(map[Kind]int64, len(st.byKind))
		for k, v := range st.byKind {
			kinds[k] = v
		}
		out[op] = OpSnapshot{
			Failures:  st.failures,
			Successes: st.successes,
			ByKind:    kinds,
			LastError: st.lastErr,
		}
	}
	return out
}

// Reset clears all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = make(map[string]*opStats)
}
