package poller

import (
	"sync"
	"time"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
)

// Stats collects loop counters.
type Stats struct {
	mu sync.Mutex

	cycles    map[string]int64
	failures  map[string]int64
	delivered map[diary.Kind]int64
	lastCycle time.Time
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Cycles    map[string]int64
	Failures  map[string]int64
	Delivered map[diary.Kind]int64
	LastCycle time.Time
}

func newStats() *Stats {
	return &Stats{
		cycles:    make(map[string]int64),
		failures:  make(map[string]int64),
		delivered: make(map[diary.Kind]int64),
	}
}

func (s *Stats) recordCycle(loop string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles[loop]++
	if err != nil {
		s.failures[loop]++
	}
	s.lastCycle = time.Now()
}

func (s *Stats) recordDelivered(kind diary.Kind, n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[kind] += int64(n)
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StatsSnapshot{
		Cycles:    make(map[string]int64, len(s.cycles)),
		Failures:  make(map[string]int64, len(s.failures)),
		Delivered: make(map[diary.Kind]int64, len(s.delivered)),
		LastCycle: s.lastCycle,
	}
	for k, v := range s.cycles {
		out.Cycles[k] = v
	}
	for k, v := range s.failures {
		out.Failures[k] = v
	}
	for k, v := range s.delivered {
		out.Delivered[k] = v
	}
	return out
}
