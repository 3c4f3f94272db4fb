package mechanics

import (
	"sync/atomic"
	"time"
)

// PerformanceMetrics accumulates execution timings without locking.
type PerformanceMetrics struct {
	executions atomic.Uint64
	failures   atomic.Uint64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64
	lastNanos  atomic.Int64
}

func (p *PerformanceMetrics) Record(elapsed time.Duration, failed bool) {
	n := elapsed.Nanoseconds()
	p.executions.Add(1)
	if failed {
		p.failures.Add(1)
	}
	p.totalNanos.Add(n)
	p.lastNanos.Store(n)
	for {
		cur := p.maxNanos.Load()
		if n <= cur || p.maxNanos.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (p *PerformanceMetrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Executions: p.executions.Load(),
		Failures:   p.failures.Load(),
		Total:      time.Duration(p.totalNanos.Load()),
		Max:        time.Duration(p.maxNanos.Load()),
		Last:       time.Duration(p.lastNanos.Load()),
	}
	if s.Executions > 0 {
		s.Average = s.Total / time.Duration(s.Executions)
	}
	return s
}

func (p *PerformanceMetrics) Reset() {
	p.executions.Store(0)
	p.failures.Store(0)
	p.totalNanos.Store(0)
	p.maxNanos.Store(0)
	p.lastNanos.Store(0)
}
