package ident

import (
	"time"

	"code.dogecoin.org/governor"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

var (
	queriesTotal  metrics.Counter
	queriesFailed metrics.Counter
	liveConns     metrics.Counter
	resolveTimer  metrics.Timer
)

func init() {
	queriesTotal = metrics.NewCounter()
	metrics.Register("ident_queries", queriesTotal)

	queriesFailed = metrics.NewCounter()
	metrics.Register("ident_queries_failed", queriesFailed)

	liveConns = metrics.NewCounter()
	metrics.Register("ident_live_connections", liveConns)

	resolveTimer = metrics.NewTimer()
	metrics.Register("ident_resolve_timer", resolveTimer)
}

// Snapshot returns the current value of every registered metric,
// flattened for logging or the status API.
func Snapshot() map[string]interface{} {
	snap := make(map[string]interface{})
	metrics.DefaultRegistry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			snap[name] = m.Count()
		case metrics.Timer:
			t := m.Snapshot()
			snap[name+"_count"] = t.Count()
			snap[name+"_mean_ms"] = t.Mean() / float64(time.Millisecond)
			snap[name+"_p99_ms"] = t.Percentile(0.99) / float64(time.Millisecond)
		}
	})
	return snap
}

// Stats periodically logs the metrics registry.
type Stats struct {
	governor.ServiceCtx
	interval time.Duration
}

func NewStats(interval time.Duration) governor.Service {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Stats{interval: interval}
}

// goroutine
func (s *Stats) Run() {
	for {
		if s.Sleep(s.interval) {
			return // shutting down
		}
		logrus.WithFields(logrus.Fields(Snapshot())).Info("stats")
	}
}
