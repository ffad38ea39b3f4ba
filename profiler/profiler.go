// Package profiler - Thread-safe timing and metric tracking with periodic reports.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/go-facemask/event"
	"github.com/sirupsen/logrus"
)

var log = event.Log

// Options configures a Profiler.
type Options struct {
	// ReportInterval specifies how often Start emits status reports (default: 10s).
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
	// MaxSamples specifies the window of samples kept per series (default: 600).
	MaxSamples int `json:"max_samples" yaml:"max_samples"`
}

// OperationStats summarizes the durations recorded for one operation.
type OperationStats struct {
	Name  string        `json:"name"`
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// MetricStats summarizes the values recorded for one metric.
type MetricStats struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// timeTracker tracks operation timing statistics over a sliding window.
// Min and max cover the whole lifetime, the average covers the window.
type timeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// metricTracker tracks statistics for a custom metric over a sliding window.
type metricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

// Profiler records operation durations and custom metrics.
//
// All methods are safe for concurrent use. The zero value is not usable, use New.
type Profiler struct {
	reportInterval time.Duration
	maxSamples     int

	mu         sync.RWMutex
	startTime  time.Time
	operations map[string]*timeTracker
	metrics    map[string]*metricTracker

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a profiler with the specified options.
//
// Arguments:
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *Profiler: A ready profiler. Reporting starts with Start.
func New(opts Options) *Profiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}

	return &Profiler{
		reportInterval: opts.ReportInterval,
		maxSamples:     opts.MaxSamples,
		startTime:      time.Now(),
		operations:     make(map[string]*timeTracker),
		metrics:        make(map[string]*metricTracker),
	}
}

// Start begins emitting periodic status reports to the shared logger.
// Calling Start on a running profiler does nothing.
func (p *Profiler) Start() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return
	}
	p.running = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Report()
			}
		}
	}()
}

// Stop stops reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.runMu.Unlock()

	cancel()
	p.wg.Wait()
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call it when the operation completes.
//
// Example Usage:
// ```go
//
//	done := prof.StartOperation("inference")
//	outputs, err := runner.Run(ctx, input)
//	done()
//
// ```
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records the completion time of an operation.
func (p *Profiler) RecordDuration(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &timeTracker{minTime: duration, maxTime: duration}
		p.operations[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > p.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// RecordMetric records a custom metric value.
//
// Arguments:
//   - name: The name of the metric.
//   - value: The metric value to record.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.metrics[name]
	if !exists {
		tracker = &metricTracker{min: value, max: value}
		p.metrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > p.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++

	if value < tracker.min {
		tracker.min = value
	}
	if value > tracker.max {
		tracker.max = value
	}
}

// Operations returns a snapshot of all operation timings, sorted by name.
func (p *Profiler) Operations() []OperationStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]OperationStats, 0, len(p.operations))
	for name, t := range p.operations {
		s := OperationStats{Name: name, Count: t.count, Min: t.minTime, Max: t.maxTime}
		if len(t.durations) > 0 {
			s.Avg = t.totalTime / time.Duration(len(t.durations))
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Metrics returns a snapshot of all custom metrics, sorted by name.
func (p *Profiler) Metrics() []MetricStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]MetricStats, 0, len(p.metrics))
	for name, m := range p.metrics {
		s := MetricStats{Name: name, Count: m.count, Min: m.min, Max: m.max}
		if len(m.values) > 0 {
			s.Avg = m.sum / float64(len(m.values))
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Report writes one status entry per tracked series to the shared logger.
func (p *Profiler) Report() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.RLock()
	uptime := time.Since(p.startTime)
	p.mu.RUnlock()

	log.WithFields(logrus.Fields{
		"uptime":     uptime.Truncate(time.Millisecond).String(),
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": mem.HeapAlloc,
		"gc_cycles":  mem.NumGC,
	}).Info("profiler: runtime")

	for _, s := range p.Operations() {
		log.WithFields(logrus.Fields{
			"operation": s.Name,
			"count":     s.Count,
			"avg":       s.Avg.Truncate(time.Microsecond).String(),
			"min":       s.Min.Truncate(time.Microsecond).String(),
			"max":       s.Max.Truncate(time.Microsecond).String(),
		}).Info("profiler: timing")
	}

	for _, s := range p.Metrics() {
		log.WithFields(logrus.Fields{
			"metric": s.Name,
			"count":  s.Count,
			"avg":    s.Avg,
			"min":    s.Min,
			"max":    s.Max,
		}).Info("profiler: metric")
	}
}
