// Package benchmark - Measures engine throughput across frame sizes and encodings.
package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-facemask/event"
	"github.com/nvr-ai/go-facemask/images"
	"github.com/nvr-ai/go-facemask/models/postprocess"
	"github.com/nvr-ai/go-facemask/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = event.Log

// ErrNoSources is returned when a scenario runs without source frames.
var ErrNoSources = errors.New("no source frames loaded")

// Resolution represents frame dimensions for benchmarking
type Resolution struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name"`
}

// CommonResolutions are typical camera frame sizes.
var CommonResolutions = []Resolution{
	{Width: 640, Height: 480, Name: "VGA"},
	{Width: 1280, Height: 720, Name: "720p"},
	{Width: 1920, Height: 1080, Name: "1080p"},
}

// Scenario defines a specific test configuration
type Scenario struct {
	Name        string             `json:"name"`
	Resolution  Resolution         `json:"resolution"`
	ImageFormat images.ImageFormat `json:"image_format"`
	Quality     int                `json:"quality"`
	Iterations  int                `json:"iterations"`
	WarmupRuns  int                `json:"warmup_runs"`
}

// Scenarios returns one scenario per resolution and format pair.
func Scenarios(resolutions []Resolution, formats []images.ImageFormat, iterations, warmups int) []Scenario {
	scenarios := make([]Scenario, 0, len(resolutions)*len(formats))
	for _, r := range resolutions {
		for _, f := range formats {
			scenarios = append(scenarios, Scenario{
				Name:        fmt.Sprintf("%s_%s", r.Name, f),
				Resolution:  r,
				ImageFormat: f,
				Quality:     90,
				Iterations:  iterations,
				WarmupRuns:  warmups,
			})
		}
	}
	return scenarios
}

// PerformanceMetrics captures the measurements of one scenario.
type PerformanceMetrics struct {
	Scenario          Scenario      `json:"scenario"`
	Timestamp         time.Time     `json:"timestamp"`
	TotalDuration     time.Duration `json:"total_duration"`
	DecodeDuration    time.Duration `json:"decode_duration"`
	InferenceDuration time.Duration `json:"inference_duration"`
	FramesPerSecond   float64       `json:"frames_per_second"`
	MemoryStats       MemoryMetrics `json:"memory_stats"`
	Latency           LatencyStats  `json:"latency"`
	DetectionCount    int           `json:"detection_count"`
	ErrorRate         float64       `json:"error_rate"`
}

// LatencyStats summarizes per-frame latency, decode plus inference, in
// milliseconds. Failed frames are not counted.
type LatencyStats struct {
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// Predictor is the part of the inference engine the suite measures.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) ([]postprocess.Detection, error)
}

// Suite manages and executes benchmark scenarios
type Suite struct {
	engine    Predictor
	outputDir string

	mu        sync.RWMutex
	sources   []image.Image
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - engine: The engine under test.
//   - outputDir: Where SaveResults writes its reports.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(engine Predictor, outputDir string) *Suite {
	return &Suite{engine: engine, outputDir: outputDir}
}

// AddScenario adds a scenario to the suite.
func (s *Suite) AddScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append(s.scenarios, scenario)
}

// AddSource adds a source frame. Every scenario re-encodes the sources at its
// own resolution and format.
func (s *Suite) AddSource(img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, img)
}

// LoadSources decodes image files into source frames.
// Files that cannot be decoded are skipped with a warning.
func (s *Suite) LoadSources(files []util.ImageFile) error {
	loaded := 0
	for _, f := range files {
		img, _, err := images.Decode(f.Data)
		if err != nil {
			log.WithError(err).WithField("file", f.Path).Warn("skipping benchmark source")
			continue
		}
		s.AddSource(img)
		loaded++
	}
	if loaded == 0 {
		return ErrNoSources
	}
	return nil
}

// RunScenario executes a single benchmark scenario.
//
// Every iteration decodes one encoded frame and runs the engine on it.
//
// Arguments:
//   - ctx: Cancels the run between iterations.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: ErrNoSources, an encoding error or the context error.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	frames, err := s.prepare(scenario)
	if err != nil {
		return nil, err
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, _, _, err := s.processFrame(ctx, frames[i%len(frames)]); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := &PerformanceMetrics{Scenario: scenario, Timestamp: time.Now()}
	latencies := make(stats.Float64Data, 0, scenario.Iterations)
	failures := 0
	start := time.Now()

	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		count, decode, inference, err := s.processFrame(ctx, frames[i%len(frames)])
		metrics.DecodeDuration += decode
		metrics.InferenceDuration += inference
		if err != nil {
			failures++
			continue
		}
		metrics.DetectionCount += count
		latencies = append(latencies, float64((decode+inference).Nanoseconds())/1e6)
	}

	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	if scenario.Iterations > 0 {
		metrics.FramesPerSecond = float64(scenario.Iterations) / metrics.TotalDuration.Seconds()
		metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	}
	metrics.Latency = summarizeLatency(latencies)
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}

	return metrics, nil
}

func summarizeLatency(samples stats.Float64Data) LatencyStats {
	if samples.Len() == 0 {
		return LatencyStats{}
	}

	var l LatencyStats
	l.MeanMs, _ = samples.Mean()
	l.P50Ms, _ = samples.Percentile(50)
	l.P95Ms, _ = samples.Percentile(95)
	l.P99Ms, _ = samples.Percentile(99)
	return l
}

// prepare encodes every source at the scenario resolution and format.
func (s *Suite) prepare(scenario Scenario) ([][]byte, error) {
	s.mu.RLock()
	sources := append([]image.Image(nil), s.sources...)
	s.mu.RUnlock()

	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	frames := make([][]byte, 0, len(sources))
	for _, src := range sources {
		img := resize.Resize(uint(scenario.Resolution.Width), uint(scenario.Resolution.Height), src, resize.Bilinear)
		data, err := images.Encode(img, scenario.ImageFormat, scenario.Quality)
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}

func (s *Suite) processFrame(ctx context.Context, data []byte) (int, time.Duration, time.Duration, error) {
	start := time.Now()
	img, _, err := images.Decode(data)
	decode := time.Since(start)
	if err != nil {
		return 0, decode, 0, err
	}

	start = time.Now()
	dets, err := s.engine.Predict(ctx, img)
	inference := time.Since(start)
	if err != nil {
		return 0, decode, inference, err
	}
	return len(dets), decode, inference, nil
}

// RunAllScenarios executes all configured scenarios. A failed scenario is
// logged and skipped.
func (s *Suite) RunAllScenarios(ctx context.Context) error {
	s.mu.RLock()
	scenarios := append([]Scenario(nil), s.scenarios...)
	s.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := s.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).WithField("scenario", scenario.Name).Error("scenario failed")
			continue
		}

		s.mu.Lock()
		s.results = append(s.results, *metrics)
		s.mu.Unlock()

		log.WithFields(logrus.Fields{
			"scenario": scenario.Name,
			"fps":      strconv.FormatFloat(metrics.FramesPerSecond, 'f', 2, 64),
			"errors":   metrics.ErrorRate,
		}).Info("scenario completed")
	}
	return nil
}

// Results returns all benchmark results.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

// SaveResults writes the results as a JSON report and a CSV summary.
//
// Returns:
//   - string: The JSON report path.
//   - string: The CSV summary path.
//   - error: An error if a file cannot be written.
func (s *Suite) SaveResults() (string, string, error) {
	results := s.Results()

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", "", errors.Wrap(err, "failed to create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	summaryFile := filepath.Join(s.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", "", errors.Wrap(err, "failed to marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return "", "", errors.Wrap(err, "failed to write results file")
	}
	if err := writeSummaryCSV(summaryFile, results); err != nil {
		return "", "", errors.Wrap(err, "failed to write summary file")
	}

	return resultsFile, summaryFile, nil
}

func writeSummaryCSV(path string, results []PerformanceMetrics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"scenario", "resolution", "format", "fps", "total_ms", "decode_ms", "inference_ms", "p50_ms", "p95_ms", "p99_ms", "detections", "error_rate"}); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write([]string{
			r.Scenario.Name,
			r.Scenario.Resolution.Name,
			string(r.Scenario.ImageFormat),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			milliseconds(r.TotalDuration),
			milliseconds(r.DecodeDuration),
			milliseconds(r.InferenceDuration),
			strconv.FormatFloat(r.Latency.P50Ms, 'f', 2, 64),
			strconv.FormatFloat(r.Latency.P95Ms, 'f', 2, 64),
			strconv.FormatFloat(r.Latency.P99Ms, 'f', 2, 64),
			strconv.Itoa(r.DetectionCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func milliseconds(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Nanoseconds())/1e6, 'f', 2, 64)
}
