package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"volstore/pkg/buffer"
	"volstore/pkg/primitives"
	"volstore/pkg/volume"
)

// BenchmarkResult captures detailed performance metrics for a single benchmark
// scenario: timing statistics, throughput, and success/error counts.
type BenchmarkResult struct {
	Scenario             string        `json:"scenario"`            // Descriptive name of the benchmark scenario
	Iterations           int           `json:"iterations"`          // Total number of operations executed
	TotalDuration        time.Duration `json:"total_duration_ns"`   // Total time taken for all iterations
	AvgDuration          time.Duration `json:"avg_duration_ns"`     // Average time per operation
	MinDuration          time.Duration `json:"min_duration_ns"`     // Fastest operation
	MaxDuration          time.Duration `json:"max_duration_ns"`     // Slowest operation
	MedianDuration       time.Duration `json:"median_duration_ns"`  // Median operation time
	P95Duration          time.Duration `json:"p95_duration_ns"`     // 95th percentile
	P99Duration          time.Duration `json:"p99_duration_ns"`     // 99th percentile
	OperationsPerSecond  float64       `json:"operations_per_second"`
	ConcurrentOperations int           `json:"concurrent_operations"` // Number of concurrent goroutines
	SuccessCount         int           `json:"success_count"`
	ErrorCount           int           `json:"error_count"`
	ErrorSamples         []string      `json:"error_samples"`
	Timestamp            time.Time     `json:"timestamp"`
}

// BenchmarkReport aggregates results from all benchmark scenarios.
type BenchmarkReport struct {
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	TotalDuration time.Duration     `json:"total_duration"`
	Results       []BenchmarkResult `json:"results"`
	VolumeName    string            `json:"volume_name"`
	DataDir       string            `json:"data_dir"`
	PageSize      int               `json:"page_size"`
	CacheSlots    int               `json:"cache_slots"`
}

// operation is one benchmarked unit of work; i is the iteration number so
// scenarios can vary the page they touch.
type operation func(i int) error

// main orchestrates the benchmark suite: it opens a volume over a modest
// buffer cache, runs each scenario sequentially and concurrently, and writes
// JSON and HTML reports.
//
// Environment variables:
//   - BENCHMARK_OUTPUT: Directory for output reports (default: ./benchmark-results)
//   - BENCHMARK_ITERATIONS: Number of iterations per scenario (default: 10000)
//   - BENCHMARK_CONCURRENT_OPS: Number of concurrent operations (default: 10)
//   - VOLUME_NAME: Volume name (default: benchmark_vol)
//   - DATA_DIR: Data directory path (default: ./benchmark_data)
func main() {
	outputDir := filepath.Clean(os.Getenv("BENCHMARK_OUTPUT"))
	if outputDir == "." {
		outputDir = "./benchmark-results"
	}

	iterations := 10000
	if iter := os.Getenv("BENCHMARK_ITERATIONS"); iter != "" {
		_, _ = fmt.Sscanf(iter, "%d", &iterations)
	}

	concurrentOps := 10
	if conc := os.Getenv("BENCHMARK_CONCURRENT_OPS"); conc != "" {
		_, _ = fmt.Sscanf(conc, "%d", &concurrentOps)
	}

	volumeName := os.Getenv("VOLUME_NAME")
	if volumeName == "" {
		volumeName = "benchmark_vol"
	}

	dataDir := filepath.Clean(os.Getenv("DATA_DIR"))
	if dataDir == "." {
		dataDir = "./benchmark_data"
	}

	_ = os.MkdirAll(outputDir, 0o750)
	_ = os.MkdirAll(dataDir, 0o750)

	const pageSize = 4096
	const cacheSlots = 256 // deliberately smaller than the working set

	log.Printf("Starting benchmark suite...")
	log.Printf("Volume: %s, Data Directory: %s", volumeName, dataDir)
	log.Printf("Iterations: %d, Concurrent Operations: %d", iterations, concurrentOps)

	cache, err := buffer.NewBufferCache(cacheSlots*pageSize, pageSize)
	if err != nil {
		log.Fatalf("Failed to build buffer cache: %v", err)
	}
	registry := volume.NewRegistry(cache)

	spec, err := volume.NewVolumeSpecification(
		filepath.Join(dataDir, volumeName+".vol"), pageSize, true, false, false)
	if err != nil {
		log.Fatalf("Failed to build specification: %v", err)
	}
	vol, err := registry.Open(spec, volume.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to open volume: %v", err)
	}
	defer vol.Close()

	// Pre-extend the volume so reads have a real working set to chew on.
	workingSet := cacheSlots * 4
	if err := setupBenchmarkData(vol, workingSet); err != nil {
		log.Fatalf("Failed to setup benchmark data: %v", err)
	}

	report := BenchmarkReport{
		StartTime:  time.Now(),
		VolumeName: volumeName,
		DataDir:    dataDir,
		PageSize:   pageSize,
		CacheSlots: cacheSlots,
		Results:    []BenchmarkResult{},
	}

	hotPages := cacheSlots / 2
	benchmarks := []struct {
		name       string
		op         operation
		concurrent bool
	}{
		{"Cached read (shared claim)", func(i int) error {
			return readPage(vol, primitives.PageNumber(1+i%hotPages))
		}, true},
		{"Uncached read (eviction pressure)", func(i int) error {
			return readPage(vol, primitives.PageNumber(1+rand.Intn(workingSet)))
		}, true},
		{"Sequential scan", func(i int) error {
			return readPage(vol, primitives.PageNumber(1+i%workingSet))
		}, true},
		{"Exclusive write (mark dirty)", func(i int) error {
			return writePage(vol, primitives.PageNumber(1+i%hotPages), byte(i))
		}, true},
		{"Tree lookup", func(i int) error {
			_, err := vol.GetTree("bench", false)
			return err
		}, true},
		{"Zero-fill read past extent", func(i int) error {
			return readPage(vol, vol.ExtendedPageCount()+primitives.PageNumber(1+i%hotPages))
		}, false},
	}

	for _, bench := range benchmarks {
		log.Printf("%s", "\n"+strings.Repeat("=", 80))
		log.Printf("SCENARIO: %s", bench.name)
		log.Printf("%s", strings.Repeat("=", 80))

		log.Printf("→ Running sequential test (%d iterations)...", iterations)
		seqResult := runBenchmark(bench.name, bench.op, iterations, 1)
		report.Results = append(report.Results, seqResult)
		printBenchmarkResult(seqResult)

		if bench.concurrent {
			log.Printf("")
			log.Printf("→ Running concurrent test (%d parallel operations, %d iterations)...",
				concurrentOps, iterations)
			concResult := runBenchmark(bench.name+" (Concurrent)", bench.op, iterations, concurrentOps)
			report.Results = append(report.Results, concResult)
			printBenchmarkResult(concResult)
		}
	}

	report.EndTime = time.Now()
	report.TotalDuration = report.EndTime.Sub(report.StartTime)

	timestamp := time.Now().Format("20060102_150405")
	jsonFile := fmt.Sprintf("%s/benchmark_report_%s.json", outputDir, timestamp)
	htmlFile := fmt.Sprintf("%s/benchmark_report_%s.html", outputDir, timestamp)

	stats := vol.Statistics()
	log.Printf("%s", "\n"+strings.Repeat("=", 80))
	log.Printf("BENCHMARK SUITE COMPLETE")
	log.Printf("%s", strings.Repeat("=", 80))
	log.Printf("")
	log.Printf("  Summary:")
	log.Printf("    Total Duration:     %s", formatDuration(report.TotalDuration))
	log.Printf("    Scenarios Run:      %d", len(report.Results))
	log.Printf("    Cache:              %s", stats)
	log.Printf("")
	log.Printf("  Saving reports...")

	saveJSONReport(report, jsonFile)
	saveHTMLReport(report, htmlFile)

	log.Printf("")
	log.Printf("  ✓ Reports saved to: %s", outputDir)
	log.Printf("")
	log.Printf("%s", strings.Repeat("=", 80))
}

// setupBenchmarkData extends the volume to the working-set size and registers
// the tree the lookup scenario resolves.
func setupBenchmarkData(vol *volume.Volume, workingSet int) error {
	log.Println("Setting up benchmark data...")

	if _, err := vol.GetTree("bench", true); err != nil {
		return fmt.Errorf("failed to create benchmark tree: %v", err)
	}

	if vol.ExtendedPageCount() >= primitives.PageNumber(workingSet) {
		log.Printf("  Volume already extended to %d pages, skipping", vol.ExtendedPageCount())
		return nil
	}

	log.Printf("  Extending volume to %d pages...", workingSet)
	for p := 1; p <= workingSet; p++ {
		if err := writePage(vol, primitives.PageNumber(p), byte(p)); err != nil {
			return fmt.Errorf("failed to seed page %d: %v", p, err)
		}
	}
	log.Println("Benchmark data ready")
	return nil
}

func readPage(vol *volume.Volume, pageNo primitives.PageNumber) error {
	buf, err := vol.Page(pageNo, buffer.SharedClaim)
	if err != nil {
		return err
	}
	vol.ReleasePage(buf)
	return nil
}

func writePage(vol *volume.Volume, pageNo primitives.PageNumber, fill byte) error {
	buf, err := vol.Page(pageNo, buffer.ExclusiveClaim)
	if err != nil {
		return err
	}
	buf.Data()[0] = fill
	buf.MarkDirty()
	vol.ReleasePage(buf)
	return nil
}

// runBenchmark executes a scenario for the given number of iterations with
// bounded concurrency, collects per-operation timings, and derives the
// percentile statistics.
func runBenchmark(scenario string, op operation, iterations, concurrent int) BenchmarkResult {
	durations := make([]time.Duration, 0, iterations)
	var mu sync.Mutex
	var wg sync.WaitGroup

	successCount := 0
	errorCount := 0
	errorSamples := make([]string, 0, 5)
	startTime := time.Now()

	sem := make(chan struct{}, concurrent)

	for i := 0; i < iterations; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			opStart := time.Now()
			err := op(i)
			duration := time.Since(opStart)

			mu.Lock()
			durations = append(durations, duration)
			if err != nil {
				errorCount++
				if len(errorSamples) < 5 {
					errorSamples = append(errorSamples, err.Error())
				}
			} else {
				successCount++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	totalDuration := time.Since(startTime)

	slices.Sort(durations)

	var sum time.Duration
	minDur := durations[0]
	maxDur := durations[len(durations)-1]
	for _, d := range durations {
		sum += d
	}

	avgDur := sum / time.Duration(len(durations))
	medianDur := durations[len(durations)/2]
	p95Dur := durations[int(float64(len(durations))*0.95)]
	p99Dur := durations[int(float64(len(durations))*0.99)]
	ops := float64(iterations) / totalDuration.Seconds()

	return BenchmarkResult{
		Scenario:             scenario,
		Iterations:           iterations,
		TotalDuration:        totalDuration,
		AvgDuration:          avgDur,
		MinDuration:          minDur,
		MaxDuration:          maxDur,
		MedianDuration:       medianDur,
		P95Duration:          p95Dur,
		P99Duration:          p99Dur,
		OperationsPerSecond:  ops,
		ConcurrentOperations: concurrent,
		SuccessCount:         successCount,
		ErrorCount:           errorCount,
		ErrorSamples:         errorSamples,
		Timestamp:            time.Now(),
	}
}

// formatDuration formats a duration in a human-readable way with appropriate units.
// Examples: 1.23ms, 456.78µs, 12.34s
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

// printBenchmarkResult outputs scenario statistics to the console.
func printBenchmarkResult(result BenchmarkResult) {
	successRate := float64(result.SuccessCount) / float64(result.Iterations) * 100

	log.Printf("  ┌─ Results")
	log.Printf("  │  Total Time:        %s", formatDuration(result.TotalDuration))
	log.Printf("  │  Avg per Op:        %s", formatDuration(result.AvgDuration))
	log.Printf("  │  Min / Max:         %s / %s", formatDuration(result.MinDuration), formatDuration(result.MaxDuration))
	log.Printf("  │  Median (P50):      %s", formatDuration(result.MedianDuration))
	log.Printf("  │  P95:               %s", formatDuration(result.P95Duration))
	log.Printf("  │  P99:               %s", formatDuration(result.P99Duration))
	log.Printf("  │  Throughput:        %.0f ops/sec", result.OperationsPerSecond)
	log.Printf("  │  Success Rate:      %.1f%% (%d/%d)", successRate, result.SuccessCount, result.Iterations)

	if result.ErrorCount > 0 && len(result.ErrorSamples) > 0 {
		log.Printf("  │")
		log.Printf("  │  ⚠ Errors detected (%d failures):", result.ErrorCount)
		for i, errMsg := range result.ErrorSamples {
			safe := strings.NewReplacer("\n", " ", "\r", " ").Replace(errMsg)
			if i == 0 {
				log.Printf("  │     Sample: %s", safe)
			} else if i < 3 {
				log.Printf("  │            %s", safe)
			}
		}
		if len(result.ErrorSamples) > 3 {
			log.Printf("  │     ... and %d more error(s)", len(result.ErrorSamples)-3)
		}
	}

	log.Printf("  └─")
}

// saveJSONReport serializes the benchmark report to a JSON file.
func saveJSONReport(report BenchmarkReport, filename string) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("Error marshaling report: %v", err)
		return
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		log.Printf("Error writing JSON report: %v", err)
		return
	}

	log.Printf("JSON report saved: %s", filename)
}

// saveHTMLReport generates a styled HTML report from the benchmark results:
// suite metadata up top, a detailed per-scenario table below.
func saveHTMLReport(report BenchmarkReport, filename string) {
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<title>VolStore Benchmark Report - %s</title>
	<script src="https://cdn.tailwindcss.com"></script>
	<link rel="preconnect" href="https://fonts.googleapis.com">
	<link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
	<link href="https://fonts.googleapis.com/css2?family=Cascadia+Code:wght@400;600;700&display=swap" rel="stylesheet">
	<style>
		body {
			font-family: 'Cascadia Code', monospace;
		}
	</style>
</head>
<body class="bg-gray-100 p-6">
	<div class="max-w-7xl mx-auto bg-white rounded-lg shadow-lg p-8">
		<h1 class="text-4xl font-bold text-gray-800 border-b-4 border-green-500 pb-3 mb-6">
			VolStore Benchmark Report
		</h1>

		<div class="bg-green-50 rounded-lg p-6 mb-8 grid grid-cols-2 md:grid-cols-4 gap-4">
			<div class="space-y-1">
				<div class="text-sm font-semibold text-gray-600">Start Time</div>
				<div class="text-lg text-green-600 font-bold">%s</div>
			</div>
			<div class="space-y-1">
				<div class="text-sm font-semibold text-gray-600">Total Duration</div>
				<div class="text-lg text-green-600 font-bold">%v</div>
			</div>
			<div class="space-y-1">
				<div class="text-sm font-semibold text-gray-600">Volume</div>
				<div class="text-lg text-green-600 font-bold">%s</div>
			</div>
			<div class="space-y-1">
				<div class="text-sm font-semibold text-gray-600">Cache</div>
				<div class="text-lg text-green-600 font-bold">%d × %d B</div>
			</div>
		</div>

		<h2 class="text-2xl font-bold text-gray-700 mt-8 mb-4">Benchmark Results</h2>
		<div class="overflow-x-auto">
			<table class="min-w-full border-collapse">
				<thead>
					<tr class="bg-green-500 text-white">
						<th class="px-4 py-3 text-left font-bold">Scenario</th>
						<th class="px-4 py-3 text-left font-bold">Iterations</th>
						<th class="px-4 py-3 text-left font-bold">Concurrent</th>
						<th class="px-4 py-3 text-left font-bold">Avg Time</th>
						<th class="px-4 py-3 text-left font-bold">Min/Max</th>
						<th class="px-4 py-3 text-left font-bold">P95</th>
						<th class="px-4 py-3 text-left font-bold">Ops/s</th>
						<th class="px-4 py-3 text-left font-bold">Success Rate</th>
					</tr>
				</thead>
				<tbody class="divide-y divide-gray-200">
`,
		report.StartTime.Format("2006-01-02 15:04:05"),
		report.StartTime.Format("2006-01-02 15:04:05"),
		report.TotalDuration,
		report.VolumeName,
		report.CacheSlots,
		report.PageSize,
	)

	for _, result := range report.Results {
		successRate := float64(result.SuccessCount) / float64(result.Iterations) * 100
		html += fmt.Sprintf(`
					<tr class="hover:bg-gray-50 transition-colors">
						<td class="px-4 py-3 font-bold text-gray-800">%s</td>
						<td class="px-4 py-3 text-gray-700">%d</td>
						<td class="px-4 py-3 text-gray-700">%d</td>
						<td class="px-4 py-3 text-gray-700">%v</td>
						<td class="px-4 py-3 text-gray-700">%v / %v</td>
						<td class="px-4 py-3 text-gray-700">%v</td>
						<td class="px-4 py-3 text-green-600 font-semibold">%.2f</td>
						<td class="px-4 py-3 text-green-600 font-semibold">%.1f%%</td>
					</tr>
`,
			result.Scenario,
			result.Iterations,
			result.ConcurrentOperations,
			result.AvgDuration,
			result.MinDuration,
			result.MaxDuration,
			result.P95Duration,
			result.OperationsPerSecond,
			successRate,
		)
	}

	html += `
				</tbody>
			</table>
		</div>
	</div>
</body>
</html>
`

	if err := os.WriteFile(filename, []byte(html), 0o600); err != nil {
		log.Printf("Error writing HTML report: %v", err)
		return
	}

	log.Printf("HTML report saved: %s", filename)
}
