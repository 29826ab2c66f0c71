package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"volstore/pkg/buffer"
	"volstore/pkg/primitives"
	"volstore/pkg/volume"
)

type MetricsCollector struct {
	registry      *volume.Registry
	vol           *volume.Volume
	fetchCount    int64
	errorCount    int64
	lastFetchTime time.Time
	mu            sync.RWMutex
}

func NewMetricsCollector(registry *volume.Registry, vol *volume.Volume) *MetricsCollector {
	return &MetricsCollector{
		registry:      registry,
		vol:           vol,
		lastFetchTime: time.Now(),
	}
}

func (mc *MetricsCollector) RecordFetch(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.fetchCount++
	mc.lastFetchTime = time.Now()
	if err != nil {
		mc.errorCount++
	}
}

func (mc *MetricsCollector) GetMetrics() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	stats := mc.vol.Statistics()
	cache := mc.registry.Cache()

	hitRatio := float64(0)
	if total := stats.Hits() + stats.Misses(); total > 0 {
		hitRatio = float64(stats.Hits()) / float64(total)
	}

	// Prometheus text format
	metrics := fmt.Sprintf(`# HELP volstore_cache_hits_total Buffer cache hits
# TYPE volstore_cache_hits_total counter
volstore_cache_hits_total %d

# HELP volstore_cache_misses_total Buffer cache misses
# TYPE volstore_cache_misses_total counter
volstore_cache_misses_total %d

# HELP volstore_cache_hit_ratio Fraction of fetches served from the cache
# TYPE volstore_cache_hit_ratio gauge
volstore_cache_hit_ratio %.4f

# HELP volstore_page_reads_total Pages read from the backing store
# TYPE volstore_page_reads_total counter
volstore_page_reads_total %d

# HELP volstore_page_writes_total Pages written to the backing store
# TYPE volstore_page_writes_total counter
volstore_page_writes_total %d

# HELP volstore_page_allocations_total Pages allocated
# TYPE volstore_page_allocations_total counter
volstore_page_allocations_total %d

# HELP volstore_cache_slots Buffer cache capacity in slots
# TYPE volstore_cache_slots gauge
volstore_cache_slots %d

# HELP volstore_cache_slots_used Buffer cache slots currently mapping a page
# TYPE volstore_cache_slots_used gauge
volstore_cache_slots_used %d

# HELP volstore_open_volumes Number of open volumes
# TYPE volstore_open_volumes gauge
volstore_open_volumes %d

# HELP volstore_fetch_errors_total Fetch errors observed by the simulator
# TYPE volstore_fetch_errors_total counter
volstore_fetch_errors_total %d

# HELP volstore_up Volume up status (1 = open, 0 = closed)
# TYPE volstore_up gauge
volstore_up %d

# HELP volstore_last_fetch_timestamp_seconds Unix timestamp of last fetch
# TYPE volstore_last_fetch_timestamp_seconds gauge
volstore_last_fetch_timestamp_seconds %d
`,
		stats.Hits(),
		stats.Misses(),
		hitRatio,
		stats.Reads(),
		stats.Writes(),
		stats.Allocations(),
		cache.Capacity(),
		cache.Size(),
		len(mc.registry.Volumes()),
		mc.errorCount,
		boolToGauge(mc.vol.IsOpened()),
		mc.lastFetchTime.Unix(),
	)

	return metrics
}

func boolToGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (mc *MetricsCollector) StartSimulation() {
	// Generate steady page traffic so the counters move for demo purposes
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for range ticker.C {
			for i := 0; i < 8; i++ {
				pageNo := primitives.PageNumber(1 + rand.Intn(128))
				buf, err := mc.vol.Page(pageNo, buffer.SharedClaim)
				if err == nil {
					mc.vol.ReleasePage(buf)
				}
				mc.RecordFetch(err)
			}
		}
	}()
}

func main() {
	volumeName := os.Getenv("VOLUME_NAME")
	if volumeName == "" {
		volumeName = "volstore_vol"
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "/app/data"
	}
	_ = os.MkdirAll(dataDir, 0o750)

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "8080"
	}

	log.Printf("Starting VolStore Metrics Exporter...")
	log.Printf("Volume: %s, Data Directory: %s", volumeName, dataDir)
	log.Printf("Metrics Port: %s", metricsPort)

	const pageSize = 4096
	cache, err := buffer.NewBufferCache(8<<20, pageSize)
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

	collector := NewMetricsCollector(registry, vol)

	collector.StartSimulation()

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, collector.GetMetrics())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	srv := &http.Server{
		Addr:         ":" + metricsPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Metrics available at http://localhost:%s/metrics", metricsPort)
	log.Fatal(srv.ListenAndServe())
}
