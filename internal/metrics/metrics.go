// Package metrics exposes Prometheus collectors for the buffer cache and
// free-sector allocator. It is purely observational: nothing in the
// correctness-critical path reads these values back.
//
// Modeled on the metrics registered by bb-storage's block-device-backed
// allocator and gcsfuse's Prometheus exporter — a package-level
// sync.Once registration guard plus small wrapper types handed to the
// owning component.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "persistentfs",
		Subsystem: "buffercache",
		Name:      "hits_total",
		Help:      "Number of ReadThrough/WriteThrough calls that found the sector already cached.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "persistentfs",
		Subsystem: "buffercache",
		Name:      "misses_total",
		Help:      "Number of ReadThrough/WriteThrough calls that had to load the sector.",
	})
	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "persistentfs",
		Subsystem: "buffercache",
		Name:      "evictions_total",
		Help:      "Number of clock-eviction victim selections.",
	})
	cacheFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "persistentfs",
		Subsystem: "buffercache",
		Name:      "flushes_total",
		Help:      "Number of dirty slots written back by FlushAll.",
	})
	readAheadEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "persistentfs",
		Subsystem: "buffercache",
		Name:      "readahead_enqueued_total",
		Help:      "Number of read-ahead hints enqueued.",
	})

	allocFreeSectors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "persistentfs",
		Subsystem: "freemap",
		Name:      "free_sectors",
		Help:      "Current number of free sectors tracked by the allocator.",
	})
	allocAllocated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "persistentfs",
		Subsystem: "freemap",
		Name:      "sectors_allocated_total",
		Help:      "Total number of sectors handed out by Allocate.",
	})
	allocReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "persistentfs",
		Subsystem: "freemap",
		Name:      "sectors_released_total",
		Help:      "Total number of sectors returned via Release.",
	})
)

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			cacheHits, cacheMisses, cacheEvictions, cacheFlushes, readAheadEnqueued,
			allocFreeSectors, allocAllocated, allocReleased,
		)
	})
}

// Cache is handed to the buffer cache to record hit/miss/eviction/flush
// counts.
type Cache struct{}

func NewCache() *Cache {
	register()
	return &Cache{}
}

func (*Cache) Hit()            { cacheHits.Inc() }
func (*Cache) Miss()           { cacheMisses.Inc() }
func (*Cache) Eviction()       { cacheEvictions.Inc() }
func (*Cache) Flush()          { cacheFlushes.Inc() }
func (*Cache) ReadAheadQueued() { readAheadEnqueued.Inc() }

// Allocator is handed to the free-sector allocator.
type Allocator struct{}

func NewAllocator() *Allocator {
	register()
	return &Allocator{}
}

func (*Allocator) SetFree(n uint32)       { allocFreeSectors.Set(float64(n)) }
func (*Allocator) AddAllocated(n uint32)  { allocAllocated.Add(float64(n)) }
func (*Allocator) AddReleased(n uint32)   { allocReleased.Add(float64(n)) }
