// Package engine applies telemetry events to the aggregate dataset. Every
// mutating operation runs a full load → mutate → reclassify → save cycle
// under one mutex, which serializes writers and removes the lost-update race
// a bare read-modify-write store would have. Readers load snapshots without
// this lock and tolerate slight staleness.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soaska/botpulse/internal/diag"
	"github.com/soaska/botpulse/internal/health"
	"github.com/soaska/botpulse/internal/metrics"
	"github.com/soaska/botpulse/internal/model"
	"github.com/soaska/botpulse/internal/store"
)

// GeoResolver enriches an IP address with a country code. Implementations
// return "" when the lookup fails or the service is unavailable.
type GeoResolver interface {
	Country(ip string) string
}

// IdentityRegistry maps user ids to the last instance id issued to them.
type IdentityRegistry interface {
	Resolve(userID string) (string, bool)
	Assign(userID, instanceID string) error
}

// Collector is the event processor. All mutations of the dataset go through
// it.
type Collector struct {
	mu       sync.Mutex
	store    store.DatasetStore
	registry IdentityRegistry
	windows  health.Windows
	geo      GeoResolver
	diag     diag.Recorder
	log      zerolog.Logger
	now      func() time.Time
	mintID   func() string
}

// Option customises a Collector.
type Option func(*Collector)

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithWindows overrides the liveness thresholds.
func WithWindows(w health.Windows) Option {
	return func(c *Collector) { c.windows = w }
}

// WithGeoResolver enables country enrichment of connect events.
func WithGeoResolver(geo GeoResolver) Option {
	return func(c *Collector) { c.geo = geo }
}

// WithDiagnostics routes silent-degradation traces to the given sink.
func WithDiagnostics(rec diag.Recorder) Option {
	return func(c *Collector) { c.diag = rec }
}

// WithLogger sets the collector logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Collector) { c.log = log }
}

// WithIDMinter injects the instance id generator, used by tests.
func WithIDMinter(mint func() string) Option {
	return func(c *Collector) { c.mintID = mint }
}

// New creates a Collector over the given store and identity registry.
func New(ds store.DatasetStore, registry IdentityRegistry, opts ...Option) *Collector {
	c := &Collector{
		store:    ds,
		registry: registry,
		windows:  health.DefaultWindows(),
		diag:     diag.Nop{},
		log:      zerolog.Nop(),
		now:      time.Now,
		mintID:   newInstanceID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Windows returns the configured liveness thresholds.
func (c *Collector) Windows() health.Windows {
	return c.windows
}

// load fetches the current dataset. Load failures degrade to an empty
// dataset so the ingestion path stays available.
func (c *Collector) load() *model.Dataset {
	ds, err := c.store.Load()
	if err != nil {
		metrics.StoreLoadFailures.Inc()
		c.log.Warn().Err(err).Msg("dataset load degraded to defaults")
		c.diag.Append(fmt.Sprintf("dataset load degraded to defaults: %v", err), "", "")
	}
	return ds
}

// save persists the dataset. Save failures are swallowed after logging; the
// triggering operation still reports success upstream.
func (c *Collector) save(ds *model.Dataset) {
	if err := c.store.Save(ds); err != nil {
		metrics.StoreSaveFailures.Inc()
		c.log.Error().Err(err).Msg("dataset save failed, update lost")
		c.diag.Append(fmt.Sprintf("dataset save failed: %v", err), "", "")
		return
	}
	stats := ds.Statistics
	metrics.UpdateDatasetGauges(len(ds.Instances), len(ds.Users), stats.CurrentConnections, stats.PeakConnections)
}

// refreshConnectionCounts recomputes current_connections from the full
// instance set and ratchets the peak. Recomputing rather than incrementing
// keeps the value drift-free.
func refreshConnectionCounts(ds *model.Dataset) {
	stats := ds.Statistics
	stats.CurrentConnections = ds.ConnectedCount()
	if stats.CurrentConnections > stats.PeakConnections {
		stats.PeakConnections = stats.CurrentConnections
	}
}

// refreshDatasetMetrics recomputes the dataset-level session and quality
// metrics. Called after connect/disconnect, the only events that change
// session shape.
func refreshDatasetMetrics(ds *model.Dataset) {
	ds.Statistics.SessionMetrics = health.SessionMetricsFor(ds)
	ds.Statistics.QualityMetrics = health.QualityMetricsFor(ds)
}

// RatchetPeak opportunistically persists a peak ratchet observed at read
// time. It only writes when the ratchet actually moves, so concurrent calls
// are safe and usually free.
func (c *Collector) RatchetPeak() {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.load()
	current := ds.ConnectedCount()
	if current <= ds.Statistics.PeakConnections {
		return
	}
	ds.Statistics.CurrentConnections = current
	ds.Statistics.PeakConnections = current
	c.save(ds)
}

// EvictStale removes instances inactive beyond the threshold and returns the
// number removed. Runs on the maintenance schedule, never on the request
// path, and shares the collector mutex with event processing.
func (c *Collector) EvictStale(threshold time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.load()
	now := c.now()

	var evicted []string
	for id, inst := range ds.Instances {
		if now.Sub(inst.LastActive) > threshold {
			evicted = append(evicted, id)
		}
	}
	if len(evicted) == 0 {
		return 0
	}
	for _, id := range evicted {
		delete(ds.Instances, id)
	}

	refreshConnectionCounts(ds)
	refreshDatasetMetrics(ds)
	ds.Settings.LastMaintenance = now
	c.save(ds)

	metrics.EvictedInstances.Add(float64(len(evicted)))
	c.log.Info().Int("evicted", len(evicted)).Dur("threshold", threshold).Msg("stale instances evicted")
	c.diag.Append(fmt.Sprintf("maintenance evicted %d stale instances", len(evicted)), "", "")
	return len(evicted)
}
