// Package maintenance runs the periodic housekeeping sweep: dataset backup
// snapshots, backup retention, stale-instance eviction and diagnostics
// pruning. It runs on its own schedule, never on the request path.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/soaska/botpulse/internal/cache"
	"github.com/soaska/botpulse/internal/diag"
	"github.com/soaska/botpulse/internal/engine"
	"github.com/soaska/botpulse/internal/metrics"
	"github.com/soaska/botpulse/internal/store"
)

// Sweeps triggered manually (bot, admin API) are throttled by this cooldown.
const sweepCooldown = time.Minute

// Summary describes one completed sweep.
type Summary struct {
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	BackupPath    string        `json:"backup_path,omitempty"`
	PrunedBackups int           `json:"pruned_backups"`
	Evicted       int           `json:"evicted"`
}

// Config carries the sweep settings.
type Config struct {
	Interval      time.Duration
	BackupDir     string
	RetentionDays int
	EvictAfter    time.Duration
}

// Service schedules and executes maintenance sweeps.
type Service struct {
	collector  *engine.Collector
	fileStore  *store.FileStore
	sink       *diag.Sink
	cache      *cache.RedisCache
	cfg        Config
	log        zerolog.Logger
	notifyFunc func(*Summary)

	mu      sync.Mutex
	lastRun time.Time
	now     func() time.Time
}

// New creates a maintenance service. sink and cache may be nil.
func New(collector *engine.Collector, fileStore *store.FileStore, sink *diag.Sink, c *cache.RedisCache, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		collector: collector,
		fileStore: fileStore,
		sink:      sink,
		cache:     c,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// SetNotifyCallback registers a callback fired after each completed sweep.
func (s *Service) SetNotifyCallback(fn func(*Summary)) {
	s.notifyFunc = fn
}

// Loop runs sweeps on the configured interval until the context is canceled.
// The first sweep runs immediately.
func (s *Service) Loop(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.log.Info().Msg("maintenance disabled, skipping sweep loop")
		return
	}

	if _, err := s.Run(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial maintenance sweep failed")
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.log.Warn().Err(err).Msg("maintenance sweep failed")
			}
		}
	}
}

// Run executes one sweep: snapshot, prune backups, evict stale instances,
// prune diagnostics. Manual triggers inside the cooldown window are refused.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastRun) < sweepCooldown {
		return nil, fmt.Errorf("maintenance cooldown active, next sweep allowed at %s",
			s.lastRun.Add(sweepCooldown).Format(time.RFC3339))
	}
	s.lastRun = now

	summary := &Summary{StartedAt: now}

	backupPath := filepath.Join(s.cfg.BackupDir, fmt.Sprintf("dataset-%s.json", now.UTC().Format("20060102-150405")))
	if err := s.fileStore.Snapshot(backupPath); err != nil {
		s.log.Warn().Err(err).Msg("dataset backup failed")
	} else {
		summary.BackupPath = backupPath
	}

	pruned, err := s.pruneOldBackups(now)
	if err != nil {
		s.log.Warn().Err(err).Msg("backup pruning failed")
	}
	summary.PrunedBackups = pruned

	summary.Evicted = s.collector.EvictStale(s.cfg.EvictAfter)

	if s.sink != nil {
		if err := s.sink.Prune(s.cfg.RetentionDays); err != nil {
			s.log.Warn().Err(err).Msg("diagnostics pruning failed")
		}
		s.sink.Append(fmt.Sprintf("maintenance sweep: evicted=%d backups_pruned=%d", summary.Evicted, pruned), "", "")
	}

	s.cache.Invalidate(ctx, "stats", "instances", "users", "health")

	summary.Duration = s.now().Sub(now)
	metrics.MaintenanceSweeps.Inc()
	s.log.Info().
		Int("evicted", summary.Evicted).
		Int("backups_pruned", pruned).
		Dur("duration", summary.Duration).
		Msg("maintenance sweep complete")

	if s.notifyFunc != nil {
		go s.notifyFunc(summary)
	}
	return summary, nil
}

// pruneOldBackups deletes backup files older than the retention period and
// returns the number removed.
func (s *Service) pruneOldBackups(now time.Time) (int, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.cfg.BackupDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
