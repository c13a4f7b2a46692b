package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaska/botpulse/internal/engine"
	"github.com/soaska/botpulse/internal/model"
	"github.com/soaska/botpulse/internal/store"
)

func newTestService(t *testing.T, cfg Config) (*Service, *store.FileStore) {
	t.Helper()

	dir := t.TempDir()
	fs, err := store.NewFileStore(filepath.Join(dir, "dataset.json"), zerolog.Nop())
	require.NoError(t, err)
	registry := store.NewRegistry(filepath.Join(dir, "identity.json"))
	collector := engine.New(fs, registry)

	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(dir, "backups")
	}
	return New(collector, fs, nil, nil, cfg, zerolog.Nop()), fs
}

func seedDataset(t *testing.T, fs *store.FileStore, lastActive time.Time) {
	t.Helper()
	ds := model.NewDataset(lastActive)
	ds.Instances["stale"] = model.NewInstance("stale", "u1", "", "", lastActive)
	ds.Instances["fresh"] = model.NewInstance("fresh", "u2", "", "", time.Now())
	require.NoError(t, fs.Save(ds))
}

func TestRunBacksUpAndEvicts(t *testing.T) {
	svc, fs := newTestService(t, Config{RetentionDays: 14, EvictAfter: 72 * time.Hour})
	seedDataset(t, fs, time.Now().Add(-100*time.Hour))

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, summary.BackupPath)
	_, err = os.Stat(summary.BackupPath)
	assert.NoError(t, err, "backup file exists")
	assert.Equal(t, 1, summary.Evicted)

	ds, err := fs.Load()
	require.NoError(t, err)
	assert.Nil(t, ds.Instance("stale"))
	assert.NotNil(t, ds.Instance("fresh"))
}

func TestRunCooldown(t *testing.T) {
	svc, fs := newTestService(t, Config{EvictAfter: 72 * time.Hour})
	seedDataset(t, fs, time.Now())

	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	_, err = svc.Run(context.Background())
	assert.ErrorContains(t, err, "cooldown")

	// Past the cooldown the sweep runs again.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.Run(context.Background())
	assert.NoError(t, err)
}

func TestRunPrunesOldBackups(t *testing.T) {
	svc, fs := newTestService(t, Config{RetentionDays: 7, EvictAfter: 72 * time.Hour})
	seedDataset(t, fs, time.Now())

	require.NoError(t, os.MkdirAll(svc.cfg.BackupDir, 0o755))
	oldBackup := filepath.Join(svc.cfg.BackupDir, "dataset-20200101-000000.json")
	require.NoError(t, os.WriteFile(oldBackup, []byte("{}"), 0o644))
	oldTime := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(oldBackup, oldTime, oldTime))

	keep := filepath.Join(svc.cfg.BackupDir, "dataset-keep.json")
	require.NoError(t, os.WriteFile(keep, []byte("{}"), 0o644))

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PrunedBackups)

	_, err = os.Stat(oldBackup)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err)
}

func TestNotifyCallback(t *testing.T) {
	svc, fs := newTestService(t, Config{EvictAfter: 72 * time.Hour})
	seedDataset(t, fs, time.Now())

	done := make(chan *Summary, 1)
	svc.SetNotifyCallback(func(s *Summary) { done <- s })

	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	select {
	case summary := <-done:
		assert.NotZero(t, summary.StartedAt)
	case <-time.After(time.Second):
		t.Fatal("notify callback never fired")
	}
}

func TestLoopDisabledWithoutInterval(t *testing.T) {
	svc, _ := newTestService(t, Config{})

	done := make(chan struct{})
	go func() {
		svc.Loop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop with zero interval should return immediately")
	}
}
