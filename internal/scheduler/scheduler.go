package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/digiheadway/goposter/internal/config"
	"github.com/digiheadway/goposter/internal/db"
	"github.com/digiheadway/goposter/internal/keypool"

	"github.com/robfig/cron/v3"
)

const pruneSpec = "@daily"

// Scheduler runs the periodic maintenance jobs: the exhausted-key sweep and
// extra_info retention.
type Scheduler struct {
	db     db.Service
	keys   keypool.Manager
	cfg    config.SchedulerConfig
	logger *slog.Logger
	c      *cron.Cron
	now    func() time.Time
}

func NewScheduler(dbService db.Service, keys keypool.Manager, cfg config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:     dbService,
		keys:   keys,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
		c:      cron.New(),
		now:    time.Now,
	}
}

// Start registers the jobs and starts the cron loop. The key sweep is only
// registered when a spec is configured.
func (s *Scheduler) Start() error {
	if s.cfg.KeyRestoreSpec != "" {
		if _, err := s.c.AddFunc(s.cfg.KeyRestoreSpec, s.RestoreKeys); err != nil {
			return fmt.Errorf("error scheduling key restore job: %w", err)
		}
	}
	if _, err := s.c.AddFunc(pruneSpec, s.PruneExtraInfo); err != nil {
		return fmt.Errorf("error scheduling extra_info prune job: %w", err)
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.c.Entries())
}

// RestoreKeys puts exhausted keys past their cooldown back in rotation.
func (s *Scheduler) RestoreKeys() {
	restored, err := s.keys.Restore()
	if err != nil {
		s.logger.Error("Error restoring exhausted keys", "error", err)
		return
	}
	s.logger.Info("Key restore sweep finished", "restored", restored)
}

// PruneExtraInfo deletes diagnostics older than the retention window.
func (s *Scheduler) PruneExtraInfo() {
	deleted, err := s.db.PruneExtraInfo(s.now().Add(-s.cfg.Retention()))
	if err != nil {
		s.logger.Error("Error pruning extra_info", "error", err)
		return
	}
	s.logger.Info("Pruned extra_info", "deleted", deleted)
}
