package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/broadcast"
)

// Sweeper ends sessions that stopped making progress.
type Sweeper interface {
	ExpireStale(now time.Time) int
}

// StatsSource reports stream delivery counters.
type StatsSource interface {
	Stats() broadcast.Stats
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron          *cron.Cron
	sweeper       Sweeper
	stats         StatsSource
	sweepSchedule string
	logger        *zap.Logger
	now           func() time.Time
}

// NewScheduler creates a new scheduler instance. stats may be nil.
func NewScheduler(sweepSchedule string, sweeper Sweeper, stats StatsSource, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	// robfig/cron/v3 default parser is standard cron (5 fields) plus @every descriptors.
	c := cron.New()

	return &Scheduler{
		cron:          c,
		sweeper:       sweeper,
		stats:         stats,
		sweepSchedule: sweepSchedule,
		logger:        logger,
		now:           time.Now,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler", zap.String("sweep_schedule", s.sweepSchedule))

	if _, err := s.cron.AddFunc(s.sweepSchedule, s.sweep); err != nil {
		return fmt.Errorf("schedule session sweep %q: %w", s.sweepSchedule, err)
	}
	if s.stats != nil {
		if _, err := s.cron.AddFunc("@every 1m", s.reportStats); err != nil {
			return fmt.Errorf("schedule stream stats: %w", err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweep() {
	if n := s.sweeper.ExpireStale(s.now()); n > 0 {
		s.logger.Info("stale sessions abandoned", zap.Int("count", n))
	}
}

func (s *Scheduler) reportStats() {
	stats := s.stats.Stats()
	lagging := 0
	var dropped uint64
	for _, sub := range stats.Subscribers {
		dropped += sub.Dropped
		if sub.Lagging {
			lagging++
		}
	}
	s.logger.Info("stream stats",
		zap.Uint64("published", stats.TotalPublished),
		zap.Int("subscribers", len(stats.Subscribers)),
		zap.Int("lagging", lagging),
		zap.Uint64("dropped", dropped))
}
