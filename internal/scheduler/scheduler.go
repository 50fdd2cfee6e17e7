package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sweepJob     = "sync_moment_sweep"
	jobTimeout   = 5 * time.Minute
	leaseTimeout = 10 * time.Minute
)

// DefaultSweepSchedule runs the sweep every fifteen minutes
const DefaultSweepSchedule = "*/15 * * * *"

// Sweeper removes stale sync moments
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Scheduler runs periodic housekeeping jobs
type Scheduler struct {
	cron       *cron.Cron
	sweeper    Sweeper
	locker     *Locker
	schedule   string
	instanceID string
	logger     zerolog.Logger
}

// NewScheduler creates a scheduler; a nil locker runs jobs on every instance
func NewScheduler(sweeper Sweeper, locker *Locker, schedule string) *Scheduler {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	// Generate a unique instance ID for this process
	instanceID, err := os.Hostname()
	if err != nil || instanceID == "" {
		instanceID = "instance"
	}
	instanceID = fmt.Sprintf("%s-%d", instanceID, time.Now().UnixNano())

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		sweeper:    sweeper,
		locker:     locker,
		schedule:   schedule,
		instanceID: instanceID,
		logger:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the jobs and begins running them
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweepSyncMoments); err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("Scheduler started")
	return nil
}

// Stop waits for running jobs and stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// sweepSyncMoments deletes stale sync moments once across all instances
func (s *Scheduler) sweepSyncMoments() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.runSweep(ctx)
}

func (s *Scheduler) runSweep(ctx context.Context) (int, bool) {
	if s.locker != nil {
		acquired, err := s.locker.TryAcquire(ctx, sweepJob, s.instanceID, leaseTimeout)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to acquire lock for sweep job")
			return 0, false
		}
		if !acquired {
			s.logger.Debug().Msg("Sweep job already running on another instance, skipping")
			return 0, false
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepJob, s.instanceID); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to release sweep lock")
			}
		}()
	}

	removed, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("removed", removed).Msg("Sync moment sweep failed")
		return removed, true
	}
	s.logger.Info().Int("removed", removed).Msg("Sync moment sweep finished")
	return removed, true
}
