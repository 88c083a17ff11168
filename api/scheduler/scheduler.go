package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/linesmerrill/desktop-auth-api/api"
	"github.com/linesmerrill/desktop-auth-api/databases"
)

// DefaultSweepSchedule is how often expired exchange codes are removed
const DefaultSweepSchedule = "@every 10m"

const (
	sweepJobName = "sweep_exchange_codes"
	sweepLockTTL = 5 * time.Minute
)

// Sweeper removes expired exchange codes
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Scheduler handles periodic background jobs for the code broker
type Scheduler struct {
	cron       *cron.Cron
	Broker     Sweeper
	LockDB     databases.SchedulerLockDatabase
	schedule   string
	instanceID string
}

// NewScheduler creates a new scheduler instance. lockDB may be nil when the
// codes live in process memory and every instance must sweep its own store.
func NewScheduler(b Sweeper, lockDB databases.SchedulerLockDatabase, schedule string) *Scheduler {
	// Heroku sets this to "web.1", "web.2", etc.
	instanceID := os.Getenv("DYNO")
	if instanceID == "" {
		instanceID = "instance-" + uuid.New().String()
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	return &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		Broker:     b,
		LockDB:     lockDB,
		schedule:   schedule,
		instanceID: instanceID,
	}
}

// Start registers the sweep job and begins the scheduler
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweepExchangeCodes); err != nil {
		zap.S().Errorw("failed to register sweep job", "schedule", s.schedule, "error", err)
		return err
	}

	s.cron.Start()
	zap.S().Infow("Code broker scheduler started", "schedule", s.schedule, "instance", s.instanceID)
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running sweep to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("Code broker scheduler stopped")
}

// sweepExchangeCodes removes expired codes, consumed or not
func (s *Scheduler) sweepExchangeCodes() {
	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()

	if s.LockDB != nil {
		acquired, err := s.LockDB.TryAcquireLock(ctx, sweepJobName, s.instanceID, sweepLockTTL)
		if err != nil {
			zap.S().Errorw("failed to acquire lock for sweep job", "error", err)
			return
		}
		if !acquired {
			zap.S().Debug("Sweep job already running on another instance, skipping")
			return
		}
		defer func() {
			releaseCtx, cancel := api.WithQueryTimeout(context.Background())
			defer cancel()
			if err := s.LockDB.ReleaseLock(releaseCtx, sweepJobName, s.instanceID); err != nil {
				zap.S().Warnw("failed to release sweep lock", "error", err)
			}
		}()
	}

	removed, err := s.Broker.Sweep(ctx)
	if err != nil {
		zap.S().Errorw("failed to sweep exchange codes", "error", err)
		return
	}
	zap.S().Debugw("Sweep job finished", "removed", removed, "instance", s.instanceID)
}
