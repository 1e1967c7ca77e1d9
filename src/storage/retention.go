package storage

import (
	"context"
	"fmt"
	"time"

	"cove-observer/src/interfaces"
	"cove-observer/src/logger"
	"cove-observer/src/models"

	"github.com/robfig/cron/v3"
)

// -----------------------------------------------------------------------------
// RetentionJob deletes ticks older than the retention window on a cron
// schedule ("@hourly", "0 3 * * *", ...).
// -----------------------------------------------------------------------------

type RetentionJob struct {
	db       interfaces.IDatabase
	days     int
	schedule string
	cron     *cron.Cron
	Logger   *logger.Logger
	now      func() time.Time
}

func NewRetentionJob(db interfaces.IDatabase, cfg models.MStorageConfig, log *logger.Logger) *RetentionJob {
	if log == nil {
		log = logger.NewNopLogger()
	}
	schedule := cfg.RetentionSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	return &RetentionJob{
		db:       db,
		days:     cfg.RetentionDays,
		schedule: schedule,
		Logger:   log,
		now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

// Cutoff is the oldest timestamp kept
func (j *RetentionJob) Cutoff() time.Time {
	return j.now().UTC().AddDate(0, 0, -j.days)
}

// RunOnce deletes expired ticks now. A non-positive retention keeps everything.
func (j *RetentionJob) RunOnce(ctx context.Context) (int64, error) {
	if j.days <= 0 {
		return 0, nil
	}
	return j.db.CleanupOldData(ctx, j.Cutoff())
}

// -----------------------------------------------------------------------------

// Start schedules the job. It returns an error for an invalid schedule.
func (j *RetentionJob) Start() error {
	if j.days <= 0 {
		j.Logger.Info("Tick retention disabled")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			j.Logger.Error("Retention run failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule '%s': %w", j.schedule, err)
	}

	j.cron = c
	c.Start()
	j.Logger.Info("Tick retention scheduled (%s, keep %d days)", j.schedule, j.days)
	return nil
}

// Stop waits for a running cleanup to finish
func (j *RetentionJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
