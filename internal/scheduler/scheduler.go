package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	customerdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
	obsmetrics "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability/metrics"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	reminderdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
	subscriptiondomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/domain"
)

var ErrUnknownJob = errors.New("unknown_job")

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Billing      *config.BillingConfigHolder
	Subscription subscriptiondomain.Service
	Payment      paymentdomain.Service
	Reminder     reminderdomain.Service
	CustomerRepo customerdomain.Repository

	Locker *Locker `optional:"true"`
	Config Config  `optional:"true"`
}

// Scheduler drives the recurring billing jobs. Every job is claim-based
// and idempotent, so overlapping runs across instances stay safe even
// when the redis lease is unavailable.
type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	subscription subscriptiondomain.Service
	payment      paymentdomain.Service
	reminder     reminderdomain.Service
	customerRepo customerdomain.Repository
	locker       *Locker

	mu   sync.Mutex
	jobs []*job
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int, error)

	lastRun       time.Time
	nextRun       time.Time
	lastError     string
	lastProcessed int
	running       bool
}

// JobStatus is the operational snapshot served by the ops endpoints.
type JobStatus struct {
	Name          string    `json:"name"`
	Interval      string    `json:"interval"`
	Running       bool      `json:"running"`
	LastRun       time.Time `json:"last_run"`
	NextRun       time.Time `json:"next_run"`
	LastProcessed int       `json:"last_processed"`
	LastError     string    `json:"last_error,omitempty"`
}

func New(p Params) *Scheduler {
	cfg := p.Config.withDefaults()
	s := &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler"),
		cfg:          cfg,
		genID:        p.GenID,
		clock:        p.Clock,
		billing:      p.Billing,
		subscription: p.Subscription,
		payment:      p.Payment,
		reminder:     p.Reminder,
		customerRepo: p.CustomerRepo,
		locker:       p.Locker,
	}

	now := s.clock.Now()
	for _, spec := range []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context) (int, error)
	}{
		{JobSubscriptionBilling, cfg.BillingInterval, s.subscriptionBillingJob},
		{JobKonbiniCleanup, cfg.KonbiniInterval, s.konbiniCleanupJob},
		{JobReminderDispatch, cfg.ReminderInterval, s.reminderDispatchJob},
		{JobFailedRetry, cfg.RetryInterval, s.failedRetryJob},
		{JobDailyReport, cfg.ReportInterval, s.dailyReportJob},
	} {
		if !s.isJobEnabled(spec.name) {
			continue
		}
		s.jobs = append(s.jobs, &job{
			name:     spec.name,
			interval: spec.interval,
			run:      spec.run,
			nextRun:  now,
		})
	}
	return s
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

// RunOnce runs every job whose interval has elapsed. Job errors are
// joined, never propagated past the caller's log line.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	var err error
	for _, j := range s.due(now) {
		err = errors.Join(err, s.runJob(ctx, j))
	}
	return err
}

func (s *Scheduler) due(now time.Time) []*job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*job
	for _, j := range s.jobs {
		if !j.running && !now.Before(j.nextRun) {
			due = append(due, j)
		}
	}
	return due
}

// Trigger runs one job immediately regardless of its timer.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *job
	for _, j := range s.jobs {
		if strings.EqualFold(j.name, name) {
			target = j
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return ErrUnknownJob
	}
	return s.runJob(ctx, target)
}

// Status reports a snapshot of every registered job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		statuses = append(statuses, JobStatus{
			Name:          j.name,
			Interval:      j.interval.String(),
			Running:       j.running,
			LastRun:       j.lastRun,
			NextRun:       j.nextRun,
			LastProcessed: j.lastProcessed,
			LastError:     j.lastError,
		})
	}
	return statuses
}

func (s *Scheduler) runJob(parent context.Context, j *job) error {
	s.mu.Lock()
	if j.running {
		s.mu.Unlock()
		return nil
	}
	j.running = true
	s.mu.Unlock()

	now := s.clock.Now()
	defer func() {
		s.mu.Lock()
		j.running = false
		j.lastRun = now
		j.nextRun = now.Add(j.interval)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()

	if s.locker != nil {
		key := jobLockKey(j.name)
		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
		if err != nil {
			// run anyway: claims and idempotency keys keep overlap safe
			s.log.Warn("job lock unavailable",
				zap.String("job", j.name),
				zap.Error(err),
			)
		} else if !ok {
			schedMetrics.IncJobSkipped(j.name)
			s.log.Debug("job held elsewhere", zap.String("job", j.name))
			return nil
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					s.log.Warn("job lock release failed",
						zap.String("job", j.name),
						zap.Error(err),
					)
				}
			}()
		}
	}

	runID := s.genID.Generate().String()
	log := s.log.With(
		zap.String("job", j.name),
		zap.String("run_id", runID),
	)
	log.Info("job start", zap.Int("batch_size", s.cfg.BatchSize))
	schedMetrics.IncJobRun(j.name)

	start := time.Now()
	processed, err := j.run(ctx)
	elapsed := time.Since(start)
	schedMetrics.ObserveJobDuration(j.name, elapsed)
	schedMetrics.AddBatchProcessed(j.name, "items", processed)

	s.mu.Lock()
	j.lastProcessed = processed
	j.lastError = ""
	if err != nil {
		j.lastError = err.Error()
	}
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int("processed_count", processed),
	}
	if err == nil {
		log.Info("job finish", fields...)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(j.name)
		log.Warn("job timed out", append(fields, zap.Error(err))...)
		return nil
	}

	schedMetrics.IncJobError(j.name, err)
	log.Warn("job finish", append(fields, zap.Error(err))...)
	return err
}

// RunForever ticks until ctx is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextTick := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextTick); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextTick = nextTick.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
