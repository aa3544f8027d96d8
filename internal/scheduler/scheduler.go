package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/mealdelivery/internal/clock"
	"github.com/smallbiznis/mealdelivery/internal/config"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	"github.com/smallbiznis/mealdelivery/internal/lock"
	obsmetrics "github.com/smallbiznis/mealdelivery/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/mealdelivery/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobGenerateDeliveries = "generate_deliveries"
	JobProgressDeliveries = "progress_deliveries"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Deliveries    deliverydomain.Repository
	Subscriptions subscriptiondomain.Repository
	Config        Config                       `optional:"true"`
	Schedule      *config.ScheduleConfigHolder `optional:"true"`
	Locker        *lock.Locker                 `optional:"true"`
}

type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	schedule      *config.ScheduleConfigHolder
	genID         *snowflake.Node
	clock         clock.Clock
	deliveries    deliverydomain.Repository
	subscriptions subscriptiondomain.Repository
	locker        *lock.Locker

	runningMu sync.Mutex
	running   map[string]*atomic.Bool

	// pendingGenerate holds the day of a generation that ran out of time.
	pendingGenerate atomic.Pointer[time.Time]

	cron *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Deliveries == nil || p.Subscriptions == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		schedule:      p.Schedule,
		genID:         p.GenID,
		clock:         p.Clock,
		deliveries:    p.Deliveries,
		subscriptions: p.Subscriptions,
		locker:        p.Locker,
	}, nil
}

// config returns the effective configuration, picking up schedule reloads.
func (s *Scheduler) config() Config {
	cfg := s.cfg
	if s.schedule != nil {
		cfg = cfg.withSchedule(s.schedule.Get())
	}
	return cfg.withDefaults()
}

func (s *Scheduler) runningFlag(name string) *atomic.Bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if s.running == nil {
		s.running = make(map[string]*atomic.Bool)
	}
	flag, ok := s.running[name]
	if !ok {
		flag = &atomic.Bool{}
		s.running[name] = flag
	}
	return flag
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	schedMetrics := obsmetrics.Scheduler()

	running := s.runningFlag(name)
	if !running.CompareAndSwap(false, true) {
		schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonPreviousRunActive)
		s.log.Info("scheduler.job.deferred",
			zap.String("job", name),
			zap.String("reason", obsmetrics.SchedulerBatchDeferredReasonPreviousRunActive),
		)
		return nil
	}
	defer running.Store(false)

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if s.locker != nil {
		key := lock.Key(name)
		token, acquired, err := s.locker.TryLock(ctx, key, timeout)
		switch {
		case err != nil:
			// row versions keep overlapping runs safe, so a lock outage is not fatal
			s.log.Warn("scheduler.lock.unavailable", zap.String("job", name), zap.Error(err))
		case !acquired:
			schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			s.log.Info("scheduler.job.deferred",
				zap.String("job", name),
				zap.String("reason", obsmetrics.SchedulerBatchDeferredReasonLockHeld),
			)
			return nil
		default:
			defer func() {
				releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer releaseCancel()
				if err := s.locker.Release(releaseCtx, key, token); err != nil {
					s.log.Warn("scheduler.lock.release_failed", zap.String("job", name), zap.Error(err))
				}
			}()
		}
	}

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errors.Load() == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// GenerateDeliveriesJob creates today's deliveries in the configured timezone.
func (s *Scheduler) GenerateDeliveriesJob(ctx context.Context) error {
	return s.generateFor(ctx, deliverydomain.DateOf(s.clock.Now(), s.config().Location))
}

// generateFor runs the generator for day. A run cut short by its context
// leaves day pending so the next progression tick resumes it.
func (s *Scheduler) generateFor(ctx context.Context, day time.Time) error {
	result, err := s.GenerateDailyDeliveries(ctx, day)
	if ctx.Err() != nil {
		s.pendingGenerate.Store(&day)
		s.log.Warn("scheduler.generate.incomplete",
			zap.Time("date", day),
			zap.Int("created", result.Created),
			zap.Int("skipped", result.Skipped),
		)
	} else if pending := s.pendingGenerate.Load(); pending != nil && pending.Equal(day) {
		s.pendingGenerate.CompareAndSwap(pending, nil)
	}
	if err != nil {
		return err
	}
	return errors.Join(result.Errors...)
}

// resumeGenerate reruns an interrupted generation. Re-running is safe since
// existing deliveries are skipped.
func (s *Scheduler) resumeGenerate(ctx context.Context) {
	day := s.pendingGenerate.Load()
	if day == nil || !s.isJobEnabled(JobGenerateDeliveries) {
		return
	}
	s.log.Info("scheduler.generate.resume", zap.Time("date", *day))
	cfg := s.config()
	err := s.runJob(ctx, JobGenerateDeliveries, cfg.BatchSize, cfg.GenerateTimeout, func(ctx context.Context) error {
		return s.generateFor(ctx, *day)
	})
	if err != nil {
		s.log.Warn("scheduler generate failed", zap.Error(err))
	}
}

// ProgressDeliveriesJob advances in-flight deliveries against the clock.
func (s *Scheduler) ProgressDeliveriesJob(ctx context.Context) error {
	result, err := s.AdvanceDeliveries(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	return errors.Join(result.Errors...)
}

func (s *Scheduler) runGenerate(ctx context.Context) error {
	cfg := s.config()
	return s.runJob(ctx, JobGenerateDeliveries, cfg.BatchSize, cfg.GenerateTimeout, s.GenerateDeliveriesJob)
}

func (s *Scheduler) runProgress(ctx context.Context) error {
	cfg := s.config()
	return s.runJob(ctx, JobProgressDeliveries, cfg.BatchSize, cfg.JobTimeout, s.ProgressDeliveriesJob)
}

// RunOnce runs every enabled job a single time, generation first.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobGenerateDeliveries, s.runGenerate},
		{JobProgressDeliveries, s.runProgress},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

// RunForever drives the progression engine on ProgressInterval until ctx ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.config().ProgressInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := time.Now().Add(interval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		s.resumeGenerate(ctx)
		if s.isJobEnabled(JobProgressDeliveries) {
			if err := s.runProgress(ctx); err != nil {
				s.log.Warn("scheduler run failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if current := s.config().ProgressInterval; current != interval {
			interval = current
			ticker.Reset(interval)
			s.log.Info("scheduler.interval.updated", zap.Duration("interval", interval))
		}
		nextRun = time.Now().Add(interval)
	}
}

// StartCron registers the generator on GenerateCron in the delivery timezone.
func (s *Scheduler) StartCron(ctx context.Context) error {
	if !s.isJobEnabled(JobGenerateDeliveries) {
		return nil
	}
	cfg := s.config()
	cronLog := cron.PrintfLogger(zap.NewStdLog(s.log.Named("cron")))
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLog)),
	)
	if _, err := c.AddFunc(cfg.GenerateCron, func() {
		if err := s.runGenerate(ctx); err != nil {
			s.log.Warn("scheduler generate failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register %s cron %q: %w", JobGenerateDeliveries, cfg.GenerateCron, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("scheduler.cron.started",
		zap.String("job", JobGenerateDeliveries),
		zap.String("spec", cfg.GenerateCron),
		zap.String("timezone", cfg.Location.String()),
	)
	return nil
}

// StopCron stops the cron trigger and waits for a running generation.
func (s *Scheduler) StopCron(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	enabled := s.config().EnabledJobs
	// empty means every job runs in this process
	if len(enabled) == 0 {
		return true
	}
	for _, name := range enabled {
		if strings.EqualFold(strings.TrimSpace(name), jobName) {
			return true
		}
	}
	return false
}
