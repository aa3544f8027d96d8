package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	obscontext "github.com/smallbiznis/mealdelivery/internal/observability/context"
	obslogger "github.com/smallbiznis/mealdelivery/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/mealdelivery/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job. Counters are updated from the
// progression workers concurrently.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	processed atomic.Int64
	warnings  atomic.Int64
	errors    atomic.Int64
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r != nil && count > 0 {
		r.processed.Add(int64(count))
	}
}

// AddWarning counts an item that was skipped without failing, such as a
// delivery with no time of day.
func (r *jobRun) AddWarning() {
	if r != nil {
		r.warnings.Add(1)
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.errors.Add(1)
	}
}

// ensureJobRun attaches a jobRun to ctx unless one is already present. The
// boolean reports whether the caller owns the run and must log its finish.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, false
	}

	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	if actorType, _ := obscontext.ActorFromContext(ctx); actorType == "" {
		ctx = obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "scheduler")
	}
	ctx, _ = obscontext.EnsureCorrelationID(ctx)
	return ctx, run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	errCount := run.errors.Load()
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int64("processed_count", run.processed.Load()),
		zap.Int64("warning_count", run.warnings.Load()),
		zap.Int64("error_count", errCount),
	}
	if errCount > 0 {
		s.logger(ctx).Warn("scheduler.job.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	run.IncError()
	s.logger(ctx).Error(msg, append([]zap.Field{
		zap.String("job", job),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.String("error", err.Error()),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
	}, fields...)...)
}
