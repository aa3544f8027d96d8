package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	obsmetrics "github.com/smallbiznis/mealdelivery/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// AdvanceResult summarizes one progression pass. Warnings counts deliveries
// that cannot progress because they have no delivery time.
type AdvanceResult struct {
	Advanced int
	Warnings int
	Errors   []error
}

var inFlightStatuses = []deliverydomain.Status{
	deliverydomain.StatusPreparing,
	deliverydomain.StatusShipped,
}

// AdvanceDeliveries moves every PREPARING or SHIPPED delivery whose window
// has been reached at now. Each delivery is re-read and updated in its own
// transaction; a delivery changed concurrently is left for the next pass.
func (s *Scheduler) AdvanceDeliveries(ctx context.Context, now time.Time) (AdvanceResult, error) {
	cfg := s.config()
	ctx, run, owner := s.ensureJobRun(ctx, JobProgressDeliveries, cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	var (
		result AdvanceResult
		mu     sync.Mutex
	)
	schedMetrics := obsmetrics.Scheduler()

	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := s.deliveries.FindByStatusIn(ctx, s.db, inFlightStatuses, afterID, cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.progress.failed", JobProgressDeliveries, err)
			return result, fmt.Errorf("list in-flight deliveries: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(cfg.Workers)
		for _, item := range batch {
			id := item.ID
			g.Go(func() error {
				decision, err := s.advanceOne(ctx, id, now, cfg.Location)
				run.AddProcessed(1)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case errors.Is(err, deliverydomain.ErrConcurrentUpdate):
					s.logger(ctx).Debug("scheduler.delivery.conflict", zap.String("delivery_id", id.String()))
				case err != nil:
					schedMetrics.IncJobError(JobProgressDeliveries, err)
					s.logSchedulerError(ctx, run, "scheduler.progress.failed", JobProgressDeliveries, err,
						zap.String("delivery_id", id.String()),
					)
					result.Errors = append(result.Errors, fmt.Errorf("delivery %s: %w", id, err))
				case decision.MissingTime:
					result.Warnings++
					run.AddWarning()
					schedMetrics.IncMissingDeliveryTime()
					s.logger(ctx).Warn("scheduler.delivery.missing_time",
						zap.String("delivery_id", id.String()),
						zap.String("status", string(decision.From)),
					)
				case decision.Transition():
					result.Advanced++
					s.recordTransition(ctx, id, decision)
				}
				return nil
			})
		}
		_ = g.Wait()
		schedMetrics.AddBatchProcessed(JobProgressDeliveries, "deliveries", len(batch))

		afterID = batch[len(batch)-1].ID
		if len(batch) < cfg.BatchSize {
			break
		}
	}

	return result, nil
}

func (s *Scheduler) advanceOne(ctx context.Context, id snowflake.ID, now time.Time, loc *time.Location) (deliverydomain.Decision, error) {
	var decision deliverydomain.Decision
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		delivery, err := s.deliveries.FindByID(ctx, tx, id, true)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceDeliveryByID, time.Since(lockStart))
		if err != nil {
			return err
		}
		if delivery == nil {
			return nil
		}

		decision, err = deliverydomain.Evaluate(*delivery, now, loc)
		if err != nil {
			return err
		}
		if !decision.Transition() {
			return nil
		}
		return s.deliveries.UpdateStatus(ctx, tx, deliverydomain.StatusUpdate{
			ID:              delivery.ID,
			ExpectedVersion: delivery.Version,
			Status:          decision.To,
			StatusUpdatedAt: now.UTC(),
		})
	})
	return decision, err
}

func (s *Scheduler) recordTransition(ctx context.Context, id snowflake.ID, decision deliverydomain.Decision) {
	trigger := obsmetrics.TransitionTriggerNormal
	event := "scheduler.delivery.transitioned"
	if decision.CatchUp {
		trigger = obsmetrics.TransitionTriggerCatchUp
		event = "scheduler.delivery.catch_up"
	}
	obsmetrics.Scheduler().IncDeliveryTransition(string(decision.From), string(decision.To), trigger)
	s.logger(ctx).Info(event,
		zap.String("delivery_id", id.String()),
		zap.String("from", string(decision.From)),
		zap.String("to", string(decision.To)),
	)
}
