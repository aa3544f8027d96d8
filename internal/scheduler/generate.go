package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	obsmetrics "github.com/smallbiznis/mealdelivery/internal/observability/metrics"
	"github.com/smallbiznis/mealdelivery/internal/scheduler/guard"
	subscriptiondomain "github.com/smallbiznis/mealdelivery/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GenerateResult summarizes one generator pass. Errors holds per-subscription
// failures; the pass continues past them.
type GenerateResult struct {
	Created int
	Skipped int
	Errors  []error
}

type generateOutcome int

const (
	generateNoMeals generateOutcome = iota
	generateCreated
	generateSkipped
	generateIgnored
)

// GenerateDailyDeliveries creates one PREPARING delivery per active
// subscription with meals scheduled on today. Existing deliveries are left
// untouched, so repeated runs for the same day are no-ops. The returned error
// is set only when subscriptions could not be enumerated.
func (s *Scheduler) GenerateDailyDeliveries(ctx context.Context, today time.Time) (GenerateResult, error) {
	cfg := s.config()
	ctx, run, owner := s.ensureJobRun(ctx, JobGenerateDeliveries, cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	day := deliverydomain.DateOf(today, today.Location())
	now := s.clock.Now().UTC()
	schedMetrics := obsmetrics.Scheduler()
	var result GenerateResult

	statusDefined, err := s.deliveries.StatusDefined(ctx, s.db, deliverydomain.StatusPreparing)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.generate.failed", JobGenerateDeliveries, err)
		return result, fmt.Errorf("check delivery status definitions: %w", err)
	}
	if !statusDefined {
		s.logger(ctx).Error("scheduler.generate.status_missing",
			zap.String("status", string(deliverydomain.StatusPreparing)),
		)
	}

	var afterID snowflake.ID
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		subs, err := s.subscriptions.ListActive(ctx, s.db, afterID, cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.generate.failed", JobGenerateDeliveries, err)
			return result, fmt.Errorf("list active subscriptions: %w", err)
		}
		if len(subs) == 0 {
			break
		}

		for _, sub := range subs {
			outcome, err := s.generateForSubscription(ctx, sub, day, now, cfg.PlaceholderAddress, statusDefined)
			run.AddProcessed(1)
			if err != nil {
				schedMetrics.IncGenerated(obsmetrics.GenerateOutcomeFailed)
				schedMetrics.IncJobError(JobGenerateDeliveries, err)
				s.logSchedulerError(ctx, run, "scheduler.generate.failed", JobGenerateDeliveries, err,
					zap.String("subscription_id", sub.ID.String()),
					zap.String("delivery_date", day.Format(deliverydomain.DateLayout)),
				)
				result.Errors = append(result.Errors, fmt.Errorf("subscription %s: %w", sub.ID, err))
				continue
			}
			switch outcome {
			case generateCreated:
				result.Created++
				schedMetrics.IncGenerated(obsmetrics.GenerateOutcomeCreated)
			case generateSkipped:
				result.Skipped++
				schedMetrics.IncGenerated(obsmetrics.GenerateOutcomeSkipped)
			}
		}
		schedMetrics.AddBatchProcessed(JobGenerateDeliveries, "subscriptions", len(subs))

		afterID = subs[len(subs)-1].ID
		if len(subs) < cfg.BatchSize {
			break
		}
	}

	s.logger(ctx).Info("scheduler.generate.summary",
		zap.String("delivery_date", day.Format(deliverydomain.DateLayout)),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", len(result.Errors)),
	)
	return result, nil
}

func (s *Scheduler) generateForSubscription(
	ctx context.Context,
	sub subscriptiondomain.Subscription,
	day time.Time,
	now time.Time,
	placeholder string,
	statusDefined bool,
) (generateOutcome, error) {
	if err := guard.EnsureSubscriptionCanGenerate(sub.Status); err != nil {
		s.logger(ctx).Debug("scheduler.generate.ignored",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("subscription_status", string(sub.Status)),
		)
		return generateIgnored, nil
	}

	var (
		outcome   generateOutcome
		inserting bool
		created   *deliverydomain.Delivery
		firstMeal snowflake.ID
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		meals, err := s.subscriptions.ListScheduledMeals(ctx, tx, sub.ID, day)
		if err != nil {
			return err
		}
		if len(meals) == 0 {
			outcome = generateNoMeals
			return nil
		}
		firstMeal = meals[0].MealID

		if !statusDefined {
			return fmt.Errorf("%w: delivery status %s is not defined", deliverydomain.ErrDependencyMissing, deliverydomain.StatusPreparing)
		}
		if err := guard.EnsureOwnerPresent(sub.OwnerFound); err != nil {
			return fmt.Errorf("%w: user %s: %w", deliverydomain.ErrDependencyMissing, sub.UserID, err)
		}

		existing, err := s.deliveries.FindByKey(ctx, tx, sub.ID, day)
		if err != nil {
			return err
		}
		if existing != nil {
			outcome = generateSkipped
			return nil
		}

		delivery := &deliverydomain.Delivery{
			ID:              s.genID.Generate(),
			SubscriptionID:  sub.ID,
			UserID:          sub.UserID,
			DeliveryDate:    day,
			Address:         resolveAddress(sub.UserAddress, placeholder),
			DeliveryTime:    sub.PreferredTime,
			Status:          deliverydomain.StatusPreparing,
			Version:         1,
			CreatedAt:       now,
			StatusUpdatedAt: now,
		}
		inserting = true
		if err := s.deliveries.Insert(ctx, tx, delivery); err != nil {
			return err
		}
		outcome = generateCreated
		created = delivery
		return nil
	})

	if errors.Is(err, deliverydomain.ErrDuplicateDelivery) {
		if inserting {
			s.logger(ctx).Debug("scheduler.generate.lost_race",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("delivery_date", day.Format(deliverydomain.DateLayout)),
			)
		} else {
			s.logger(ctx).Error("delivery.integrity.duplicate",
				zap.String("subscription_id", sub.ID.String()),
				zap.String("delivery_date", day.Format(deliverydomain.DateLayout)),
				zap.Error(err),
			)
		}
		return generateSkipped, nil
	}
	if err != nil {
		return outcome, err
	}

	if created != nil {
		fields := []zap.Field{
			zap.String("delivery_id", created.ID.String()),
			zap.String("subscription_id", sub.ID.String()),
			zap.String("meal_id", firstMeal.String()),
			zap.String("delivery_date", day.Format(deliverydomain.DateLayout)),
		}
		if created.DeliveryTime == nil {
			fields = append(fields, zap.Bool("missing_time", true))
		}
		s.logger(ctx).Debug("scheduler.delivery.created", fields...)
	}
	return outcome, nil
}

func resolveAddress(address *string, placeholder string) string {
	if address != nil {
		if trimmed := strings.TrimSpace(*address); trimmed != "" {
			return trimmed
		}
	}
	return placeholder
}
