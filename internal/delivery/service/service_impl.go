package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	auditdomain "github.com/smallbiznis/mealdelivery/internal/audit/domain"
	"github.com/smallbiznis/mealdelivery/internal/clock"
	"github.com/smallbiznis/mealdelivery/internal/config"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	obscontext "github.com/smallbiznis/mealdelivery/internal/observability/context"
	obslogger "github.com/smallbiznis/mealdelivery/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/mealdelivery/internal/observability/metrics"
	"github.com/smallbiznis/mealdelivery/internal/observability/tracing"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxMutationTries = 5

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        deliverydomain.Repository
	Config      config.Config
	Audit       auditdomain.Sink    `optional:"true"`
	AuditReader auditdomain.Reader  `optional:"true"`
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        deliverydomain.Repository
	audit       auditdomain.Sink
	auditReader auditdomain.Reader
	metrics     *obsmetrics.Metrics
	loc         *time.Location

	newBackOff func() backoff.BackOff
}

func NewService(p Params) (deliverydomain.Service, error) {
	loc, err := p.Config.Delivery.Location()
	if err != nil {
		return nil, err
	}
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("delivery.service"),
		clock:       c,
		repo:        p.Repo,
		audit:       p.Audit,
		auditReader: p.AuditReader,
		metrics:     p.Metrics,
		loc:         loc,
		newBackOff:  newRetryBackOff,
	}, nil
}

func newRetryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// mutation carries one committed write and the row before and after it.
type mutation struct {
	before  deliverydomain.Delivery
	after   deliverydomain.Delivery
	changed bool
}

// mutate runs apply inside a transaction on the locked row. A version
// conflict re-reads and retries; every other error is returned as is.
func (s *Service) mutate(
	ctx context.Context,
	id snowflake.ID,
	apply func(tx *gorm.DB, current deliverydomain.Delivery, now time.Time) (bool, error),
) (mutation, error) {
	op := func() (mutation, error) {
		var m mutation
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.FindByID(ctx, tx, id, true)
			if err != nil {
				return err
			}
			if current == nil {
				return notFound(id)
			}
			m.before = *current

			changed, err := apply(tx, *current, s.clock.Now().UTC())
			if err != nil {
				return err
			}
			m.changed = changed
			if !changed {
				m.after = *current
				return nil
			}

			updated, err := s.repo.FindByID(ctx, tx, id, false)
			if err != nil {
				return err
			}
			if updated == nil {
				return notFound(id)
			}
			m.after = *updated
			return nil
		})
		if err != nil && !errors.Is(err, deliverydomain.ErrConcurrentUpdate) {
			return m, backoff.Permanent(err)
		}
		return m, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(maxMutationTries),
	)
}

// UpdatePreferences changes the delivery time and/or address while the
// delivery is still being prepared.
func (s *Service) UpdatePreferences(ctx context.Context, req deliverydomain.UpdatePreferencesRequest) (view deliverydomain.DeliveryView, err error) {
	ctx, span := startSpan(ctx, "delivery.UpdatePreferences")
	defer func() { endSpan(span, err) }()

	var (
		newTime    *timeofday.TimeOfDay
		newAddress *string
	)
	if isBlank(req.DeliveryTime) && isBlank(req.Address) {
		return view, &deliverydomain.ValidationError{
			Field:   "deliveryTime",
			Message: "At least one field (deliveryTime or deliveryAddress) must be provided",
		}
	}
	if !isBlank(req.DeliveryTime) {
		parsed, err := deliverydomain.ParseDeliveryTimeFormat(*req.DeliveryTime)
		if err != nil {
			return view, err
		}
		newTime = &parsed
	}

	id, err := parseDeliveryID(req.DeliveryID)
	if err != nil {
		return view, err
	}
	span.SetAttributes(attribute.String("delivery.id", id.String()))

	// lookup and state gate come before the value checks
	m, err := s.mutate(ctx, id, func(tx *gorm.DB, current deliverydomain.Delivery, _ time.Time) (bool, error) {
		if err := deliverydomain.EnsureCanUpdatePreferences(current.Status); err != nil {
			return false, err
		}
		if newTime != nil {
			if err := deliverydomain.ValidateDeliveryTime(*newTime); err != nil {
				return false, err
			}
		}
		if req.Address != nil {
			address, err := deliverydomain.NormalizeAddress(*req.Address)
			if err != nil {
				return false, err
			}
			newAddress = &address
		}
		if err := s.repo.UpdatePreferences(ctx, tx, deliverydomain.PreferencesUpdate{
			ID:              current.ID,
			ExpectedVersion: current.Version,
			DeliveryTime:    newTime,
			Address:         newAddress,
		}); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return view, err
	}

	detail := map[string]any{}
	if newTime != nil {
		detail["old_delivery_time"] = formatTime(m.before.DeliveryTime)
		detail["new_delivery_time"] = newTime.String()
		s.metrics.RecordPreferenceUpdate(ctx, "delivery_time")
	}
	if newAddress != nil {
		detail["old_address"] = m.before.Address
		detail["new_address"] = *newAddress
		s.metrics.RecordPreferenceUpdate(ctx, "address")
	}
	s.recordEvent(ctx, auditdomain.Event{
		Kind:       auditdomain.ActionDeliveryPreferencesUpdated,
		DeliveryID: id,
		ActorType:  auditdomain.ActorTypeUser,
		Detail:     detail,
	})
	s.logger(ctx).Info("delivery.preferences.updated",
		zap.String("delivery_id", id.String()),
		zap.Bool("delivery_time_changed", newTime != nil),
		zap.Bool("address_changed", newAddress != nil),
	)

	return s.view(ctx, s.db, m.after)
}

// Confirm records receipt of a delivered order. Confirming twice is a no-op.
func (s *Service) Confirm(ctx context.Context, deliveryID string) (view deliverydomain.DeliveryView, err error) {
	ctx, span := startSpan(ctx, "delivery.Confirm")
	defer func() { endSpan(span, err) }()

	id, err := parseDeliveryID(deliveryID)
	if err != nil {
		return view, err
	}
	span.SetAttributes(attribute.String("delivery.id", id.String()))

	m, err := s.mutate(ctx, id, func(tx *gorm.DB, current deliverydomain.Delivery, now time.Time) (bool, error) {
		alreadyConfirmed, err := deliverydomain.EnsureCanConfirm(current.Status)
		if err != nil || alreadyConfirmed {
			return false, err
		}
		if err := s.repo.UpdateStatus(ctx, tx, deliverydomain.StatusUpdate{
			ID:              current.ID,
			ExpectedVersion: current.Version,
			Status:          deliverydomain.StatusConfirmed,
			StatusUpdatedAt: now,
			ConfirmedAt:     &now,
		}); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return view, err
	}

	if m.changed {
		s.metrics.RecordConfirmation(ctx)
		s.recordEvent(ctx, auditdomain.Event{
			Kind:       auditdomain.ActionDeliveryConfirmed,
			DeliveryID: id,
			ActorType:  auditdomain.ActorTypeUser,
			Detail: map[string]any{
				"old_status": string(m.before.Status),
				"new_status": string(deliverydomain.StatusConfirmed),
			},
		})
		s.logger(ctx).Info("delivery.confirmed", zap.String("delivery_id", id.String()))
	}

	return s.view(ctx, s.db, m.after)
}

// AdminOverride sets any status regardless of the current one.
func (s *Service) AdminOverride(ctx context.Context, req deliverydomain.AdminOverrideRequest) (view deliverydomain.DeliveryView, err error) {
	ctx, span := startSpan(ctx, "delivery.AdminOverride")
	defer func() { endSpan(span, err) }()

	target, err := deliverydomain.ParseStatus(req.Status)
	if err != nil {
		return view, &deliverydomain.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("Invalid status: %s", strings.TrimSpace(req.Status)),
		}
	}
	id, err := parseDeliveryID(req.DeliveryID)
	if err != nil {
		return view, err
	}
	span.SetAttributes(
		attribute.String("delivery.id", id.String()),
		attribute.String("delivery.status", string(target)),
	)

	m, err := s.mutate(ctx, id, func(tx *gorm.DB, current deliverydomain.Delivery, now time.Time) (bool, error) {
		update := deliverydomain.StatusUpdate{
			ID:              current.ID,
			ExpectedVersion: current.Version,
			Status:          target,
			StatusUpdatedAt: now,
		}
		if target == deliverydomain.StatusConfirmed {
			update.ConfirmedAt = &now
		}
		if err := s.repo.UpdateStatus(ctx, tx, update); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return view, err
	}

	actorID := strings.TrimSpace(req.ActorID)
	if actorID == "" {
		_, actorID = obscontext.ActorFromContext(ctx)
	}
	s.metrics.RecordAdminOverride(ctx, string(m.before.Status), string(target))
	s.recordEvent(ctx, auditdomain.Event{
		Kind:       auditdomain.ActionDeliveryAdminOverride,
		DeliveryID: id,
		ActorType:  auditdomain.ActorTypeAdmin,
		ActorID:    actorID,
		Detail: map[string]any{
			"delivery_id": id.String(),
			"old_status":  string(m.before.Status),
			"new_status":  string(target),
			"description": fmt.Sprintf("Admin manually updated delivery #%s status from %s to %s", id, m.before.Status, target),
		},
	})
	s.logger(ctx).Info("delivery.status.admin_override",
		zap.String("delivery_id", id.String()),
		zap.String("from", string(m.before.Status)),
		zap.String("to", string(target)),
		zap.String("actor_id", actorID),
	)

	return s.view(ctx, s.db, m.after)
}

func (s *Service) recordEvent(ctx context.Context, event auditdomain.Event) {
	if s.audit == nil {
		return
	}
	s.audit.RecordEvent(ctx, event)
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func parseDeliveryID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, &deliverydomain.ValidationError{Field: "deliveryId", Message: fmt.Sprintf("Invalid delivery id: %q", raw)}
	}
	return id, nil
}

func parseUserID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, &deliverydomain.ValidationError{Field: "userId", Message: fmt.Sprintf("Invalid user id: %q", raw)}
	}
	return id, nil
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func notFound(id snowflake.ID) error {
	return fmt.Errorf("%w: delivery %s", deliverydomain.ErrNotFound, id)
}

var _ deliverydomain.Service = (*Service)(nil)
