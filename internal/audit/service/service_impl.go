package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/mealdelivery/internal/audit/domain"
	"github.com/smallbiznis/mealdelivery/internal/audit/masking"
	"github.com/smallbiznis/mealdelivery/internal/clock"
	obscontext "github.com/smallbiznis/mealdelivery/internal/observability/context"
	obsmetrics "github.com/smallbiznis/mealdelivery/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// sensitiveKeys are masked in stored metadata.
var sensitiveKeys = []string{"address", "old_address", "new_address"}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    auditdomain.Repository
	metrics *obsmetrics.SchedulerMetrics
}

func NewService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("audit.service"),
		genID:   p.GenID,
		clock:   c,
		repo:    p.Repo,
		metrics: obsmetrics.Scheduler(),
	}
}

// RecordEvent writes the event to audit_logs. Errors are logged and counted.
func (s *Service) RecordEvent(ctx context.Context, event auditdomain.Event) {
	if err := s.record(ctx, event); err != nil {
		s.metrics.IncAuditWriteFailure(event.Kind)
		s.log.Warn("failed to write audit log",
			zap.String("action", event.Kind),
			zap.String("delivery_id", event.DeliveryID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) record(ctx context.Context, event auditdomain.Event) error {
	action := strings.TrimSpace(event.Kind)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	if event.DeliveryID == 0 {
		return auditdomain.ErrInvalidTarget
	}

	actorType, actorID := s.resolveActor(ctx, event.ActorType, event.ActorID)

	payload := masking.MaskKeys(event.Detail, sensitiveKeys...)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if correlationID := obscontext.CorrelationIDFromContext(ctx); correlationID != "" {
		payload["correlation_id"] = correlationID
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: auditdomain.TargetTypeDelivery,
		TargetID:   event.DeliveryID.String(),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now().UTC(),
	}
	return s.repo.Insert(ctx, s.db, &entry)
}

// ListForDelivery returns the audit trail of one delivery in write order.
func (s *Service) ListForDelivery(ctx context.Context, deliveryID snowflake.ID, actions ...string) ([]auditdomain.AuditLog, error) {
	if deliveryID == 0 {
		return nil, auditdomain.ErrInvalidTarget
	}
	return s.repo.List(ctx, s.db, auditdomain.ListFilter{
		TargetType: auditdomain.TargetTypeDelivery,
		TargetID:   deliveryID.String(),
		Actions:    actions,
	})
}

func (s *Service) resolveActor(ctx context.Context, actorType auditdomain.ActorType, actorID string) (string, *string) {
	resolvedType := strings.TrimSpace(string(actorType))
	resolvedID := strings.TrimSpace(actorID)
	if resolvedType == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			resolvedType = ctxType
			if resolvedID == "" {
				resolvedID = ctxID
			}
		}
	}
	if resolvedType == "" {
		resolvedType = string(auditdomain.ActorTypeSystem)
	}
	if resolvedID == "" {
		return resolvedType, nil
	}
	return resolvedType, &resolvedID
}

var (
	_ auditdomain.Sink   = (*Service)(nil)
	_ auditdomain.Reader = (*Service)(nil)
)
