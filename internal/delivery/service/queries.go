package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/mealdelivery/internal/audit/domain"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	"github.com/smallbiznis/mealdelivery/pkg/db/pagination"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// GetCurrent returns the user's delivery for today in the delivery timezone.
func (s *Service) GetCurrent(ctx context.Context, userID string) (view deliverydomain.DeliveryView, err error) {
	ctx, span := startSpan(ctx, "delivery.GetCurrent")
	defer func() { endSpan(span, err) }()

	uid, err := parseUserID(userID)
	if err != nil {
		return view, err
	}
	today := deliverydomain.DateOf(s.clock.Now(), s.loc)
	d, err := s.repo.FindForUserOnDate(ctx, s.db, uid, today)
	if err != nil {
		return view, err
	}
	if d == nil {
		return view, fmt.Errorf("%w: No active delivery found for today", deliverydomain.ErrNotFound)
	}
	return s.view(ctx, s.db, *d)
}

func (s *Service) GetByID(ctx context.Context, deliveryID string) (view deliverydomain.DeliveryView, err error) {
	ctx, span := startSpan(ctx, "delivery.GetByID")
	defer func() { endSpan(span, err) }()

	d, err := s.load(ctx, deliveryID)
	if err != nil {
		return view, err
	}
	return s.view(ctx, s.db, *d)
}

// GetHistory pages a user's deliveries, newest date first.
func (s *Service) GetHistory(ctx context.Context, req deliverydomain.HistoryRequest) (resp deliverydomain.HistoryResponse, err error) {
	ctx, span := startSpan(ctx, "delivery.GetHistory")
	defer func() { endSpan(span, err) }()

	uid, err := parseUserID(req.UserID)
	if err != nil {
		return resp, err
	}
	filter := deliverydomain.ListFilter{UserID: uid}
	if req.StartDate != nil {
		start := deliverydomain.DateOf(*req.StartDate, req.StartDate.Location())
		filter.StartDate = &start
	}
	if req.EndDate != nil {
		end := deliverydomain.DateOf(*req.EndDate, req.EndDate.Location())
		filter.EndDate = &end
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.StartDate.After(*filter.EndDate) {
		return resp, &deliverydomain.ValidationError{Field: "startDate", Message: "Start date must be on or before end date"}
	}
	if filter.Status, err = parseStatusFilter(req.Status); err != nil {
		return resp, err
	}

	rows, info, err := s.page(ctx, filter, req.Pagination)
	if err != nil {
		return resp, err
	}
	span.SetAttributes(attribute.Int("delivery.count", len(rows)))

	resp.PageInfo = info
	resp.Deliveries = make([]deliverydomain.HistoryItem, 0, len(rows))
	for _, d := range rows {
		meals, err := s.repo.ListMeals(ctx, s.db, d.SubscriptionID, d.DeliveryDate)
		if err != nil {
			return resp, err
		}
		resp.Deliveries = append(resp.Deliveries, deliverydomain.HistoryItem{
			ID:           d.ID.String(),
			DeliveryDate: d.DeliveryDate.Format(deliverydomain.DateLayout),
			DeliveryTime: timePtr(d.DeliveryTime),
			Status:       d.Status,
			Confirmed:    d.Status == deliverydomain.StatusConfirmed,
			MealCount:    len(meals),
			UpdatedAt:    d.StatusUpdatedAt,
		})
	}
	return resp, nil
}

// ListForAdmin pages deliveries across users with subscriber details.
func (s *Service) ListForAdmin(ctx context.Context, req deliverydomain.AdminListRequest) (resp deliverydomain.AdminListResponse, err error) {
	ctx, span := startSpan(ctx, "delivery.ListForAdmin")
	defer func() { endSpan(span, err) }()

	filter := deliverydomain.ListFilter{UserEmail: strings.TrimSpace(req.UserEmail)}
	if strings.TrimSpace(req.UserID) != "" {
		if filter.UserID, err = parseUserID(req.UserID); err != nil {
			return resp, err
		}
	}
	if req.Date != nil {
		date := deliverydomain.DateOf(*req.Date, req.Date.Location())
		filter.Date = &date
	}
	if filter.Status, err = parseStatusFilter(req.Status); err != nil {
		return resp, err
	}

	rows, info, err := s.page(ctx, filter, req.Pagination)
	if err != nil {
		return resp, err
	}
	span.SetAttributes(attribute.Int("delivery.count", len(rows)))

	owners := make(map[snowflake.ID]*deliverydomain.DeliveryOwner)
	resp.PageInfo = info
	resp.Deliveries = make([]deliverydomain.AdminDeliveryView, 0, len(rows))
	for _, d := range rows {
		view, err := s.view(ctx, s.db, *d)
		if err != nil {
			return resp, err
		}
		owner, ok := owners[d.SubscriptionID]
		if !ok {
			if owner, err = s.repo.GetOwner(ctx, s.db, d.SubscriptionID); err != nil {
				return resp, err
			}
			owners[d.SubscriptionID] = owner
		}
		item := deliverydomain.AdminDeliveryView{DeliveryView: view, UserID: d.UserID.String()}
		if owner != nil {
			item.UserEmail = owner.UserEmail
			item.UserName = owner.UserName
			item.PlanName = owner.PlanName
		}
		resp.Deliveries = append(resp.Deliveries, item)
	}
	return resp, nil
}

// GetStatusHistory reconstructs the status timeline from the row and its
// admin override audit entries.
func (s *Service) GetStatusHistory(ctx context.Context, deliveryID string) (events []deliverydomain.StatusEvent, err error) {
	ctx, span := startSpan(ctx, "delivery.GetStatusHistory")
	defer func() { endSpan(span, err) }()

	d, err := s.load(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	events = append(events, deliverydomain.StatusEvent{
		Status:    deliverydomain.StatusPreparing,
		ChangedAt: d.CreatedAt,
		ChangedBy: "System",
		Note:      "Delivery created",
	})

	if s.auditReader != nil {
		logs, err := s.auditReader.ListForDelivery(ctx, d.ID, auditdomain.ActionDeliveryAdminOverride)
		if err != nil {
			return nil, err
		}
		for _, entry := range logs {
			status, err := deliverydomain.ParseStatus(fmt.Sprint(entry.Metadata["new_status"]))
			if err != nil {
				continue
			}
			changedBy := "Admin"
			if entry.ActorID != nil && *entry.ActorID != "" {
				changedBy = "Admin " + *entry.ActorID
			}
			note, _ := entry.Metadata["description"].(string)
			events = append(events, deliverydomain.StatusEvent{
				Status:    status,
				ChangedAt: entry.CreatedAt,
				ChangedBy: changedBy,
				Note:      note,
			})
		}
	}

	changedBy := "System"
	if d.Status == deliverydomain.StatusConfirmed {
		changedBy = "User"
	}
	events = append(events, deliverydomain.StatusEvent{
		Status:    d.Status,
		ChangedAt: d.StatusUpdatedAt,
		ChangedBy: changedBy,
		Note:      "Current status",
	})
	return events, nil
}

func (s *Service) load(ctx context.Context, deliveryID string) (*deliverydomain.Delivery, error) {
	id, err := parseDeliveryID(deliveryID)
	if err != nil {
		return nil, err
	}
	d, err := s.repo.FindByID(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, notFound(id)
	}
	return d, nil
}

func (s *Service) page(ctx context.Context, filter deliverydomain.ListFilter, p pagination.Pagination) ([]*deliverydomain.Delivery, pagination.PageInfo, error) {
	if token := strings.TrimSpace(p.PageToken); token != "" {
		cursor, err := decodeListCursor(token)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		filter.Cursor = cursor
	}
	limit := p.Size()
	filter.Limit = limit + 1

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(d *deliverydomain.Delivery) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:      d.ID.String(),
			SortKey: d.DeliveryDate.Format(deliverydomain.DateLayout),
		})
		return token
	})
	return rows, info, nil
}

func decodeListCursor(token string) (*deliverydomain.ListCursor, error) {
	invalid := &deliverydomain.ValidationError{Field: "pageToken", Message: "Invalid page token"}
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, invalid
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil {
		return nil, invalid
	}
	date, err := time.Parse(deliverydomain.DateLayout, cursor.SortKey)
	if err != nil {
		return nil, invalid
	}
	return &deliverydomain.ListCursor{DeliveryDate: date, ID: id}, nil
}

func parseStatusFilter(raw string) (deliverydomain.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	status, err := deliverydomain.ParseStatus(raw)
	if err != nil {
		return "", &deliverydomain.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("Invalid status: %s", strings.TrimSpace(raw)),
		}
	}
	return status, nil
}

func (s *Service) view(ctx context.Context, db *gorm.DB, d deliverydomain.Delivery) (deliverydomain.DeliveryView, error) {
	meals, err := s.repo.ListMeals(ctx, db, d.SubscriptionID, d.DeliveryDate)
	if err != nil {
		return deliverydomain.DeliveryView{}, err
	}
	if meals == nil {
		meals = []deliverydomain.MealRef{}
	}
	return deliverydomain.DeliveryView{
		ID:              d.ID.String(),
		SubscriptionID:  d.SubscriptionID.String(),
		DeliveryDate:    d.DeliveryDate.Format(deliverydomain.DateLayout),
		DeliveryTime:    timePtr(d.DeliveryTime),
		Address:         d.Address,
		Status:          d.Status,
		StatusUpdatedAt: d.StatusUpdatedAt,
		ConfirmedAt:     d.ConfirmedAt,
		CreatedAt:       d.CreatedAt,
		Meals:           meals,
	}, nil
}

func timePtr(t *timeofday.TimeOfDay) *string {
	if t == nil {
		return nil
	}
	s := t.String()
	return &s
}

func formatTime(t *timeofday.TimeOfDay) string {
	if t == nil {
		return ""
	}
	return t.String()
}
