package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	auditdomain "github.com/smallbiznis/mealdelivery/internal/audit/domain"
	auditrepository "github.com/smallbiznis/mealdelivery/internal/audit/repository"
	auditservice "github.com/smallbiznis/mealdelivery/internal/audit/service"
	"github.com/smallbiznis/mealdelivery/internal/clock"
	"github.com/smallbiznis/mealdelivery/internal/config"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	deliveryrepository "github.com/smallbiznis/mealdelivery/internal/delivery/repository"
	"github.com/smallbiznis/mealdelivery/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) RecordEvent(ctx context.Context, event auditdomain.Event) {
	m.Called(ctx, event)
}

func eventOfKind(kind string) any {
	return mock.MatchedBy(func(e auditdomain.Event) bool { return e.Kind == kind })
}

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	sink  *mockSink
	svc   *Service
}

var (
	day = testutil.Day(2024, time.March, 5)
	ctx = context.Background()
)

func newFixture(t *testing.T, repo deliverydomain.Repository) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	clk := clock.NewFakeClock(day.Add(10 * time.Hour))
	sink := &mockSink{}
	if repo == nil {
		repo = deliveryrepository.Provide()
	}

	svc, err := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Repo:   repo,
		Config: config.Config{Delivery: config.DeliveryConfig{Timezone: "UTC"}},
		Audit:  sink,
	})
	require.NoError(t, err)

	s := svc.(*Service)
	s.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	// user 100 owns subscription 10, which has two meals on day
	testutil.User(t, db, 100, "ana@example.com", "Ana Diaz", nil)
	testutil.Plan(t, db, 200, "Family")
	testutil.Subscription(t, db, 10, 100, 200, "18:00", "ACTIVE")
	testutil.Meal(t, db, 300, "Pho")
	testutil.Meal(t, db, 301, "Salad")
	testutil.ScheduleMeal(t, db, 400, 10, 301, day, 2)
	testutil.ScheduleMeal(t, db, 401, 10, 300, day, 1)

	return &fixture{db: db, clock: clk, sink: sink, svc: s}
}

func strPtr(s string) *string { return &s }

func TestUpdatePreferencesChangesTimeAndAddress(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "18:00", "PREPARING", day)
	f.sink.On("RecordEvent", mock.Anything, eventOfKind(auditdomain.ActionDeliveryPreferencesUpdated)).Once()

	view, err := f.svc.UpdatePreferences(ctx, deliverydomain.UpdatePreferencesRequest{
		DeliveryID:   "1",
		DeliveryTime: strPtr("19:30"),
		Address:      strPtr("  44 Harbour Road "),
	})
	require.NoError(t, err)
	require.NotNil(t, view.DeliveryTime)
	assert.Equal(t, "19:30", *view.DeliveryTime)
	assert.Equal(t, "44 Harbour Road", view.Address)
	assert.Equal(t, deliverydomain.StatusPreparing, view.Status)
	require.Len(t, view.Meals, 2)
	assert.Equal(t, "Pho", view.Meals[0].Name)

	f.sink.AssertExpectations(t)
	event := f.sink.Calls[0].Arguments.Get(1).(auditdomain.Event)
	assert.Equal(t, "18:00", event.Detail["old_delivery_time"])
	assert.Equal(t, "19:30", event.Detail["new_delivery_time"])
}

func TestUpdatePreferencesValidation(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "18:00", "PREPARING", day)

	cases := []struct {
		name    string
		req     deliverydomain.UpdatePreferencesRequest
		message string
	}{
		{"nothing provided", deliverydomain.UpdatePreferencesRequest{DeliveryID: "1"}, "At least one field (deliveryTime or deliveryAddress) must be provided"},
		{"blank fields", deliverydomain.UpdatePreferencesRequest{DeliveryID: "1", DeliveryTime: strPtr(" "), Address: strPtr("")}, "At least one field (deliveryTime or deliveryAddress) must be provided"},
		{"too early", deliverydomain.UpdatePreferencesRequest{DeliveryID: "1", DeliveryTime: strPtr("05:59")}, "Delivery time must be between 06:00 and 23:00"},
		{"too late", deliverydomain.UpdatePreferencesRequest{DeliveryID: "1", DeliveryTime: strPtr("23:01")}, "Delivery time must be between 06:00 and 23:00"},
		{"blank address", deliverydomain.UpdatePreferencesRequest{DeliveryID: "1", DeliveryTime: strPtr("10:00"), Address: strPtr("   ")}, "Address cannot be empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdatePreferences(ctx, tc.req)
			require.ErrorIs(t, err, deliverydomain.ErrValidation)
			assert.Equal(t, tc.message, err.Error())
		})
	}

	_, err := f.svc.UpdatePreferences(ctx, deliverydomain.UpdatePreferencesRequest{DeliveryID: "1", DeliveryTime: strPtr("7pm")})
	assert.ErrorIs(t, err, deliverydomain.ErrValidation)
	f.sink.AssertNotCalled(t, "RecordEvent", mock.Anything, mock.Anything)
}

func TestUpdatePreferencesRejectedOnceShipped(t *testing.T) {
	for i, status := range []deliverydomain.Status{
		deliverydomain.StatusShipped,
		deliverydomain.StatusDelivered,
		deliverydomain.StatusConfirmed,
	} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, nil)
			id := int64(i + 1)
			testutil.Delivery(t, f.db, id, 10, 100, day, "18:00", string(status), day)
			ref := snowflake.ID(id).String()

			for _, raw := range []string{"19:00", "05:00"} {
				_, err := f.svc.UpdatePreferences(ctx, deliverydomain.UpdatePreferencesRequest{DeliveryID: ref, DeliveryTime: strPtr(raw)})
				require.ErrorIs(t, err, deliverydomain.ErrInvalidState, raw)
				assert.NotErrorIs(t, err, deliverydomain.ErrValidation, raw)
				var stateErr *deliverydomain.StateError
				require.True(t, errors.As(err, &stateErr))
				assert.Equal(t, status, stateErr.Current)
			}

			_, err := f.svc.UpdatePreferences(ctx, deliverydomain.UpdatePreferencesRequest{DeliveryID: ref, Address: strPtr("   ")})
			assert.ErrorIs(t, err, deliverydomain.ErrInvalidState)
			f.sink.AssertNotCalled(t, "RecordEvent", mock.Anything, mock.Anything)
		})
	}
}

func TestUpdatePreferencesUnknownDelivery(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.UpdatePreferences(ctx, deliverydomain.UpdatePreferencesRequest{DeliveryID: "999", DeliveryTime: strPtr("19:00")})
	assert.ErrorIs(t, err, deliverydomain.ErrNotFound)

	_, err = f.svc.UpdatePreferences(ctx, deliverydomain.UpdatePreferencesRequest{DeliveryID: "999", DeliveryTime: strPtr("05:00")})
	assert.ErrorIs(t, err, deliverydomain.ErrNotFound)
	assert.NotErrorIs(t, err, deliverydomain.ErrValidation)
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "09:00", "DELIVERED", day)
	f.sink.On("RecordEvent", mock.Anything, eventOfKind(auditdomain.ActionDeliveryConfirmed)).Once()

	now := f.clock.Now()
	view, err := f.svc.Confirm(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusConfirmed, view.Status)
	require.NotNil(t, view.ConfirmedAt)
	assert.True(t, view.ConfirmedAt.Equal(now))

	repo := deliveryrepository.Provide()
	stored, err := repo.FindByID(ctx, f.db, 1, false)
	require.NoError(t, err)
	require.NotNil(t, stored)

	f.clock.Advance(time.Hour)
	again, err := f.svc.Confirm(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, view, again)
	assert.True(t, again.ConfirmedAt.Equal(now))

	after, err := repo.FindByID(ctx, f.db, 1, false)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, stored.Version, after.Version)
	assert.True(t, after.StatusUpdatedAt.Equal(stored.StatusUpdatedAt))
	f.sink.AssertExpectations(t)
}

func TestConfirmRequiresDelivered(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "09:00", "PREPARING", day)

	_, err := f.svc.Confirm(ctx, "1")
	require.ErrorIs(t, err, deliverydomain.ErrInvalidState)
	assert.Contains(t, err.Error(), "currently being prepared")

	_, err = f.svc.Confirm(ctx, "not-a-number")
	assert.ErrorIs(t, err, deliverydomain.ErrValidation)
}

func TestAdminOverrideKeepsConfirmedAt(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "09:00", "DELIVERED", day)
	f.sink.On("RecordEvent", mock.Anything, mock.Anything)

	confirmed, err := f.svc.Confirm(ctx, "1")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	view, err := f.svc.AdminOverride(ctx, deliverydomain.AdminOverrideRequest{DeliveryID: "1", Status: "preparing", ActorID: "ops-7"})
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusPreparing, view.Status)
	require.NotNil(t, view.ConfirmedAt)
	assert.True(t, view.ConfirmedAt.Equal(*confirmed.ConfirmedAt))
	assert.True(t, view.StatusUpdatedAt.Equal(f.clock.Now()))

	event := f.sink.Calls[1].Arguments.Get(1).(auditdomain.Event)
	assert.Equal(t, auditdomain.ActionDeliveryAdminOverride, event.Kind)
	assert.Equal(t, auditdomain.ActorTypeAdmin, event.ActorType)
	assert.Equal(t, "ops-7", event.ActorID)
	assert.Equal(t, "CONFIRMED", event.Detail["old_status"])
	assert.Equal(t, "PREPARING", event.Detail["new_status"])
	assert.Equal(t, "Admin manually updated delivery #1 status from CONFIRMED to PREPARING", event.Detail["description"])
}

func TestAdminOverrideRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "09:00", "DELIVERED", day)

	_, err := f.svc.AdminOverride(ctx, deliverydomain.AdminOverrideRequest{DeliveryID: "1", Status: "LOST"})
	require.ErrorIs(t, err, deliverydomain.ErrValidation)
	assert.Equal(t, "Invalid status: LOST", err.Error())
}

// conflictRepo fails the first n status updates with a version conflict.
type conflictRepo struct {
	deliverydomain.Repository
	failures int
	calls    int
}

func (r *conflictRepo) UpdateStatus(ctx context.Context, db *gorm.DB, update deliverydomain.StatusUpdate) error {
	r.calls++
	if r.calls <= r.failures {
		return deliverydomain.ErrConcurrentUpdate
	}
	return r.Repository.UpdateStatus(ctx, db, update)
}

func TestMutationsRetryVersionConflicts(t *testing.T) {
	repo := &conflictRepo{Repository: deliveryrepository.Provide(), failures: 2}
	f := newFixture(t, repo)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "09:00", "DELIVERED", day)
	f.sink.On("RecordEvent", mock.Anything, mock.Anything)

	view, err := f.svc.Confirm(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusConfirmed, view.Status)
	assert.Equal(t, 3, repo.calls)
}

func TestMutationsGiveUpAfterMaxTries(t *testing.T) {
	repo := &conflictRepo{Repository: deliveryrepository.Provide(), failures: 100}
	f := newFixture(t, repo)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "09:00", "DELIVERED", day)

	_, err := f.svc.AdminOverride(ctx, deliverydomain.AdminOverrideRequest{DeliveryID: "1", Status: "SHIPPED"})
	require.ErrorIs(t, err, deliverydomain.ErrConcurrentUpdate)
	assert.Equal(t, maxMutationTries, repo.calls)
	f.sink.AssertNotCalled(t, "RecordEvent", mock.Anything, mock.Anything)
}

func TestGetCurrentUsesClockDate(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "18:00", "PREPARING", day)

	view, err := f.svc.GetCurrent(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "1", view.ID)
	assert.Equal(t, "2024-03-05", view.DeliveryDate)

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.GetCurrent(ctx, "100")
	require.ErrorIs(t, err, deliverydomain.ErrNotFound)
	assert.Contains(t, err.Error(), "No active delivery found for today")
}

func TestGetCurrentPicksEarliestAcrossSubscriptions(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Subscription(t, f.db, 11, 100, 200, "12:00", "ACTIVE")
	testutil.Delivery(t, f.db, 7, 11, 100, day, "12:00", "PREPARING", day)
	testutil.Delivery(t, f.db, 3, 10, 100, day, "18:00", "PREPARING", day)

	view, err := f.svc.GetCurrent(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "3", view.ID)

	history, err := f.svc.GetHistory(ctx, deliverydomain.HistoryRequest{UserID: "100"})
	require.NoError(t, err)
	assert.Len(t, history.Deliveries, 2)
}

func TestGetHistoryPagesByDateDescending(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day.AddDate(0, 0, -2), "18:00", "CONFIRMED", day)
	testutil.Delivery(t, f.db, 2, 10, 100, day.AddDate(0, 0, -1), "18:00", "DELIVERED", day)
	testutil.Delivery(t, f.db, 3, 10, 100, day, "18:00", "PREPARING", day)

	req := deliverydomain.HistoryRequest{UserID: "100"}
	req.PageSize = 2
	first, err := f.svc.GetHistory(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Deliveries, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "3", first.Deliveries[0].ID)
	assert.Equal(t, 2, first.Deliveries[0].MealCount)
	assert.Equal(t, "2", first.Deliveries[1].ID)
	assert.Equal(t, 0, first.Deliveries[1].MealCount)

	req.PageToken = first.NextPageToken
	second, err := f.svc.GetHistory(ctx, req)
	require.NoError(t, err)
	require.Len(t, second.Deliveries, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "1", second.Deliveries[0].ID)
	assert.True(t, second.Deliveries[0].Confirmed)

	start, end := day, day.AddDate(0, 0, -1)
	_, err = f.svc.GetHistory(ctx, deliverydomain.HistoryRequest{UserID: "100", StartDate: &start, EndDate: &end})
	assert.ErrorIs(t, err, deliverydomain.ErrValidation)

	_, err = f.svc.GetHistory(ctx, deliverydomain.HistoryRequest{UserID: "100", Status: "LOST"})
	assert.ErrorIs(t, err, deliverydomain.ErrValidation)

	filtered, err := f.svc.GetHistory(ctx, deliverydomain.HistoryRequest{UserID: "100", Status: "delivered"})
	require.NoError(t, err)
	require.Len(t, filtered.Deliveries, 1)
	assert.Equal(t, "2", filtered.Deliveries[0].ID)
}

func TestListForAdminIncludesSubscriber(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Delivery(t, f.db, 1, 10, 100, day, "18:00", "PREPARING", day)

	resp, err := f.svc.ListForAdmin(ctx, deliverydomain.AdminListRequest{UserEmail: "ANA@"})
	require.NoError(t, err)
	require.Len(t, resp.Deliveries, 1)
	item := resp.Deliveries[0]
	assert.Equal(t, "ana@example.com", item.UserEmail)
	assert.Equal(t, "Ana Diaz", item.UserName)
	assert.Equal(t, "Family", item.PlanName)
	assert.Equal(t, "10", item.SubscriptionID)
	assert.Len(t, item.Meals, 2)
}

func TestGetStatusHistoryIncludesOverrides(t *testing.T) {
	db := testutil.OpenDB(t)
	clk := clock.NewFakeClock(day.Add(10 * time.Hour))
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
	svc, err := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Clock:       clk,
		Repo:        deliveryrepository.Provide(),
		Config:      config.Config{Delivery: config.DeliveryConfig{Timezone: "UTC"}},
		Audit:       audit,
		AuditReader: audit,
	})
	require.NoError(t, err)

	testutil.Delivery(t, db, 1, 10, 100, day, "09:00", "DELIVERED", day)
	_, err = svc.AdminOverride(ctx, deliverydomain.AdminOverrideRequest{DeliveryID: "1", Status: "SHIPPED", ActorID: "ops-7"})
	require.NoError(t, err)

	events, err := svc.GetStatusHistory(ctx, "1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, deliverydomain.StatusPreparing, events[0].Status)
	assert.Equal(t, "System", events[0].ChangedBy)
	assert.Equal(t, deliverydomain.StatusShipped, events[1].Status)
	assert.Equal(t, "Admin ops-7", events[1].ChangedBy)
	assert.Equal(t, "Admin manually updated delivery #1 status from DELIVERED to SHIPPED", events[1].Note)
	assert.Equal(t, deliverydomain.StatusShipped, events[2].Status)

	_, err = svc.GetStatusHistory(ctx, "2")
	assert.ErrorIs(t, err, deliverydomain.ErrNotFound)
}
