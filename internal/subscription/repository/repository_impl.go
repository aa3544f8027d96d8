package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/mealdelivery/internal/subscription/domain"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
	"gorm.io/gorm"
)

const subscriptionSelect = `SELECT s.id, s.user_id, s.plan_id, s.preferred_time, s.start_date, s.status, s.created_at,
	 u.id AS owner_id, COALESCE(u.email, '') AS user_email, u.address AS user_address,
	 COALESCE(p.name, '') AS plan_name
	 FROM subscriptions s
	 LEFT JOIN users u ON u.id = s.user_id
	 LEFT JOIN plans p ON p.id = s.plan_id`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

type subscriptionRow struct {
	ID            snowflake.ID
	UserID        snowflake.ID
	PlanID        sql.NullInt64
	PreferredTime timeofday.Null
	StartDate     time.Time
	Status        string
	CreatedAt     time.Time
	OwnerID       sql.NullInt64
	UserEmail     string
	UserAddress   sql.NullString
	PlanName      string
}

func (r subscriptionRow) toDomain() subscriptiondomain.Subscription {
	sub := subscriptiondomain.Subscription{
		ID:            r.ID,
		UserID:        r.UserID,
		PreferredTime: r.PreferredTime.Ptr(),
		StartDate:     r.StartDate.UTC(),
		Status:        subscriptiondomain.SubscriptionStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		OwnerFound:    r.OwnerID.Valid,
		UserEmail:     r.UserEmail,
		PlanName:      r.PlanName,
	}
	if r.PlanID.Valid {
		planID := snowflake.ID(r.PlanID.Int64)
		sub.PlanID = &planID
	}
	if r.UserAddress.Valid {
		address := r.UserAddress.String
		sub.UserAddress = &address
	}
	return sub
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var rows []subscriptionRow
	err := db.WithContext(ctx).Raw(
		subscriptionSelect+`
		 WHERE s.status = ? AND s.id > ?
		 ORDER BY s.id ASC
		 LIMIT ?`,
		string(subscriptiondomain.SubscriptionStatusActive),
		afterID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	subs := make([]subscriptiondomain.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.toDomain())
	}
	return subs, nil
}

func (r *repo) ListScheduledMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date time.Time) ([]subscriptiondomain.ScheduledMeal, error) {
	var meals []subscriptiondomain.ScheduledMeal
	err := db.WithContext(ctx).Raw(
		`SELECT sm.id, sm.subscription_id, sm.meal_id, m.name AS meal_name, sm.scheduled_date, sm.position
		 FROM scheduled_meals sm
		 JOIN meals m ON m.id = sm.meal_id
		 WHERE sm.subscription_id = ? AND sm.scheduled_date = ?
		 ORDER BY sm.position ASC, sm.id ASC`,
		subscriptionID,
		date,
	).Scan(&meals).Error
	if err != nil {
		return nil, err
	}
	return meals, nil
}

func (r *repo) GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var rows []subscriptionRow
	err := db.WithContext(ctx).Raw(subscriptionSelect+` WHERE s.id = ?`, id).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	sub := rows[0].toDomain()
	return &sub, nil
}
