package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/mealdelivery/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_logs (id, actor_type, actor_id, action, target_type, target_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorType, entry.ActorID, entry.Action,
		entry.TargetType, entry.TargetID, entry.Metadata, entry.CreatedAt,
	).Error
}

// List returns the entries of one target ordered by write time. Ids break
// ties because several events can share a timestamp.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	var (
		clauses = []string{"target_type = ?", "target_id = ?"}
		args    = []any{filter.TargetType, filter.TargetID}
	)
	if len(filter.Actions) > 0 {
		clauses = append(clauses, "action IN ?")
		args = append(args, filter.Actions)
	}

	query := `SELECT id, actor_type, actor_id, action, target_type, target_id, metadata, created_at
		FROM audit_logs
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY created_at ASC, id ASC`

	var logs []domain.AuditLog
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
