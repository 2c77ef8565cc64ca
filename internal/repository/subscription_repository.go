package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
)

type SubscriptionRepository interface {
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	EnsureCourse(ctx context.Context, id string) error
	DeactivateCourse(ctx context.Context, id string) error
	Get(ctx context.Context, courseID, userID string) (*models.Subscription, error)
	Upsert(ctx context.Context, sub *models.Subscription) error
	Deactivate(ctx context.Context, courseID, userID string) error
	ListMembers(ctx context.Context, courseID string) ([]models.Subscription, error)
}

type subscriptionRepository struct {
	*PostgresRepository
}

func NewSubscriptionRepository(db *sql.DB, logger zerolog.Logger) SubscriptionRepository {
	return &subscriptionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *subscriptionRepository) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT id, active, created_at, updated_at FROM courses WHERE id = $1`

	course := &models.Course{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&course.ID,
		&course.Active,
		&course.CreatedAt,
		&course.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	return course, nil
}

func (r *subscriptionRepository) EnsureCourse(ctx context.Context, id string) error {
	query := `
		INSERT INTO courses (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to ensure course: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) DeactivateCourse(ctx context.Context, id string) error {
	query := `UPDATE courses SET active = FALSE, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to deactivate course: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, courseID, userID string) (*models.Subscription, error) {
	query := `
		SELECT course_id, user_id, role, active, created_at, updated_at
		FROM subscriptions
		WHERE course_id = $1 AND user_id = $2
	`

	sub := &models.Subscription{}
	var role string
	err := r.db.QueryRowContext(ctx, query, courseID, userID).Scan(
		&sub.CourseID,
		&sub.UserID,
		&role,
		&sub.Active,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.Role = models.Role(role)
	return sub, nil
}

func (r *subscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (course_id, user_id, role, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (course_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, active = EXCLUDED.active, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query,
		sub.CourseID, sub.UserID, sub.Role.String(), sub.Active,
	); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Deactivate(ctx context.Context, courseID, userID string) error {
	query := `
		UPDATE subscriptions
		SET active = FALSE, updated_at = NOW()
		WHERE course_id = $1 AND user_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, courseID, userID); err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) ListMembers(ctx context.Context, courseID string) ([]models.Subscription, error) {
	query := `
		SELECT course_id, user_id, role, active, created_at, updated_at
		FROM subscriptions
		WHERE course_id = $1 AND active = TRUE
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var role string
		if err := rows.Scan(&sub.CourseID, &sub.UserID, &role, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		sub.Role = models.Role(role)
		members = append(members, sub)
	}

	return members, rows.Err()
}
