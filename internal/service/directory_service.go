package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/internal/repository"
)

// DirectoryService — справочник курсов и подписок. Изменение подписки
// действует только на следующие запросы: уже принятые действия задним
// числом не отзываются.
type DirectoryService interface {
	// RoleOf возвращает активную роль пользователя в курсе либо пустую строку.
	RoleOf(ctx context.Context, courseID, userID string) (models.Role, error)
	// GetCourse возвращает курс либо nil, если он ещё не создан.
	GetCourse(ctx context.Context, courseID string) (*models.Course, error)
	Subscribe(ctx context.Context, courseID, userID string, role models.Role) error
	Unsubscribe(ctx context.Context, courseID, userID string) error
	ListMembers(ctx context.Context, courseID string) ([]models.Subscription, error)
	DeactivateCourse(ctx context.Context, courseID string) error
	// SyncIdentity фиксирует проверенную identity-провайдером пару
	// (пользователь, роль) в справочнике: курс и подписка создаются лениво
	// при первом появлении. Расхождение с уже записанной ролью — forbidden.
	SyncIdentity(ctx context.Context, courseID, userID string, role models.Role) error
}

type directoryService struct {
	subscriptionRepo repository.SubscriptionRepository
	logger           zerolog.Logger
}

func NewDirectoryService(subscriptionRepo repository.SubscriptionRepository, logger zerolog.Logger) DirectoryService {
	return &directoryService{
		subscriptionRepo: subscriptionRepo,
		logger:           logger,
	}
}

func (s *directoryService) RoleOf(ctx context.Context, courseID, userID string) (models.Role, error) {
	sub, err := s.subscriptionRepo.Get(ctx, courseID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub == nil || !sub.Active {
		return "", nil
	}
	return sub.Role, nil
}

func (s *directoryService) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	return s.subscriptionRepo.GetCourse(ctx, courseID)
}

func (s *directoryService) Subscribe(ctx context.Context, courseID, userID string, role models.Role) error {
	if !models.IsValidRole(role.String()) {
		return models.Invalid(models.Scope(courseID, "", userID),
			fmt.Sprintf("unknown role %q", role), nil)
	}

	if err := s.subscriptionRepo.EnsureCourse(ctx, courseID); err != nil {
		return err
	}

	existing, err := s.subscriptionRepo.Get(ctx, courseID, userID)
	if err != nil {
		return fmt.Errorf("failed to check existing subscription: %w", err)
	}

	// У пользователя не бывает двух ролей в одном курсе: смена роли
	// требует явной отписки.
	if existing != nil && existing.Active && existing.Role != role {
		return models.Conflict(models.Scope(courseID, "", userID),
			fmt.Sprintf("already subscribed as %s", existing.Role))
	}

	if err := s.subscriptionRepo.Upsert(ctx, &models.Subscription{
		CourseID: courseID,
		UserID:   userID,
		Role:     role,
		Active:   true,
	}); err != nil {
		return err
	}

	s.logger.Info().
		Str("course_id", courseID).
		Str("user_id", userID).
		Str("role", role.String()).
		Msg("User subscribed to course")

	return nil
}

func (s *directoryService) Unsubscribe(ctx context.Context, courseID, userID string) error {
	existing, err := s.subscriptionRepo.Get(ctx, courseID, userID)
	if err != nil {
		return fmt.Errorf("failed to check existing subscription: %w", err)
	}
	if existing == nil {
		return models.NotFound(models.Scope(courseID, "", userID), "subscription not found")
	}

	if err := s.subscriptionRepo.Deactivate(ctx, courseID, userID); err != nil {
		return err
	}

	s.logger.Info().
		Str("course_id", courseID).
		Str("user_id", userID).
		Msg("User unsubscribed from course")

	return nil
}

func (s *directoryService) ListMembers(ctx context.Context, courseID string) ([]models.Subscription, error) {
	course, err := s.subscriptionRepo.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, models.NotFound(models.Scope(courseID, "", ""), "course not found")
	}

	return s.subscriptionRepo.ListMembers(ctx, courseID)
}

func (s *directoryService) DeactivateCourse(ctx context.Context, courseID string) error {
	course, err := s.subscriptionRepo.GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course == nil {
		return models.NotFound(models.Scope(courseID, "", ""), "course not found")
	}

	return s.subscriptionRepo.DeactivateCourse(ctx, courseID)
}

func (s *directoryService) SyncIdentity(ctx context.Context, courseID, userID string, role models.Role) error {
	existing, err := s.subscriptionRepo.Get(ctx, courseID, userID)
	if err != nil {
		return fmt.Errorf("failed to sync identity: %w", err)
	}

	if existing != nil && existing.Active {
		if existing.Role != role {
			return models.Forbidden(models.Scope(courseID, "", userID),
				fmt.Sprintf("subscribed as %s, request presented role %s", existing.Role, role))
		}
		return nil
	}

	return s.Subscribe(ctx, courseID, userID, role)
}
