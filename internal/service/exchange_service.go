package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/internal/repository"
	"github.com/jgwerner/nbexchange/internal/service/integration"
)

// ArtifactStore — то, что координатору нужно от хранилища артефактов.
type ArtifactStore interface {
	Put(ctx context.Context, checksum string, data []byte) (bool, error)
	Get(ctx context.Context, checksum string) ([]byte, error)
}

// ExchangeService — координатор обмена: проверяет легальность действия по
// роли и текущей проекции журнала, пишет артефакт в хранилище и добавляет
// одну запись в журнал. Вся логика авторизации и проекции — чистые
// вычисления; блокировка возможна только на append и на I/O хранилища.
type ExchangeService interface {
	Handle(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error)

	Release(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error)
	Fetch(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error)
	Submit(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error)
	Collect(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error)
	ReleaseFeedback(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error)
	FetchFeedback(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error)

	ListAssignments(ctx context.Context, courseID, viewerID string, viewerRole models.Role) ([]models.AssignmentSummary, error)
	History(ctx context.Context, courseID, assignmentID, viewerID string, viewerRole models.Role) ([]models.Action, error)
}

type ExchangeConfig struct {
	MaxAppendRetries int
}

type exchangeService struct {
	ledger    repository.LedgerRepository
	store     ArtifactStore
	checksums ChecksumService
	directory DirectoryService
	publisher integration.EventPublisher
	logger    zerolog.Logger
	config    ExchangeConfig
}

func NewExchangeService(
	ledger repository.LedgerRepository,
	store ArtifactStore,
	checksums ChecksumService,
	directory DirectoryService,
	publisher integration.EventPublisher,
	logger zerolog.Logger,
	config ExchangeConfig,
) ExchangeService {
	if config.MaxAppendRetries <= 0 {
		config.MaxAppendRetries = 3
	}
	return &exchangeService{
		ledger:    ledger,
		store:     store,
		checksums: checksums,
		directory: directory,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

func (s *exchangeService) Handle(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
	switch models.ActionKind(req.Action) {
	case models.ActionRelease:
		return s.Release(ctx, req)
	case models.ActionFetch:
		return s.Fetch(ctx, req)
	case models.ActionSubmit:
		return s.Submit(ctx, req)
	case models.ActionCollect:
		return s.Collect(ctx, req)
	case models.ActionReleaseFeedback:
		return s.ReleaseFeedback(ctx, req)
	case models.ActionFetchFeedback:
		return s.FetchFeedback(ctx, req)
	default:
		return nil, models.Invalid(models.Scope(req.CourseID, req.AssignmentID, req.UserID),
			fmt.Sprintf("unknown action %q", req.Action), nil)
	}
}

// authorize проверяет поля запроса, синхронизирует identity в справочник и
// убеждается, что предъявленная роль совпадает с требуемой.
func (s *exchangeService) authorize(ctx context.Context, req *models.ExchangeRequest, required models.Role) error {
	sc := models.Scope(req.CourseID, req.AssignmentID, req.UserID)

	if req.CourseID == "" || req.AssignmentID == "" || req.UserID == "" {
		return models.Invalid(sc, "course_id, assignment_id and user_id are required", nil)
	}
	if !models.IsValidRole(req.Role) {
		return models.Invalid(sc, fmt.Sprintf("unknown role %q", req.Role), nil)
	}

	role := models.Role(req.Role)
	if role != required {
		return models.Forbidden(sc, fmt.Sprintf("action requires role %s", required))
	}

	course, err := s.directory.GetCourse(ctx, req.CourseID)
	if err != nil {
		return err
	}

	// Курс создаётся лениво только действием преподавателя
	if course == nil && required != models.RoleInstructor {
		return models.NotFound(sc, "course not found")
	}
	if course != nil && !course.Active {
		return models.Forbidden(sc, "course is deactivated")
	}

	return s.directory.SyncIdentity(ctx, req.CourseID, req.UserID, role)
}

// appendWithRetry перечитывает проекцию, применяет guard и пытается
// append; проигранная оптимистическая гонка повторяется ограниченное
// число раз, после чего conflict отдаётся вызывающему.
func (s *exchangeService) appendWithRetry(
	ctx context.Context,
	action *models.Action,
	guard func(state *models.AssignmentState) error,
) (*models.Action, *models.AssignmentState, error) {
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxAppendRetries; attempt++ {
		history, err := s.ledger.History(ctx, action.CourseID, action.AssignmentID, "")
		if err != nil {
			return nil, nil, err
		}
		state := Project(action.CourseID, action.AssignmentID, history)

		if guard != nil {
			if err := guard(state); err != nil {
				return nil, nil, err
			}
		}

		appended, err := s.ledger.Append(ctx, action, state.ObservedSeq)
		if err == nil {
			s.publishEvent(ctx, appended)
			return appended, state, nil
		}
		if !models.IsKind(err, models.ErrKindConflict) {
			return nil, nil, err
		}

		lastErr = err
		s.logger.Warn().
			Str("course_id", action.CourseID).
			Str("assignment_id", action.AssignmentID).
			Str("kind", action.Kind.String()).
			Int("attempt", attempt+1).
			Msg("Ledger append lost optimistic race, re-projecting")
	}

	return nil, nil, lastErr
}

func (s *exchangeService) publishEvent(ctx context.Context, action *models.Action) {
	if s.publisher == nil {
		return
	}
	// Публикация событий — best effort: журнал уже зафиксировал действие
	if err := s.publisher.PublishAction(ctx, action); err != nil {
		s.logger.Error().Err(err).
			Int64("sequence_no", action.SequenceNo).
			Msg("Failed to publish action event")
	}
}

// storePayload канонизирует архив из запроса и кладёт его в хранилище.
func (s *exchangeService) storePayload(ctx context.Context, req *models.ExchangeRequest) (string, []models.NotebookRef, bool, error) {
	sc := models.Scope(req.CourseID, req.AssignmentID, req.UserID)

	if len(req.Payload) == 0 {
		return "", nil, false, models.Invalid(sc, "payload is required", nil)
	}

	archive, checksum, refs, err := s.checksums.Canonicalize(req.Payload)
	if err != nil {
		return "", nil, false, models.Invalid(sc, "malformed notebook bundle", err)
	}

	written, err := s.store.Put(ctx, checksum, archive)
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to store artifact: %w", err)
	}

	return checksum, refs, !written, nil
}

func (s *exchangeService) Release(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
	if err := s.authorize(ctx, req, models.RoleInstructor); err != nil {
		return nil, err
	}

	checksum, refs, deduplicated, err := s.storePayload(ctx, req)
	if err != nil {
		return nil, err
	}

	action := &models.Action{
		CourseID:         req.CourseID,
		AssignmentID:     req.AssignmentID,
		UserID:           req.UserID,
		Kind:             models.ActionRelease,
		ArtifactChecksum: checksum,
		NotebookSet:      refs,
	}

	appended, _, err := s.appendWithRetry(ctx, action, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("sequence_no", appended.SequenceNo).
		Str("course_id", req.CourseID).
		Str("assignment_id", req.AssignmentID).
		Str("user_id", req.UserID).
		Str("checksum", checksum).
		Bool("deduplicated", deduplicated).
		Msg("Assignment released")

	return &models.ExchangeResponse{
		SequenceNo:   appended.SequenceNo,
		Checksum:     checksum,
		NotebookSet:  refs,
		Deduplicated: deduplicated,
		RecordedAt:   appended.CreatedAt,
	}, nil
}

func (s *exchangeService) Fetch(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
	if err := s.authorize(ctx, req, models.RoleStudent); err != nil {
		return nil, err
	}
	sc := models.Scope(req.CourseID, req.AssignmentID, req.UserID)

	var artifact []byte
	var release models.Action

	guard := func(state *models.AssignmentState) error {
		if !state.Released() {
			return models.NotFound(sc, "assignment has no release")
		}
		release = *state.Release
		return nil
	}

	// Читаем артефакт до append: неудачное чтение не оставляет записи
	history, err := s.ledger.History(ctx, req.CourseID, req.AssignmentID, "")
	if err != nil {
		return nil, err
	}
	if err := guard(Project(req.CourseID, req.AssignmentID, history)); err != nil {
		return nil, err
	}

	artifact, err = s.store.Get(ctx, release.ArtifactChecksum)
	if err != nil {
		if err == repository.ErrArtifactNotFound {
			return nil, models.NotFound(sc, fmt.Sprintf("artifact %s missing from store", release.ArtifactChecksum))
		}
		return nil, err
	}

	action := &models.Action{
		CourseID:         req.CourseID,
		AssignmentID:     req.AssignmentID,
		UserID:           req.UserID,
		Kind:             models.ActionFetch,
		ArtifactChecksum: release.ArtifactChecksum,
		NotebookSet:      release.NotebookSet,
	}

	// Между чтением и append релиз мог смениться; guard внутри retry
	// перечитывает проекцию и переключает чтение на актуальный релиз.
	appended, _, err := s.appendWithRetry(ctx, action, func(state *models.AssignmentState) error {
		if err := guard(state); err != nil {
			return err
		}
		if release.ArtifactChecksum != action.ArtifactChecksum {
			fresh, err := s.store.Get(ctx, release.ArtifactChecksum)
			if err != nil {
				return err
			}
			artifact = fresh
			action.ArtifactChecksum = release.ArtifactChecksum
			action.NotebookSet = release.NotebookSet
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("sequence_no", appended.SequenceNo).
		Str("course_id", req.CourseID).
		Str("assignment_id", req.AssignmentID).
		Str("user_id", req.UserID).
		Str("checksum", action.ArtifactChecksum).
		Msg("Assignment fetched")

	return &models.ExchangeResponse{
		SequenceNo:  appended.SequenceNo,
		Checksum:    action.ArtifactChecksum,
		Artifact:    artifact,
		NotebookSet: action.NotebookSet,
		RecordedAt:  appended.CreatedAt,
	}, nil
}

func (s *exchangeService) Submit(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
	if err := s.authorize(ctx, req, models.RoleStudent); err != nil {
		return nil, err
	}
	sc := models.Scope(req.CourseID, req.AssignmentID, req.UserID)

	checksum, refs, deduplicated, err := s.storePayload(ctx, req)
	if err != nil {
		return nil, err
	}

	action := &models.Action{
		CourseID:         req.CourseID,
		AssignmentID:     req.AssignmentID,
		UserID:           req.UserID,
		Kind:             models.ActionSubmit,
		ArtifactChecksum: checksum,
		NotebookSet:      refs,
	}

	appended, _, err := s.appendWithRetry(ctx, action, func(state *models.AssignmentState) error {
		if !state.Released() {
			return models.NotFound(sc, "assignment has no release")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("sequence_no", appended.SequenceNo).
		Str("course_id", req.CourseID).
		Str("assignment_id", req.AssignmentID).
		Str("user_id", req.UserID).
		Str("checksum", checksum).
		Msg("Submission recorded")

	return &models.ExchangeResponse{
		SequenceNo:   appended.SequenceNo,
		Checksum:     checksum,
		NotebookSet:  refs,
		Deduplicated: deduplicated,
		RecordedAt:   appended.CreatedAt,
	}, nil
}

func (s *exchangeService) Collect(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
	if err := s.authorize(ctx, req, models.RoleInstructor); err != nil {
		return nil, err
	}
	sc := models.Scope(req.CourseID, req.AssignmentID, req.UserID)

	history, err := s.ledger.History(ctx, req.CourseID, req.AssignmentID, "")
	if err != nil {
		return nil, err
	}
	state := Project(req.CourseID, req.AssignmentID, history)

	if !state.Released() {
		return nil, models.NotFound(sc, "assignment has no release")
	}

	var targets []*models.Action
	if req.TargetUserID != "" {
		submission := state.ActiveSubmission(req.TargetUserID)
		if submission == nil {
			return nil, models.NotFound(models.Scope(req.CourseID, req.AssignmentID, req.TargetUserID),
				"no active submission for student")
		}
		targets = append(targets, submission)
	} else {
		for _, studentID := range sortedKeys(state.Submissions) {
			targets = append(targets, state.Submissions[studentID])
		}
	}

	collected := make([]models.CollectedSubmission, 0, len(targets))
	// Аудитная запись collect перечисляет собранные сдачи в notebook_set:
	// имя — студент, сумма — его артефакт.
	audit := make([]models.NotebookRef, 0, len(targets))

	for _, submission := range targets {
		artifact, err := s.store.Get(ctx, submission.ArtifactChecksum)
		if err != nil {
			if err == repository.ErrArtifactNotFound {
				return nil, models.NotFound(models.Scope(req.CourseID, req.AssignmentID, submission.UserID),
					fmt.Sprintf("artifact %s missing from store", submission.ArtifactChecksum))
			}
			return nil, err
		}

		collected = append(collected, models.CollectedSubmission{
			StudentID:   submission.UserID,
			SequenceNo:  submission.SequenceNo,
			Checksum:    submission.ArtifactChecksum,
			Artifact:    artifact,
			NotebookSet: submission.NotebookSet,
			SubmittedAt: submission.CreatedAt,
		})
		audit = append(audit, models.NotebookRef{
			Name:     submission.UserID,
			Checksum: submission.ArtifactChecksum,
		})
	}

	action := &models.Action{
		CourseID:     req.CourseID,
		AssignmentID: req.AssignmentID,
		UserID:       req.UserID,
		Kind:         models.ActionCollect,
		NotebookSet:  audit,
	}

	appended, _, err := s.appendWithRetry(ctx, action, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("sequence_no", appended.SequenceNo).
		Str("course_id", req.CourseID).
		Str("assignment_id", req.AssignmentID).
		Str("user_id", req.UserID).
		Int("collected", len(collected)).
		Msg("Submissions collected")

	return &models.ExchangeResponse{
		SequenceNo: appended.SequenceNo,
		Collected:  collected,
		RecordedAt: appended.CreatedAt,
	}, nil
}

func (s *exchangeService) ReleaseFeedback(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
	if err := s.authorize(ctx, req, models.RoleInstructor); err != nil {
		return nil, err
	}
	sc := models.Scope(req.CourseID, req.AssignmentID, req.UserID)

	if req.TargetUserID == "" {
		return nil, models.Invalid(sc, "target_user_id is required for release_feedback", nil)
	}

	checksum, refs, deduplicated, err := s.storePayload(ctx, req)
	if err != nil {
		return nil, err
	}

	// Запись отзыва хранится в области целевого студента: по user_id
	// сворачивается "последний активный отзыв на студента".
	action := &models.Action{
		CourseID:         req.CourseID,
		AssignmentID:     req.AssignmentID,
		UserID:           req.TargetUserID,
		Kind:             models.ActionReleaseFeedback,
		ArtifactChecksum: checksum,
		NotebookSet:      refs,
	}

	appended, _, err := s.appendWithRetry(ctx, action, func(state *models.AssignmentState) error {
		if !state.Released() {
			return models.NotFound(sc, "assignment has no release")
		}
		if state.ActiveSubmission(req.TargetUserID) == nil {
			return models.NotFound(models.Scope(req.CourseID, req.AssignmentID, req.TargetUserID),
				"no submission to attach feedback to")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("sequence_no", appended.SequenceNo).
		Str("course_id", req.CourseID).
		Str("assignment_id", req.AssignmentID).
		Str("instructor_id", req.UserID).
		Str("student_id", req.TargetUserID).
		Str("checksum", checksum).
		Msg("Feedback released")

	return &models.ExchangeResponse{
		SequenceNo:   appended.SequenceNo,
		Checksum:     checksum,
		NotebookSet:  refs,
		Deduplicated: deduplicated,
		RecordedAt:   appended.CreatedAt,
	}, nil
}

func (s *exchangeService) FetchFeedback(ctx context.Context, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
	if err := s.authorize(ctx, req, models.RoleStudent); err != nil {
		return nil, err
	}
	sc := models.Scope(req.CourseID, req.AssignmentID, req.UserID)

	history, err := s.ledger.History(ctx, req.CourseID, req.AssignmentID, "")
	if err != nil {
		return nil, err
	}
	state := Project(req.CourseID, req.AssignmentID, history)

	if !state.Released() {
		return nil, models.NotFound(sc, "assignment has no release")
	}

	feedback := state.ActiveFeedback(req.UserID)
	if feedback == nil {
		return nil, models.NotFound(sc, "no feedback released for student")
	}

	artifact, err := s.store.Get(ctx, feedback.ArtifactChecksum)
	if err != nil {
		if err == repository.ErrArtifactNotFound {
			return nil, models.NotFound(sc, fmt.Sprintf("artifact %s missing from store", feedback.ArtifactChecksum))
		}
		return nil, err
	}

	action := &models.Action{
		CourseID:         req.CourseID,
		AssignmentID:     req.AssignmentID,
		UserID:           req.UserID,
		Kind:             models.ActionFetchFeedback,
		ArtifactChecksum: feedback.ArtifactChecksum,
		NotebookSet:      feedback.NotebookSet,
	}

	appended, _, err := s.appendWithRetry(ctx, action, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("sequence_no", appended.SequenceNo).
		Str("course_id", req.CourseID).
		Str("assignment_id", req.AssignmentID).
		Str("user_id", req.UserID).
		Str("checksum", feedback.ArtifactChecksum).
		Msg("Feedback fetched")

	return &models.ExchangeResponse{
		SequenceNo:  appended.SequenceNo,
		Checksum:    feedback.ArtifactChecksum,
		Artifact:    artifact,
		NotebookSet: feedback.NotebookSet,
		RecordedAt:  appended.CreatedAt,
	}, nil
}

func (s *exchangeService) ListAssignments(ctx context.Context, courseID, viewerID string, viewerRole models.Role) ([]models.AssignmentSummary, error) {
	role, err := s.directory.RoleOf(ctx, courseID, viewerID)
	if err != nil {
		return nil, err
	}
	if role == "" || role != viewerRole {
		return nil, models.Forbidden(models.Scope(courseID, "", viewerID), "not subscribed to course")
	}

	assignments, err := s.ledger.ListAssignments(ctx, courseID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.AssignmentSummary, 0, len(assignments))
	for _, assignmentID := range assignments {
		history, err := s.ledger.History(ctx, courseID, assignmentID, "")
		if err != nil {
			return nil, err
		}
		state := Project(courseID, assignmentID, history)

		// Задания без активного релиза студентам не показываем
		if !state.Released() && viewerRole != models.RoleInstructor {
			continue
		}
		summaries = append(summaries, Summarize(state, viewerID, viewerRole))
	}

	return summaries, nil
}

func (s *exchangeService) History(ctx context.Context, courseID, assignmentID, viewerID string, viewerRole models.Role) ([]models.Action, error) {
	role, err := s.directory.RoleOf(ctx, courseID, viewerID)
	if err != nil {
		return nil, err
	}
	if role == "" || role != viewerRole {
		return nil, models.Forbidden(models.Scope(courseID, assignmentID, viewerID), "not subscribed to course")
	}

	// Студент видит только собственные записи
	filterUser := ""
	if viewerRole != models.RoleInstructor {
		filterUser = viewerID
	}

	return s.ledger.History(ctx, courseID, assignmentID, filterUser)
}
