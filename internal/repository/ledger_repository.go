package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
)

// LedgerRepository — журнал действий в Postgres: только append, единственная
// мутация — переход status active -> superseded внутри того же append.
type LedgerRepository interface {
	// Append вставляет действие, если наблюдаемый вызывающим максимум
	// sequence_no в области (course, assignment) всё ещё равен observedSeq.
	// Иначе возвращает ошибку вида conflict, и вызывающий обязан
	// перечитать проекцию.
	Append(ctx context.Context, action *models.Action, observedSeq int64) (*models.Action, error)
	// History возвращает действия области в порядке sequence_no.
	// Пустой userID означает "все пользователи".
	History(ctx context.Context, courseID, assignmentID, userID string) ([]models.Action, error)
	// ListAssignments возвращает идентификаторы заданий, по которым в курсе
	// есть хотя бы одна запись.
	ListAssignments(ctx context.Context, courseID string) ([]string, error)
	// ReferencedChecksums возвращает все контрольные суммы, на которые
	// ссылается хотя бы одно действие. Используется сборщиком мусора.
	ReferencedChecksums(ctx context.Context) (map[string]struct{}, error)
}

type ledgerRepository struct {
	*PostgresRepository
}

func NewLedgerRepository(db *sql.DB, logger zerolog.Logger) LedgerRepository {
	return &ledgerRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *ledgerRepository) Append(ctx context.Context, action *models.Action, observedSeq int64) (*models.Action, error) {
	notebookSet, err := json.Marshal(action.NotebookSet)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notebook set: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Сериализуем append'ы в пределах одной области, чтобы оптимистическая
	// проверка ниже была атомарной относительно конкурентных вставок.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`,
		action.CourseID, action.AssignmentID,
	); err != nil {
		return nil, fmt.Errorf("failed to lock ledger scope: %w", err)
	}

	insertQuery := `
		INSERT INTO actions (course_id, assignment_id, user_id, kind, artifact_checksum, notebook_set, status)
		SELECT $1, $2, $3, $4, $5, $6, 'active'
		WHERE (
			SELECT COALESCE(MAX(sequence_no), 0)
			FROM actions
			WHERE course_id = $1 AND assignment_id = $2
		) = $7
		RETURNING sequence_no, created_at
	`

	appended := *action
	appended.Status = models.ActionStatusActive

	err = tx.QueryRowContext(ctx, insertQuery,
		action.CourseID,
		action.AssignmentID,
		action.UserID,
		action.Kind.String(),
		action.ArtifactChecksum,
		notebookSet,
		observedSeq,
	).Scan(&appended.SequenceNo, &appended.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, models.Conflict(
			models.Scope(action.CourseID, action.AssignmentID, action.UserID),
			"ledger advanced past observed sequence",
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append action: %w", err)
	}

	// Вытесняющие виды переводят предыдущую активную запись в superseded:
	// release — в пределах задания, submit и release_feedback — в пределах
	// задания и студента.
	if action.Kind.Mutating() {
		supersedeQuery := `
			UPDATE actions
			SET status = 'superseded'
			WHERE course_id = $1 AND assignment_id = $2 AND kind = $3
			  AND status = 'active' AND sequence_no < $4
		`
		args := []interface{}{action.CourseID, action.AssignmentID, action.Kind.String(), appended.SequenceNo}

		if action.Kind != models.ActionRelease {
			supersedeQuery += ` AND user_id = $5`
			args = append(args, action.UserID)
		}

		if _, err := tx.ExecContext(ctx, supersedeQuery, args...); err != nil {
			return nil, fmt.Errorf("failed to supersede prior actions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}

	r.logger.Debug().
		Int64("sequence_no", appended.SequenceNo).
		Str("course_id", action.CourseID).
		Str("assignment_id", action.AssignmentID).
		Str("user_id", action.UserID).
		Str("kind", action.Kind.String()).
		Msg("Action appended to ledger")

	return &appended, nil
}

func (r *ledgerRepository) History(ctx context.Context, courseID, assignmentID, userID string) ([]models.Action, error) {
	query := `
		SELECT sequence_no, course_id, assignment_id, user_id, kind, artifact_checksum, notebook_set, status, created_at
		FROM actions
		WHERE course_id = $1 AND assignment_id = $2
	`
	args := []interface{}{courseID, assignmentID}

	if userID != "" {
		query += ` AND user_id = $3`
		args = append(args, userID)
	}
	query += ` ORDER BY sequence_no ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
	}

	return actions, rows.Err()
}

func (r *ledgerRepository) ListAssignments(ctx context.Context, courseID string) ([]string, error) {
	query := `
		SELECT DISTINCT assignment_id
		FROM actions
		WHERE course_id = $1
		ORDER BY assignment_id
	`

	rows, err := r.db.QueryContext(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		assignments = append(assignments, id)
	}

	return assignments, rows.Err()
}

func (r *ledgerRepository) ReferencedChecksums(ctx context.Context) (map[string]struct{}, error) {
	query := `SELECT DISTINCT artifact_checksum FROM actions WHERE artifact_checksum <> ''`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query referenced checksums: %w", err)
	}
	defer rows.Close()

	referenced := make(map[string]struct{})
	for rows.Next() {
		var checksum string
		if err := rows.Scan(&checksum); err != nil {
			return nil, err
		}
		referenced[checksum] = struct{}{}
	}

	return referenced, rows.Err()
}

func scanAction(rows *sql.Rows) (*models.Action, error) {
	var action models.Action
	var kind, status string
	var notebookSet []byte

	if err := rows.Scan(
		&action.SequenceNo,
		&action.CourseID,
		&action.AssignmentID,
		&action.UserID,
		&kind,
		&action.ArtifactChecksum,
		&notebookSet,
		&status,
		&action.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}

	action.Kind = models.ActionKind(kind)
	action.Status = models.ActionStatus(status)

	if len(notebookSet) > 0 {
		if err := json.Unmarshal(notebookSet, &action.NotebookSet); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notebook set: %w", err)
		}
	}

	return &action, nil
}
