package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	// ErrAttemptLive is returned when the student already holds an IN_PROGRESS attempt.
	ErrAttemptLive = errors.New("student already has a live attempt for this exam")
	// ErrAttemptSealed is returned when finalizing an attempt that is no longer IN_PROGRESS.
	ErrAttemptSealed = errors.New("attempt is no longer in progress")
)

// Finalization is the sealed outcome written when an attempt is submitted.
type Finalization struct {
	Status           model.AttemptStatus
	SubmittedAt      time.Time
	TimeSpentSeconds int
	ViolationCount   int
	Forced           bool
	EndReason        string
	Score            float64
	TotalMarks       float64
	Percentage       float64
	Passed           bool
}

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, student_name, status, started_at, submitted_at,
	time_spent_seconds, violation_count, forced, end_reason, score, total_marks, percentage, passed`

func scanAttempt(row pgx.Row, a *model.Attempt) error {
	return row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StudentName, &a.Status, &a.StartedAt,
		&a.SubmittedAt, &a.TimeSpentSeconds, &a.ViolationCount, &a.Forced, &a.EndReason,
		&a.Score, &a.TotalMarks, &a.Percentage, &a.Passed)
}

// Start abandons any IN_PROGRESS attempt of the student for the exam and
// creates a fresh one, in one transaction. Returns the abandoned attempt ids.
func (r *AttemptRepository) Start(ctx context.Context, a *model.Attempt) ([]uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE exam_attempts SET status = $1
		 WHERE exam_id = $2 AND student_id = $3 AND status = $4
		 RETURNING id`,
		model.AttemptStatusAbandoned, a.ExamID, a.StudentID, model.AttemptStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("abandon attempts: %w", err)
	}
	abandoned, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("abandon attempts: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, student_name, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, started_at`,
		a.ExamID, a.StudentID, a.StudentName, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAttemptLive
		}
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	a.Status = model.AttemptStatusInProgress

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return abandoned, nil
}

// CountFinished returns how many sealed attempts the student has for the exam.
func (r *AttemptRepository) CountFinished(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status IN ($3, $4)`,
		examID, studentID, model.AttemptStatusSubmitted, model.AttemptStatusDisqualified,
	).Scan(&n)
	return n, err
}

// GetByID retrieves an attempt without its answers or violations.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	row := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id)
	if err := scanAttempt(row, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListByExam lists the attempts of an exam, newest first.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID, status string, limit, offset int) ([]model.Attempt, int, error) {
	where := ` WHERE exam_id = $1`
	args := []interface{}{examID}
	if status != "" {
		args = append(args, status)
		where += ` AND status = $2`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exam_attempts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	argIdx := len(args) + 1
	query := `SELECT ` + attemptColumns + ` FROM exam_attempts` + where +
		` ORDER BY started_at DESC LIMIT $` + strconv.Itoa(argIdx) + ` OFFSET $` + strconv.Itoa(argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, 0, err
		}
		attempts = append(attempts, a)
	}
	return attempts, total, rows.Err()
}

// ListAnswers returns the persisted answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, value, flagged FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.Value, &a.Flagged); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// ListViolations returns the violation log of an attempt in occurrence order.
func (r *AttemptRepository) ListViolations(ctx context.Context, attemptID uuid.UUID) ([]model.Violation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT violation_type, details, occurred_at FROM attempt_violations
		 WHERE attempt_id = $1 ORDER BY occurred_at`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	violations := []model.Violation{}
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.Type, &v.Details, &v.Timestamp); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// Finalize writes the submitted answers and seals the attempt in one
// transaction. Returns ErrAttemptSealed when the attempt already left
// IN_PROGRESS.
func (r *AttemptRepository) Finalize(ctx context.Context, attemptID uuid.UUID, answers []model.Answer, f Finalization) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status model.AttemptStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM exam_attempts WHERE id = $1 FOR UPDATE`, attemptID,
	).Scan(&status)
	if err != nil {
		return fmt.Errorf("lock attempt: %w", err)
	}
	if status != model.AttemptStatusInProgress {
		return ErrAttemptSealed
	}

	if len(answers) > 0 {
		batch := &pgx.Batch{}
		for _, a := range answers {
			batch.Queue(
				`INSERT INTO attempt_answers (attempt_id, question_id, value, flagged)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (attempt_id, question_id) DO UPDATE
				 SET value = EXCLUDED.value, flagged = EXCLUDED.flagged, updated_at = NOW()`,
				attemptID, a.QuestionID, a.Value, a.Flagged,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert answers: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, submitted_at = $2, time_spent_seconds = $3, violation_count = $4,
		     forced = $5, end_reason = $6, score = $7, total_marks = $8, percentage = $9, passed = $10
		 WHERE id = $11`,
		f.Status, f.SubmittedAt, f.TimeSpentSeconds, f.ViolationCount,
		f.Forced, f.EndReason, f.Score, f.TotalMarks, f.Percentage, f.Passed, attemptID)
	if err != nil {
		return fmt.Errorf("seal attempt: %w", err)
	}

	return tx.Commit(ctx)
}
