package repository

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, description, author_id, duration_minutes, total_marks, passing_marks,
	is_practice, password_hash, settings, status, created_at, updated_at`

func scanExam(row pgx.Row, e *model.Exam) error {
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.AuthorID, &e.DurationMinutes,
		&e.TotalMarks, &e.PassingMarks, &e.IsPractice, &e.PasswordHash, &e.Settings,
		&e.Status, &e.CreatedAt, &e.UpdatedAt)
	e.HasPassword = e.PasswordHash != ""
	return err
}

// GetByID retrieves an exam by its UUID, without questions.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	row := r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id)
	if err := scanExam(row, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListByAuthorPaginated retrieves exams filtered by author with pagination.
// Pass authorID=0 to list all exams.
func (r *ExamRepository) ListByAuthorPaginated(ctx context.Context, authorID, limit, offset int) ([]model.Exam, int, error) {
	where := ""
	var args []interface{}
	if authorID > 0 {
		where = ` WHERE author_id = $1`
		args = append(args, authorID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	argIdx := len(args) + 1
	query := `SELECT ` + examColumns + ` FROM exams` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argIdx) + ` OFFSET $` + strconv.Itoa(argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []model.Exam{}
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, author_id, duration_minutes, total_marks,
		                    passing_marks, is_practice, password_hash, settings, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.AuthorID, e.DurationMinutes, e.TotalMarks,
		e.PassingMarks, e.IsPractice, e.PasswordHash, e.Settings, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update writes every editable column of an exam.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET title = $1, description = $2, duration_minutes = $3, total_marks = $4,
		     passing_marks = $5, is_practice = $6, password_hash = $7, settings = $8,
		     updated_at = NOW()
		 WHERE id = $9
		 RETURNING updated_at`,
		e.Title, e.Description, e.DurationMinutes, e.TotalMarks,
		e.PassingMarks, e.IsPractice, e.PasswordHash, e.Settings, e.ID,
	).Scan(&e.UpdatedAt)
}

// UpdateStatus updates an exam's status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// ListPublished returns all exams with PUBLISHED status.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE status = $1 ORDER BY created_at DESC`,
		model.ExamStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListLobby returns published exams together with the student's latest attempt.
func (r *ExamRepository) ListLobby(ctx context.Context, studentID int) ([]model.LobbyExam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id::text, e.title, e.description, e.duration_minutes, e.total_marks,
		        e.is_practice, e.password_hash <> '', a.id::text, a.status
		 FROM exams e
		 LEFT JOIN LATERAL (
		     SELECT id, status FROM exam_attempts
		     WHERE exam_id = e.id AND student_id = $2
		     ORDER BY started_at DESC LIMIT 1
		 ) a ON TRUE
		 WHERE e.status = $1
		 ORDER BY e.created_at DESC`,
		model.ExamStatusPublished, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exams := []model.LobbyExam{}
	for rows.Next() {
		var e model.LobbyExam
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.DurationMinutes, &e.TotalMarks,
			&e.IsPractice, &e.HasPassword, &e.LastAttemptID, &e.LastStatus); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}
