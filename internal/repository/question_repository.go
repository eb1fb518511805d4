package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all questions for a given exam, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, question_type, prompt, options, correct_option, marks,
		        negative_marks, difficulty, explanation, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Type, &q.Prompt, &q.Options, &q.CorrectOption,
			&q.Marks, &q.NegativeMarks, &q.Difficulty, &q.Explanation, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ReplaceForExam swaps the full question set of an exam in one transaction
// and stores the recomputed total marks.
func (r *QuestionRepository) ReplaceForExam(ctx context.Context, examID uuid.UUID, questions []model.Question, totalMarks float64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1`, examID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}

	rows := make([][]interface{}, len(questions))
	for i, q := range questions {
		options := q.Options
		if options == nil {
			options = []model.Option{}
		}
		rows[i] = []interface{}{
			q.ID, examID, q.Type, q.Prompt, options, q.CorrectOption,
			q.Marks, q.NegativeMarks, q.Difficulty, q.Explanation, q.OrderNum,
		}
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"questions"},
		[]string{"id", "exam_id", "question_type", "prompt", "options", "correct_option",
			"marks", "negative_marks", "difficulty", "explanation", "order_num"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy questions: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exams SET total_marks = $1, updated_at = NOW() WHERE id = $2`,
		totalMarks, examID); err != nil {
		return fmt.Errorf("update total marks: %w", err)
	}

	return tx.Commit(ctx)
}
