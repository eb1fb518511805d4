package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// LiveAttempt is one row of the monitor snapshot.
type LiveAttempt struct {
	AttemptID      uuid.UUID           `json:"attempt_id"`
	StudentID      int                 `json:"student_id"`
	StudentName    string              `json:"student_name"`
	Status         model.AttemptStatus `json:"status"`
	Answered       int64               `json:"answered"`
	ViolationCount int64               `json:"violation_count"`
}

// MonitorRepository provides data access for the live exam monitoring feature.
// It combines PostgreSQL (attempt state) and Redis (live answer and violation counters).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListLive returns every IN_PROGRESS attempt of the exam with its live counters.
func (r *MonitorRepository) ListLive(ctx context.Context, examID uuid.UUID) ([]LiveAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, student_name, status, violation_count
		 FROM exam_attempts WHERE exam_id = $1 AND status = $2
		 ORDER BY student_name`,
		examID, model.AttemptStatusInProgress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	live := []LiveAttempt{}
	for rows.Next() {
		var a LiveAttempt
		if err := rows.Scan(&a.AttemptID, &a.StudentID, &a.StudentName, &a.Status, &a.ViolationCount); err != nil {
			return nil, err
		}
		live = append(live, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(live) == 0 {
		return live, nil
	}

	// Redis holds fresher counters than the table while the attempt runs.
	pipe := r.rdb.Pipeline()
	answered := make([]*redis.IntCmd, len(live))
	violations := make([]*redis.StringCmd, len(live))
	for i, a := range live {
		answered[i] = pipe.HLen(ctx, config.CacheKey.AttemptAnswersKey(a.AttemptID.String()))
		violations[i] = pipe.Get(ctx, config.CacheKey.AttemptViolationsKey(a.AttemptID.String()))
	}
	_, _ = pipe.Exec(ctx)

	for i := range live {
		if n, err := answered[i].Result(); err == nil {
			live[i].Answered = n
		}
		if n, err := violations[i].Int64(); err == nil && n > live[i].ViolationCount {
			live[i].ViolationCount = n
		}
	}
	return live, nil
}

// GetAnsweredCounts returns persisted answer counts per attempt, used when the
// Redis hashes have expired.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT aa.attempt_id, COUNT(*)
		 FROM attempt_answers aa
		 JOIN exam_attempts ea ON ea.id = aa.attempt_id
		 WHERE ea.exam_id = $1 AND aa.value <> ''
		 GROUP BY aa.attempt_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
