package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ViolationWorker consumes persist_violations_queue and COPYs violation
// log entries into attempt_violations.
type ViolationWorker struct {
	pool  *pgxpool.Pool
	queue *batchQueue[model.ViolationJob]
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{pool: pool}
	w.queue = &batchQueue[model.ViolationJob]{
		queue:      config.WorkerKey.PersistViolationsQueue,
		rdb:        rdb,
		sink:       w,
		log:        log.With().Str("component", "violation_worker").Logger(),
		retryPause: 2 * time.Second,
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.queue.run(ctx)
}

func violationRow(j model.ViolationJob) ([]any, error) {
	attemptID, err := uuid.Parse(j.AttemptID)
	if err != nil {
		return nil, err
	}
	return []any{attemptID, string(j.Type), j.Details, time.UnixMilli(j.Timestamp)}, nil
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []model.ViolationJob) error {
	rows := make([][]any, 0, len(batch))
	for _, j := range batch {
		row, err := violationRow(j)
		if err != nil {
			// Let the fallback deal with the bad row individually.
			return err
		}
		rows = append(rows, row)
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"attempt_violations"},
		[]string{"attempt_id", "violation_type", "details", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ViolationWorker) insertOne(ctx context.Context, j model.ViolationJob) error {
	row, err := violationRow(j)
	if err != nil {
		w.queue.log.Error().Str("attempt_id", j.AttemptID).Msg("Dropping violation with invalid attempt id")
		return nil
	}
	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_violations (attempt_id, violation_type, details, occurred_at)
		 VALUES ($1, $2, $3, $4)`,
		row...,
	)
	return err
}
