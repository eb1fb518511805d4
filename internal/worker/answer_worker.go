package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AnswerWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "answer_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleepCtx(ctx, 3*time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var job model.AnswerJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persistAnswer(ctx, &job); err != nil {
		if isPermanent(err) {
			w.log.Error().Err(err).Str("attempt_id", job.AttemptID).Str("q_id", job.QuestionID).Msg("Dropping answer rejected by the database")
			return
		}
		w.log.Error().Err(err).
			Str("attempt_id", job.AttemptID).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, result[1])
		sleepCtx(ctx, 5*time.Second)
	}
}

// persistAnswer upserts one answer. Answers that arrive after the attempt
// was sealed are ignored, so a late queue entry cannot overwrite what the
// submission stored.
func (w *AnswerWorker) persistAnswer(ctx context.Context, job *model.AnswerJob) error {
	attemptID, err := uuid.Parse(job.AttemptID)
	if err != nil {
		w.log.Error().Str("attempt_id", job.AttemptID).Msg("Dropping answer with invalid attempt id")
		return nil
	}
	questionID, err := uuid.Parse(job.QuestionID)
	if err != nil {
		w.log.Error().Str("q_id", job.QuestionID).Msg("Dropping answer with invalid question id")
		return nil
	}

	value := currentValue(ctx, w.rdb, job, w.log)

	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, value, updated_at)
		 SELECT $1::uuid, $2::uuid, $3::text, NOW()
		 WHERE EXISTS (
			SELECT 1 FROM exam_attempts
			WHERE id = $1::uuid AND status = 'IN_PROGRESS'
		 )
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = NOW()`,
		attemptID, questionID, value,
	)
	return err
}

// hashReader is the slice of the Redis client currentValue needs.
type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// currentValue returns the answer the attempt holds now. Every save writes
// the answer hash before queueing, so a job retried behind a newer one
// still persists the newest value. The job's own value is used when the
// hash is gone or unreadable.
func currentValue(ctx context.Context, rdb hashReader, job *model.AnswerJob, log zerolog.Logger) string {
	v, err := rdb.HGet(ctx, config.CacheKey.AttemptAnswersKey(job.AttemptID), job.QuestionID).Result()
	switch {
	case err == nil:
		return v
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("attempt_id", job.AttemptID).Msg("Answer hash unreadable, using queued value")
	}
	return job.Value
}

// drain processes all remaining items in the queue before shutdown.
func (w *AnswerWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		var job model.AnswerJob
		if err := json.Unmarshal([]byte(result), &job); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistAnswer(ctx, &job); err != nil && !isPermanent(err) {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
