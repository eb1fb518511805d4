package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// batchSink persists the jobs of one queue.
type batchSink[T any] interface {
	bulkInsert(ctx context.Context, batch []T) error
	insertOne(ctx context.Context, job T) error
}

// batchQueue drains a Redis list into PostgreSQL in batches: bulk insert
// first, then row by row, then back onto the queue.
type batchQueue[T any] struct {
	queue      string
	rdb        *redis.Client
	sink       batchSink[T]
	log        zerolog.Logger
	retryPause time.Duration
}

func (q *batchQueue[T]) run(ctx context.Context) {
	q.log.Info().Str("queue", q.queue).Msg("Worker started")

	buffer := make([]T, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				q.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			q.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis. BLPop returns immediately if data exists.
		result, err := q.rdb.BLPop(ctx, PollTimeout, q.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			q.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		// 4. Decode. Malformed JSON can never succeed, so it is discarded.
		var job T
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			q.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, job)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (q *batchQueue[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := q.sink.bulkInsert(ctx, batch)
	if err == nil {
		return
	}
	q.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var retry []T
	for _, job := range batch {
		err := q.sink.insertOne(ctx, job)
		switch {
		case err == nil:
		case isPermanent(err):
			q.log.Error().Err(err).Interface("job", job).Msg("Dropping job rejected by the database")
		default:
			q.log.Error().Err(err).Msg("Insert failed, requeueing")
			retry = append(retry, job)
		}
	}
	if len(retry) > 0 {
		q.requeue(ctx, retry)
	}
}

func (q *batchQueue[T]) requeue(ctx context.Context, items []T) {
	// Use a pipeline to push everything back quickly.
	pipe := q.rdb.Pipeline()
	for _, job := range items {
		data, _ := json.Marshal(job)
		pipe.RPush(ctx, q.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	q.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleepCtx(ctx, q.retryPause)
}

func (q *batchQueue[T]) shutdown(buffer []T) {
	q.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.flushSafe(shutdownCtx, buffer)
}

// isPermanent reports whether PostgreSQL rejected the data itself (bad
// values, missing foreign keys). Retrying such a job can never succeed.
func isPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
