package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ScreenshotWorker consumes persist_screenshots_queue and records stored
// proctoring frames in attempt_screenshots.
type ScreenshotWorker struct {
	pool  *pgxpool.Pool
	queue *batchQueue[model.ScreenshotJob]
}

// NewScreenshotWorker creates a new ScreenshotWorker.
func NewScreenshotWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ScreenshotWorker {
	w := &ScreenshotWorker{pool: pool}
	w.queue = &batchQueue[model.ScreenshotJob]{
		queue:      config.WorkerKey.PersistScreenshotsQueue,
		rdb:        rdb,
		sink:       w,
		log:        log.With().Str("component", "screenshot_worker").Logger(),
		retryPause: 2 * time.Second,
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *ScreenshotWorker) Start(ctx context.Context) {
	w.queue.run(ctx)
}

// bulkInsert writes the whole batch with a single UNNEST insert.
func (w *ScreenshotWorker) bulkInsert(ctx context.Context, batch []model.ScreenshotJob) error {
	n := len(batch)
	attemptIDs := make([]uuid.UUID, 0, n)
	kinds := make([]string, 0, n)
	paths := make([]string, 0, n)
	capturedAts := make([]time.Time, 0, n)

	for _, j := range batch {
		id, err := uuid.Parse(j.AttemptID)
		if err != nil {
			return err
		}
		attemptIDs = append(attemptIDs, id)
		kinds = append(kinds, string(j.Kind))
		paths = append(paths, j.Path)
		capturedAts = append(capturedAts, time.UnixMilli(j.CapturedAt))
	}

	_, err := w.pool.Exec(ctx, `
		INSERT INTO attempt_screenshots (attempt_id, kind, path, captured_at)
		SELECT u.attempt_id, u.kind, u.path, u.captured_at
		FROM UNNEST(
			$1::uuid[],
			$2::text[],
			$3::text[],
			$4::timestamptz[]
		) AS u (attempt_id, kind, path, captured_at)`,
		attemptIDs, kinds, paths, capturedAts,
	)
	return err
}

func (w *ScreenshotWorker) insertOne(ctx context.Context, j model.ScreenshotJob) error {
	id, err := uuid.Parse(j.AttemptID)
	if err != nil {
		w.queue.log.Error().Str("attempt_id", j.AttemptID).Msg("Dropping screenshot with invalid attempt id")
		return nil
	}
	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_screenshots (attempt_id, kind, path, captured_at)
		 VALUES ($1, $2, $3, $4)`,
		id, string(j.Kind), j.Path, time.UnixMilli(j.CapturedAt),
	)
	return err
}
