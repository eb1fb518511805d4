package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type fakeSink struct {
	bulkErr  error
	rowErrs  map[string]error
	bulkRuns int
	inserted []string
}

func (s *fakeSink) bulkInsert(_ context.Context, batch []model.ViolationJob) error {
	s.bulkRuns++
	if s.bulkErr != nil {
		return s.bulkErr
	}
	for _, j := range batch {
		s.inserted = append(s.inserted, j.AttemptID)
	}
	return nil
}

func (s *fakeSink) insertOne(_ context.Context, j model.ViolationJob) error {
	if err := s.rowErrs[j.AttemptID]; err != nil {
		return err
	}
	s.inserted = append(s.inserted, j.AttemptID)
	return nil
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(&pgconn.PgError{Code: "23503"}))
	assert.True(t, isPermanent(&pgconn.PgError{Code: "22P02"}))
	assert.False(t, isPermanent(&pgconn.PgError{Code: "57P01"}))
	assert.False(t, isPermanent(errors.New("connection refused")))
	assert.False(t, isPermanent(nil))
}

func TestFlushSafe_BulkPath(t *testing.T) {
	sink := &fakeSink{}
	q := &batchQueue[model.ViolationJob]{sink: sink, log: zerolog.Nop()}

	q.flushSafe(context.Background(), []model.ViolationJob{{AttemptID: "a"}, {AttemptID: "b"}})

	assert.Equal(t, 1, sink.bulkRuns)
	assert.Equal(t, []string{"a", "b"}, sink.inserted)
}

func TestFlushSafe_FallbackDropsRejectedRows(t *testing.T) {
	sink := &fakeSink{
		bulkErr: errors.New("copy failed"),
		rowErrs: map[string]error{"bad": &pgconn.PgError{Code: "23503"}},
	}
	q := &batchQueue[model.ViolationJob]{sink: sink, log: zerolog.Nop()}

	q.flushSafe(context.Background(), []model.ViolationJob{{AttemptID: "a"}, {AttemptID: "bad"}, {AttemptID: "c"}})

	assert.Equal(t, []string{"a", "c"}, sink.inserted)
}

func TestFlushSafe_EmptyBatch(t *testing.T) {
	sink := &fakeSink{}
	q := &batchQueue[model.ViolationJob]{sink: sink, log: zerolog.Nop()}

	q.flushSafe(context.Background(), nil)
	assert.Zero(t, sink.bulkRuns)
}
