package proctor

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Persister saves one answer to the backend.
type Persister func(ctx context.Context, questionID uuid.UUID, value string) error

// Spawner runs fn in the background with a bounded context.
type Spawner func(fn func(ctx context.Context))

type answerEntry struct {
	question model.Question
	value    string
	flagged  bool
	dirty    bool
	version  uint64
}

// AnswerStore holds exactly one answer per question. Local state is the
// source of truth; persistence is best-effort and failed entries are
// resent on the next Resend.
type AnswerStore struct {
	persist Persister
	spawn   Spawner
	log     zerolog.Logger

	mu      sync.Mutex
	order   []uuid.UUID
	entries map[uuid.UUID]*answerEntry
}

// NewAnswerStore initializes an empty, unflagged answer for every question.
func NewAnswerStore(questions []model.Question, persist Persister, spawn Spawner, log zerolog.Logger) *AnswerStore {
	s := &AnswerStore{
		persist: persist,
		spawn:   spawn,
		log:     log.With().Str("component", "answer_store").Logger(),
		order:   make([]uuid.UUID, 0, len(questions)),
		entries: make(map[uuid.UUID]*answerEntry, len(questions)),
	}
	if s.spawn == nil {
		s.spawn = func(fn func(ctx context.Context)) { go fn(context.Background()) }
	}
	for _, q := range questions {
		if _, dup := s.entries[q.ID]; dup {
			continue
		}
		s.order = append(s.order, q.ID)
		s.entries[q.ID] = &answerEntry{question: q}
	}
	return s
}

// SetAnswer replaces the answer locally and persists it in the background.
// Choice questions accept an empty value or one of their option labels.
func (s *AnswerStore) SetAnswer(questionID uuid.UUID, value string) error {
	s.mu.Lock()
	e, ok := s.entries[questionID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownQuestion
	}
	if e.question.Type.IsChoice() && value != "" && !hasOption(e.question, value) {
		s.mu.Unlock()
		return ErrInvalidAnswer
	}
	e.value = value
	e.version++
	version := e.version
	s.mu.Unlock()

	s.push(questionID, value, version)
	return nil
}

// ToggleFlag flips the review flag locally. Flags travel with the final
// submission only.
func (s *AnswerStore) ToggleFlag(questionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[questionID]
	if !ok {
		return false, ErrUnknownQuestion
	}
	e.flagged = !e.flagged
	return e.flagged, nil
}

// Resend retries every entry whose last persist failed and returns how many
// were resent.
func (s *AnswerStore) Resend() int {
	type pending struct {
		id      uuid.UUID
		value   string
		version uint64
	}

	s.mu.Lock()
	var batch []pending
	for _, id := range s.order {
		e := s.entries[id]
		if e.dirty {
			batch = append(batch, pending{id: id, value: e.value, version: e.version})
		}
	}
	s.mu.Unlock()

	for _, p := range batch {
		s.push(p.id, p.value, p.version)
	}
	return len(batch)
}

// Get returns the answer for one question.
func (s *AnswerStore) Get(questionID uuid.UUID) (model.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[questionID]
	if !ok {
		return model.Answer{}, false
	}
	return model.Answer{QuestionID: questionID, Value: e.value, Flagged: e.flagged}, true
}

// Snapshot returns every answer in question order.
func (s *AnswerStore) Snapshot() []model.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Answer, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		out = append(out, model.Answer{QuestionID: id, Value: e.value, Flagged: e.flagged})
	}
	return out
}

// Dirty returns the number of entries awaiting a successful persist.
func (s *AnswerStore) Dirty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

// Len returns the number of questions tracked.
func (s *AnswerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *AnswerStore) push(questionID uuid.UUID, value string, version uint64) {
	if s.persist == nil {
		return
	}
	s.spawn(func(ctx context.Context) {
		err := s.persist(ctx, questionID, value)

		s.mu.Lock()
		e := s.entries[questionID]
		if e.version == version {
			e.dirty = err != nil
		}
		s.mu.Unlock()

		if err != nil {
			s.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("Answer sync failed, will resend")
		}
	})
}

func hasOption(q model.Question, label string) bool {
	for _, o := range q.Options {
		if o.Label == label {
			return true
		}
	}
	return false
}
