package proctor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Scheduler ──────────────────────────────────────────────────────

type manualJob struct {
	every time.Duration
	next  time.Duration
	fn    func()
}

// manualScheduler advances virtual time one second at a time.
type manualScheduler struct {
	mu   sync.Mutex
	now  time.Duration
	seq  int
	jobs map[int]*manualJob
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{jobs: make(map[int]*manualJob)}
}

func (s *manualScheduler) Every(d time.Duration, fn func()) func() {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.jobs[id] = &manualJob{every: d, next: s.now + d, fn: fn}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.jobs, id)
		s.mu.Unlock()
	}
}

func (s *manualScheduler) Advance(seconds int) {
	for i := 0; i < seconds; i++ {
		s.mu.Lock()
		s.now += time.Second
		now := s.now
		var due []int
		for id, j := range s.jobs {
			if j.next <= now {
				due = append(due, id)
			}
		}
		s.mu.Unlock()
		sort.Ints(due)

		for _, id := range due {
			s.mu.Lock()
			j, ok := s.jobs[id]
			if ok {
				j.next += j.every
			}
			s.mu.Unlock()
			if ok {
				j.fn()
			}
		}
	}
}

func (s *manualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// ─── Clock ──────────────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ─── Media ──────────────────────────────────────────────────────────

type fakeTrack struct {
	kind    TrackKind
	stopped atomic.Bool
}

func (t *fakeTrack) Kind() TrackKind { return t.kind }
func (t *fakeTrack) Stop()           { t.stopped.Store(true) }
func (t *fakeTrack) Stopped() bool   { return t.stopped.Load() }

type fakeStream struct {
	id     string
	tracks []*fakeTrack
}

func newFakeStream(id string, kinds ...TrackKind) *fakeStream {
	s := &fakeStream{id: id}
	for _, k := range kinds {
		s.tracks = append(s.tracks, &fakeTrack{kind: k})
	}
	return s
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) allStopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}

var errDenied = errors.New("NotAllowedError: permission denied")

type fakeProvider struct {
	mu             sync.Mutex
	denyFullscreen bool
	denyMedia      bool
	denyScreen     bool
	calls          []string
	streams        []*fakeStream
	exits          int
}

func (p *fakeProvider) RequestFullscreen(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "fullscreen")
	if p.denyFullscreen {
		return errDenied
	}
	return nil
}

func (p *fakeProvider) ExitFullscreen(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exits++
	return nil
}

func (p *fakeProvider) RequestMedia(_ context.Context, video, audio bool) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("media(video=%t,audio=%t)", video, audio))
	if p.denyMedia {
		return nil, errDenied
	}
	var kinds []TrackKind
	if video {
		kinds = append(kinds, TrackVideo)
	}
	if audio {
		kinds = append(kinds, TrackAudio)
	}
	s := newFakeStream("media", kinds...)
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakeProvider) RequestScreenShare(context.Context) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "screen")
	if p.denyScreen {
		return nil, errDenied
	}
	s := newFakeStream("screen", TrackVideo)
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) Streams() []*fakeStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeStream(nil), p.streams...)
}

func (p *fakeProvider) Exits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exits
}

type fakeCapturer struct {
	mu    sync.Mutex
	kinds []model.ScreenshotKind
}

func (c *fakeCapturer) CaptureFrame(_ context.Context, kind model.ScreenshotKind) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
	return "data:image/jpeg;base64,/9j/AA==", nil
}

// ─── Backend ────────────────────────────────────────────────────────

type savedAnswer struct {
	QuestionID uuid.UUID
	Value      string
}

type fakeBackend struct {
	mu sync.Mutex

	exam      *model.Exam
	attemptID uuid.UUID
	getErr    error
	startErr  error
	saveErr   error
	submitErr error

	saved       []savedAnswer
	violations  []model.Violation
	screenshots []model.ScreenshotKind
	submissions []model.Submission
	tried       []model.Submission
	startedFor  string
}

func newFakeBackend(exam *model.Exam) *fakeBackend {
	return &fakeBackend{exam: exam, attemptID: uuid.New()}
}

func (b *fakeBackend) GetExam(_ context.Context, examID uuid.UUID) (*model.Exam, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	if b.exam == nil || b.exam.ID != examID {
		return nil, errors.New("exam not found")
	}
	return b.exam, nil
}

func (b *fakeBackend) StartAttempt(_ context.Context, _ uuid.UUID, studentName string) (*model.StartAttemptResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return nil, b.startErr
	}
	b.startedFor = studentName
	return &model.StartAttemptResult{AttemptID: b.attemptID, StartedAt: time.Now()}, nil
}

func (b *fakeBackend) SaveAnswer(_ context.Context, _, _ uuid.UUID, questionID uuid.UUID, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saved = append(b.saved, savedAnswer{QuestionID: questionID, Value: value})
	return nil
}

func (b *fakeBackend) LogViolation(_ context.Context, _, _ uuid.UUID, v model.Violation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.violations = append(b.violations, v)
	return nil
}

func (b *fakeBackend) UploadScreenshot(_ context.Context, _, _ uuid.UUID, _ string, kind model.ScreenshotKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screenshots = append(b.screenshots, kind)
	return nil
}

func (b *fakeBackend) SubmitExam(_ context.Context, sub model.Submission) (*model.SubmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tried = append(b.tried, sub)
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	b.submissions = append(b.submissions, sub)
	return &model.SubmitResult{Success: true, AttemptID: sub.AttemptID}, nil
}

func (b *fakeBackend) setSubmitErr(err error) {
	b.mu.Lock()
	b.submitErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) setSaveErr(err error) {
	b.mu.Lock()
	b.saveErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) Submissions() []model.Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Submission(nil), b.submissions...)
}

// Tried returns every submission received, including rejected ones.
func (b *fakeBackend) Tried() []model.Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Submission(nil), b.tried...)
}

func (b *fakeBackend) Saved() []savedAnswer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]savedAnswer(nil), b.saved...)
}

func (b *fakeBackend) Violations() []model.Violation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Violation(nil), b.violations...)
}

func (b *fakeBackend) Screenshots() []model.ScreenshotKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ScreenshotKind(nil), b.screenshots...)
}

// ─── Notifier ───────────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	events []Event
	// after, when set, runs outside the lock once e is recorded.
	after func(e Event)
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	after := r.after
	r.mu.Unlock()
	if after != nil {
		after(e)
	}
}

func (r *recorder) setAfter(fn func(e Event)) {
	r.mu.Lock()
	r.after = fn
	r.mu.Unlock()
}

func (r *recorder) Of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ─── Fixtures ───────────────────────────────────────────────────────

func choiceQuestion(examID uuid.UUID, order int) model.Question {
	return model.Question{
		ID:     uuid.New(),
		ExamID: examID,
		Type:   model.QuestionTypeSingleChoiceText,
		Prompt: fmt.Sprintf("Question %d", order),
		Options: []model.Option{
			{Label: "A", Text: "first"},
			{Label: "B", Text: "second"},
			{Label: "C", Text: "third"},
			{Label: "D", Text: "fourth"},
		},
		CorrectOption: "A",
		Marks:         2,
		OrderNum:      order,
	}
}

func testExam(settings model.ExamSettings, practice bool, questions int) *model.Exam {
	id := uuid.New()
	exam := &model.Exam{
		ID:              id,
		Title:           "Physics Midterm",
		DurationMinutes: 1,
		PassingMarks:    4,
		IsPractice:      practice,
		Settings:        settings,
		Status:          model.ExamStatusPublished,
	}
	for i := 1; i <= questions; i++ {
		exam.Questions = append(exam.Questions, choiceQuestion(id, i))
	}
	return exam
}

func proctoredSettings() model.ExamSettings {
	return model.ExamSettings{
		FullscreenRequired:        true,
		WebcamRequired:            true,
		MicrophoneRequired:        true,
		EnforceScreensharing:      true,
		MaxViolationsBeforeAction: 3,
		DisqualifyOnViolation:     true,
		AutoSubmitOnTimeUp:        true,
		ScreenshotIntervalSeconds: 30,
	}
}

type harness struct {
	attempt  *Attempt
	backend  *fakeBackend
	provider *fakeProvider
	capturer *fakeCapturer
	sched    *manualScheduler
	events   *recorder
	clock    *fakeClock
}

func newHarness(exam *model.Exam) *harness {
	h := &harness{
		backend:  newFakeBackend(exam),
		provider: &fakeProvider{},
		capturer: &fakeCapturer{},
		sched:    newManualScheduler(),
		events:   &recorder{},
		clock:    newFakeClock(),
	}
	h.attempt = New(h.backend, Options{
		Scheduler: h.sched,
		Provider:  h.provider,
		Capturer:  h.capturer,
		Notifier:  h.events,
		Now:       h.clock.Now,
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})
	return h
}
