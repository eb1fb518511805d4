package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Phase is the attempt's lifecycle state.
type Phase string

const (
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseInProgress    Phase = "in_progress"
	PhaseSubmitting    Phase = "submitting"
	PhaseDisqualifying Phase = "disqualifying"
	PhaseCompleted     Phase = "completed"
	PhaseAborted       Phase = "aborted"
)

// Backend is the persistence collaborator of an attempt.
type Backend interface {
	GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	StartAttempt(ctx context.Context, examID uuid.UUID, studentName string) (*model.StartAttemptResult, error)
	SaveAnswer(ctx context.Context, attemptID, examID, questionID uuid.UUID, value string) error
	LogViolation(ctx context.Context, attemptID, examID uuid.UUID, v model.Violation) error
	UploadScreenshot(ctx context.Context, attemptID, examID uuid.UUID, image string, kind model.ScreenshotKind) error
	SubmitExam(ctx context.Context, sub model.Submission) (*model.SubmitResult, error)
}

// Capturer grabs a single frame from a granted stream as an image data URL.
type Capturer interface {
	CaptureFrame(ctx context.Context, kind model.ScreenshotKind) (string, error)
}

// Options wires an Attempt to its environment. Zero values use defaults.
type Options struct {
	Scheduler          Scheduler
	Provider           Provider
	Capturer           Capturer
	Notifier           Notifier
	Logger             zerolog.Logger
	Now                func() time.Time
	SettleDelay        time.Duration
	Sleep              func(ctx context.Context, d time.Duration) error
	WarningDismiss     time.Duration
	ScreenshotInterval time.Duration
	SyncTimeout        time.Duration
	SubmitTimeout      time.Duration
}

// Snapshot is a point-in-time view of an attempt.
type Snapshot struct {
	Phase          Phase          `json:"phase"`
	AttemptID      string         `json:"attempt_id,omitempty"`
	ExamID         string         `json:"exam_id,omitempty"`
	Current        int            `json:"current"`
	Total          int            `json:"total"`
	Remaining      int            `json:"remaining"`
	TimeUp         bool           `json:"time_up"`
	ViolationCount int            `json:"violation_count"`
	Grace          GraceState     `json:"grace"`
	Answers        []model.Answer `json:"answers"`
	Permissions    []Permission   `json:"permissions,omitempty"`
}

// Attempt orchestrates one student's pass through an exam:
// Loading → Ready → InProgress → {Submitting | Disqualifying} → Completed.
type Attempt struct {
	backend  Backend
	opts     Options
	notifier Notifier
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	latch       Latch
	cleanupOnce sync.Once

	mu           sync.Mutex
	phase        Phase
	exam         *model.Exam
	policy       Policy
	attemptID    uuid.UUID
	startedAt    time.Time
	answers      *AnswerStore
	broker       *Broker
	monitor      *Monitor
	timer        *Countdown
	streams      Streams
	current      int
	timeUp       bool
	disqualified bool
	result       *model.SubmitResult
}

// New creates an attempt in the Loading phase.
func New(backend Backend, opts Options) *Attempt {
	if opts.Scheduler == nil {
		opts.Scheduler = TickerScheduler{}
	}
	if opts.Provider == nil {
		opts.Provider = noDevice{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ScreenshotInterval <= 0 {
		opts.ScreenshotInterval = time.Minute
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 10 * time.Second
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 30 * time.Second
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Attempt{
		backend:  backend,
		opts:     opts,
		notifier: notifier,
		log:      opts.Logger.With().Str("component", "attempt").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		phase:    PhaseLoading,
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// Load fetches and normalizes the exam, initializes one answer per question
// and registers the attempt with the backend. Any failure is fatal and
// leaves the attempt Aborted.
func (a *Attempt) Load(ctx context.Context, examID uuid.UUID, studentName string) error {
	a.mu.Lock()
	if a.phase != PhaseLoading {
		a.mu.Unlock()
		return ErrNotReady
	}
	a.mu.Unlock()

	raw, err := a.backend.GetExam(ctx, examID)
	if err != nil {
		return a.abort(fmt.Errorf("%w: get exam: %w", ErrLoadFailed, err))
	}
	exam, err := Normalize(raw)
	if err != nil {
		return a.abort(fmt.Errorf("%w: %w", ErrLoadFailed, err))
	}
	started, err := a.backend.StartAttempt(ctx, exam.ID, studentName)
	if err != nil {
		return a.abort(fmt.Errorf("%w: start attempt: %w", ErrLoadFailed, err))
	}

	a.mu.Lock()
	a.exam = exam
	a.attemptID = started.AttemptID
	a.policy = PolicyFor(exam.Settings, exam.IsPractice, a.opts.ScreenshotInterval)
	a.answers = NewAnswerStore(exam.Questions, a.answerPersister(started.AttemptID, exam.ID), a.spawn, a.opts.Logger)
	a.broker = NewBroker(a.opts.Provider, RequirementsFor(exam.Settings, exam.IsPractice), BrokerOptions{
		SettleDelay: a.opts.SettleDelay,
		Sleep:       a.opts.Sleep,
		OnChange:    func(p Permission) { a.notify(EventPermission, p) },
		Logger:      a.opts.Logger,
	})
	a.timer = NewCountdown(a.opts.Scheduler, a.onTick, a.onTimeUp)
	a.phase = PhaseReady
	a.mu.Unlock()

	a.log.Info().
		Str("attempt_id", started.AttemptID.String()).
		Str("exam_id", exam.ID.String()).
		Bool("practice", exam.IsPractice).
		Int("questions", len(exam.Questions)).
		Msg("Attempt loaded")
	a.notify(EventPhase, PhaseData{Phase: PhaseReady})
	return nil
}

// Broker returns the permission broker of a loaded attempt.
func (a *Attempt) Broker() *Broker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broker
}

// Begin starts the timer and, for proctored exams, the violation monitor.
// Proctored exams need every required capability granted first.
func (a *Attempt) Begin() error {
	a.mu.Lock()
	switch a.phase {
	case PhaseReady:
	case PhaseCompleted:
		a.mu.Unlock()
		return ErrCompleted
	default:
		a.mu.Unlock()
		return ErrNotReady
	}
	practice := a.exam.IsPractice
	if !practice && !a.broker.CanProceed() {
		a.mu.Unlock()
		return ErrPermissionsPending
	}

	a.streams = a.broker.Streams()
	a.startedAt = a.opts.Now()
	a.current = 0
	if !practice {
		attemptID, examID := a.attemptID, a.exam.ID
		a.monitor = NewMonitor(MonitorOptions{
			Policy:         a.policy,
			Scheduler:      a.opts.Scheduler,
			Latch:          &a.latch,
			WarningDismiss: a.opts.WarningDismiss,
			Now:            a.opts.Now,
			Logger:         a.opts.Logger,
			Hooks: MonitorHooks{
				OnViolation: func(v model.Violation) { a.onViolation(attemptID, examID, v) },
				OnWarning:   func(w Warning) { a.notify(EventWarning, w) },
				OnThreshold: a.onThreshold,
				OnGrace:     func(u GraceUpdate) { a.notify(EventGrace, u) },
				OnCapture:   func(k model.ScreenshotKind) { a.onCapture(attemptID, examID, k) },
			},
		})
	}
	a.phase = PhaseInProgress
	monitor := a.monitor
	duration := a.exam.DurationSeconds()
	first := a.exam.Questions[0].ID
	total := len(a.exam.Questions)
	a.mu.Unlock()

	a.timer.Start(duration)
	if monitor != nil {
		monitor.Start()
	}

	a.notify(EventPhase, PhaseData{Phase: PhaseInProgress})
	a.notify(EventNavigated, NavigatedData{Index: 0, QuestionID: first.String(), Total: total})
	return nil
}

// Submit sends the attempt for grading. A failed submission reopens the
// attempt so the student can retry; there is no automatic retry.
func (a *Attempt) Submit(ctx context.Context) error {
	return a.submit(ctx, false, model.EndReasonManual)
}

// Teardown releases every resource held by the attempt. Safe to call at any
// time and more than once.
func (a *Attempt) Teardown() {
	a.mu.Lock()
	changed := a.phase != PhaseCompleted && a.phase != PhaseAborted
	if changed {
		a.phase = PhaseAborted
	}
	a.mu.Unlock()

	a.cleanup()
	if changed {
		a.notify(EventPhase, PhaseData{Phase: PhaseAborted})
	}
}

// WaitBackground blocks until every background sync has finished.
func (a *Attempt) WaitBackground() {
	a.bg.Wait()
}

// ─── In-progress operations ─────────────────────────────────────────

// Signal feeds one browser signal to the monitor and reports whether it was
// recorded as a violation.
func (a *Attempt) Signal(sig Signal) bool {
	a.mu.Lock()
	monitor := a.monitor
	active := a.phase == PhaseInProgress
	a.mu.Unlock()

	if !active || monitor == nil {
		return false
	}
	return monitor.Handle(sig)
}

// SetAnswer records an answer for a question.
func (a *Attempt) SetAnswer(questionID uuid.UUID, value string) error {
	if err := a.requireInProgress(); err != nil {
		return err
	}
	return a.answers.SetAnswer(questionID, value)
}

// ToggleFlag flips the review flag of a question and returns its new value.
func (a *Attempt) ToggleFlag(questionID uuid.UUID) (bool, error) {
	if err := a.requireInProgress(); err != nil {
		return false, err
	}
	return a.answers.ToggleFlag(questionID)
}

// Next moves to the following question.
func (a *Attempt) Next() (int, error) {
	return a.move(func(cur int) int { return cur + 1 })
}

// Prev moves to the preceding question.
func (a *Attempt) Prev() (int, error) {
	return a.move(func(cur int) int { return cur - 1 })
}

// Jump moves to the question at index.
func (a *Attempt) Jump(index int) (int, error) {
	return a.move(func(int) int { return index })
}

// Save resends every answer whose last sync failed.
func (a *Attempt) Save() (int, error) {
	if err := a.requireInProgress(); err != nil {
		return 0, err
	}
	return a.answers.Resend(), nil
}

// ─── Accessors ──────────────────────────────────────────────────────

// Phase returns the current phase.
func (a *Attempt) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Exam returns the normalized exam, or nil before Load.
func (a *Attempt) Exam() *model.Exam {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exam
}

// AttemptID returns the backend attempt id.
func (a *Attempt) AttemptID() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attemptID
}

// Policy returns the monitor policy of a loaded attempt.
func (a *Attempt) Policy() Policy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy
}

// Answers returns the answer store of a loaded attempt.
func (a *Attempt) Answers() *AnswerStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.answers
}

// Monitor returns the violation monitor once a proctored attempt began.
func (a *Attempt) Monitor() *Monitor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitor
}

// Result returns the backend's acknowledgement of a completed attempt.
func (a *Attempt) Result() *model.SubmitResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Snapshot returns a point-in-time view of the attempt.
func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	s := Snapshot{
		Phase:   a.phase,
		Current: a.current,
		TimeUp:  a.timeUp,
		Grace:   GraceIdle,
	}
	if a.exam != nil {
		s.ExamID = a.exam.ID.String()
		s.AttemptID = a.attemptID.String()
		s.Total = len(a.exam.Questions)
	}
	answers, monitor, timer, broker := a.answers, a.monitor, a.timer, a.broker
	a.mu.Unlock()

	if answers != nil {
		s.Answers = answers.Snapshot()
	}
	if monitor != nil {
		s.ViolationCount = monitor.Count()
		s.Grace = monitor.Grace().State()
	}
	if timer != nil {
		s.Remaining = timer.Remaining()
	}
	if broker != nil {
		s.Permissions = broker.State()
	}
	return s
}

// ─── Internals ──────────────────────────────────────────────────────

func (a *Attempt) requireInProgress() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return phaseError(a.phase)
}

func phaseError(p Phase) error {
	switch p {
	case PhaseInProgress:
		return nil
	case PhaseSubmitting, PhaseDisqualifying:
		return ErrSubmissionInProgress
	case PhaseCompleted:
		return ErrCompleted
	}
	return ErrNotReady
}

func (a *Attempt) move(target func(cur int) int) (int, error) {
	a.mu.Lock()
	if err := phaseError(a.phase); err != nil {
		a.mu.Unlock()
		return a.current, err
	}
	idx := target(a.current)
	total := len(a.exam.Questions)
	if idx < 0 || idx >= total {
		cur := a.current
		a.mu.Unlock()
		return cur, ErrQuestionIndex
	}
	a.current = idx
	qid := a.exam.Questions[idx].ID
	answers := a.answers
	a.mu.Unlock()

	answers.Resend()
	a.notify(EventNavigated, NavigatedData{Index: idx, QuestionID: qid.String(), Total: total})
	return idx, nil
}

func (a *Attempt) submit(ctx context.Context, forced bool, reason string) error {
	a.mu.Lock()
	switch a.phase {
	case PhaseInProgress, PhaseDisqualifying:
	case PhaseSubmitting:
		a.mu.Unlock()
		return ErrSubmissionInProgress
	case PhaseCompleted:
		a.mu.Unlock()
		return ErrCompleted
	default:
		a.mu.Unlock()
		return ErrNotReady
	}
	monitor := a.monitor
	sealed, thresholdHit, count := a.seal(monitor)
	if !sealed {
		a.mu.Unlock()
		return ErrSubmissionInProgress
	}

	// The threshold fired but its handler has not run yet. This submission
	// carries the disqualification and announces it.
	announce := thresholdHit && !a.disqualified
	if thresholdHit {
		a.disqualified = true
	}
	if a.disqualified {
		forced = true
		reason = model.EndReasonDisqualified
	}
	if a.phase == PhaseInProgress {
		a.phase = PhaseSubmitting
	}
	phase := a.phase
	limit := a.policy.MaxViolations
	sub := model.Submission{
		AttemptID:        a.attemptID,
		ExamID:           a.exam.ID,
		Answers:          a.answers.Snapshot(),
		TimeSpentSeconds: int(a.opts.Now().Sub(a.startedAt) / time.Second),
		Forced:           forced,
		Reason:           reason,
	}
	a.mu.Unlock()

	if announce {
		a.announceDisqualification(sub.AttemptID, count, limit)
	}

	sub.Violations = []model.Violation{}
	if monitor != nil {
		monitor.CancelGrace()
		sub.Violations = monitor.Violations()
	}
	a.notify(EventPhase, PhaseData{Phase: phase})

	res, err := a.backend.SubmitExam(ctx, sub)
	if err == nil && (res == nil || !res.Success) {
		msg := "no acknowledgement"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		err = fmt.Errorf("%w: %s", ErrSubmitRejected, msg)
	}
	if err != nil {
		a.mu.Lock()
		a.phase = PhaseInProgress
		if a.disqualified {
			a.phase = PhaseDisqualifying
		}
		rolledBack := a.phase
		a.latch.Reset()
		a.mu.Unlock()

		a.log.Warn().Err(err).Str("attempt_id", sub.AttemptID.String()).Msg("Submission failed")
		a.notify(EventSubmitFailed, SubmitFailedData{Error: err.Error()})
		a.notify(EventPhase, PhaseData{Phase: rolledBack})
		return err
	}

	a.mu.Lock()
	a.phase = PhaseCompleted
	a.result = res
	a.mu.Unlock()

	a.cleanup()

	a.log.Info().
		Str("attempt_id", sub.AttemptID.String()).
		Bool("forced", sub.Forced).
		Str("reason", sub.Reason).
		Int("violations", len(sub.Violations)).
		Int("time_spent", sub.TimeSpentSeconds).
		Msg("Attempt submitted")
	a.notify(EventSubmitted, SubmittedData{
		AttemptID: sub.AttemptID.String(),
		Forced:    sub.Forced,
		Reason:    sub.Reason,
		Message:   res.Message,
	})
	a.notify(EventPhase, PhaseData{Phase: PhaseCompleted})
	return nil
}

// submitInBackground runs a timer- or policy-triggered submission on its
// own context so a client disconnect does not cancel it.
func (a *Attempt) submitInBackground(forced bool, reason string) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.SubmitTimeout)
		defer cancel()
		if err := a.submit(ctx, forced, reason); err != nil && !errors.Is(err, ErrSubmissionInProgress) {
			a.log.Warn().Err(err).Str("reason", reason).Msg("Automatic submission failed")
		}
	}()
}

func (a *Attempt) cleanup() {
	a.cleanupOnce.Do(func() {
		a.mu.Lock()
		timer, monitor, broker, streams := a.timer, a.monitor, a.broker, a.streams
		a.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if monitor != nil {
			monitor.Close()
		}
		if streams.Media == nil && streams.Screen == nil && broker != nil {
			streams = broker.Streams()
		}
		streams.StopAll()

		if broker != nil && broker.Status(CapabilityFullscreen) == StatusGranted {
			ctx, cancel := context.WithTimeout(context.Background(), a.opts.SyncTimeout)
			if err := a.opts.Provider.ExitFullscreen(ctx); err != nil {
				a.log.Debug().Err(err).Msg("Exit fullscreen failed")
			}
			cancel()
		}
		a.cancel()
	})
}

func (a *Attempt) abort(err error) error {
	a.mu.Lock()
	a.phase = PhaseAborted
	a.mu.Unlock()

	a.log.Error().Err(err).Msg("Attempt load failed")
	a.cleanup()
	a.notify(EventPhase, PhaseData{Phase: PhaseAborted})
	return err
}

func (a *Attempt) spawn(fn func(ctx context.Context)) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		ctx, cancel := context.WithTimeout(a.ctx, a.opts.SyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (a *Attempt) answerPersister(attemptID, examID uuid.UUID) Persister {
	return func(ctx context.Context, questionID uuid.UUID, value string) error {
		return a.backend.SaveAnswer(ctx, attemptID, examID, questionID, value)
	}
}

func (a *Attempt) onViolation(attemptID, examID uuid.UUID, v model.Violation) {
	a.spawn(func(ctx context.Context) {
		if err := a.backend.LogViolation(ctx, attemptID, examID, v); err != nil {
			a.log.Warn().Err(err).
				Str("attempt_id", attemptID.String()).
				Str("type", string(v.Type)).
				Msg("Violation sync failed")
		}
	})
}

func (a *Attempt) onCapture(attemptID, examID uuid.UUID, kind model.ScreenshotKind) {
	if a.opts.Capturer == nil {
		return
	}
	a.spawn(func(ctx context.Context) {
		img, err := a.opts.Capturer.CaptureFrame(ctx, kind)
		if err != nil {
			a.log.Debug().Err(err).Str("kind", string(kind)).Msg("Frame capture failed")
			return
		}
		if err := a.backend.UploadScreenshot(ctx, attemptID, examID, img, kind); err != nil {
			a.log.Warn().Err(err).
				Str("attempt_id", attemptID.String()).
				Str("kind", string(kind)).
				Msg("Screenshot upload failed")
		}
	})
}

func (a *Attempt) onThreshold(count int) {
	a.mu.Lock()
	a.disqualified = true
	if a.phase != PhaseInProgress {
		a.mu.Unlock()
		return
	}
	a.phase = PhaseDisqualifying
	limit := a.policy.MaxViolations
	attemptID := a.attemptID
	a.mu.Unlock()

	a.announceDisqualification(attemptID, count, limit)
	a.notify(EventPhase, PhaseData{Phase: PhaseDisqualifying})
	a.submitInBackground(true, model.EndReasonDisqualified)
}

func (a *Attempt) announceDisqualification(attemptID uuid.UUID, count, limit int) {
	a.log.Warn().Str("attempt_id", attemptID.String()).Int("count", count).Msg("Violation threshold reached, disqualifying")
	a.notify(EventDisqualified, DisqualifiedData{
		Count:   count,
		Max:     limit,
		Message: "You have reached the maximum number of violations. Your exam is being submitted.",
	})
}

// seal trips the submission latch. With a monitor attached the trip is
// serialized with the threshold decision. Callers hold a.mu.
func (a *Attempt) seal(monitor *Monitor) (sealed, thresholdHit bool, count int) {
	if monitor == nil {
		return a.latch.Trip(), false, 0
	}
	return monitor.Seal()
}

func (a *Attempt) onTick(remaining int) {
	a.notify(EventTick, TickData{Remaining: remaining})
}

func (a *Attempt) onTimeUp() {
	a.mu.Lock()
	a.timeUp = true
	auto := a.exam.Settings.AutoSubmitOnTimeUp
	a.mu.Unlock()

	if auto {
		a.notify(EventTimeUp, TimeUpData{AutoSubmit: true, Message: "Time is up. Your exam is being submitted."})
		a.submitInBackground(false, model.EndReasonTimeUp)
		return
	}
	a.notify(EventTimeUp, TimeUpData{Message: "Time is up. Please submit your exam."})
}

func (a *Attempt) notify(t EventType, data any) {
	a.notifier.Notify(Event{Type: t, Data: data})
}

var errNoDevice = errors.New("no client device attached")

type noDevice struct{}

func (noDevice) RequestFullscreen(context.Context) error { return errNoDevice }
func (noDevice) ExitFullscreen(context.Context) error    { return errNoDevice }
func (noDevice) RequestMedia(context.Context, bool, bool) (Stream, error) {
	return nil, errNoDevice
}
func (noDevice) RequestScreenShare(context.Context) (Stream, error) { return nil, errNoDevice }
