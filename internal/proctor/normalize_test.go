package proctor

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestNormalizeCleansExam(t *testing.T) {
	id := uuid.New()
	opts := make([]model.Option, 12)
	for i := range opts {
		opts[i] = model.Option{Label: fmt.Sprintf(" %c ", 'a'+i), Text: " option "}
	}
	exam := &model.Exam{
		ID:              id,
		DurationMinutes: 30,
		Questions: []model.Question{
			{ID: uuid.New(), Type: model.QuestionTypeShortText, OrderNum: 2, Options: opts, CorrectOption: "a"},
			{ID: uuid.New(), Type: model.QuestionTypeSingleChoiceText, OrderNum: 1, Options: opts, CorrectOption: " b ", Marks: 3, NegativeMarks: -1},
		},
	}

	out, err := Normalize(exam)
	require.NoError(t, err)

	q0, q1 := out.Questions[0], out.Questions[1]
	assert.Equal(t, model.QuestionTypeSingleChoiceText, q0.Type)
	assert.Equal(t, 1, q0.OrderNum)
	assert.Len(t, q0.Options, model.MaxOptions)
	assert.Equal(t, "A", q0.Options[0].Label)
	assert.Equal(t, "option", q0.Options[0].Text)
	assert.Equal(t, "B", q0.CorrectOption)
	assert.Equal(t, 0.0, q0.NegativeMarks)

	assert.Nil(t, q1.Options)
	assert.Empty(t, q1.CorrectOption)
	assert.Equal(t, 1.0, q1.Marks)
	assert.Equal(t, 4.0, out.TotalMarks)
	assert.Equal(t, model.DefaultGracePeriodSeconds, out.Settings.GracePeriodSeconds)

	assert.Equal(t, 2, exam.Questions[0].OrderNum, "input is not mutated")
	assert.Len(t, exam.Questions[1].Options, 12)
}

func TestNormalizeRejectsUnusableExams(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, ErrInvalidExam)

	_, err = Normalize(&model.Exam{DurationMinutes: 10})
	assert.ErrorIs(t, err, ErrInvalidExam)

	_, err = Normalize(testExamWithDuration(0))
	assert.ErrorIs(t, err, ErrInvalidExam)
}

func testExamWithDuration(minutes int) *model.Exam {
	e := testExam(model.ExamSettings{}, false, 1)
	e.DurationMinutes = minutes
	return e
}

func TestPracticeExamDisablesProctoring(t *testing.T) {
	settings := proctoredSettings()
	settings.ShowResults = false

	eff := settings.Effective(true)
	assert.False(t, eff.FullscreenRequired)
	assert.False(t, eff.WebcamRequired)
	assert.False(t, eff.EnforceScreensharing)
	assert.True(t, eff.ShowResults)
	assert.True(t, eff.AutoSubmitOnTimeUp)

	p := PolicyFor(settings, true, time.Minute)
	assert.Equal(t, Policy{GracePeriodSeconds: model.DefaultGracePeriodSeconds}, p)
	assert.Equal(t, Requirements{}, RequirementsFor(settings, true))
}

func TestEntryStepSkipsConsentForPractice(t *testing.T) {
	assert.Equal(t, model.EntryStepAttempt, EntryStepFor(testExam(proctoredSettings(), true, 1)))
	assert.Equal(t, model.EntryStepConsent, EntryStepFor(testExam(proctoredSettings(), false, 1)))
}
