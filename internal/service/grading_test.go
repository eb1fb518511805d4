package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func gradingQuestions() (q1, q2, q3 model.Question) {
	q1 = model.Question{ID: uuid.New(), Type: model.QuestionTypeSingleChoiceText, CorrectOption: "B", Marks: 2, NegativeMarks: 0.5}
	q2 = model.Question{ID: uuid.New(), Type: model.QuestionTypeSingleChoiceImage, CorrectOption: "A", Marks: 2, NegativeMarks: 1}
	q3 = model.Question{ID: uuid.New(), Type: model.QuestionTypeLongText, Marks: 6}
	return
}

func TestGradeAnswersLinearSum(t *testing.T) {
	q1, q2, q3 := gradingQuestions()
	sheet := NewScoringSheet([]model.Question{q1, q2, q3})

	g := GradeAnswers(sheet, []model.Answer{
		{QuestionID: q1.ID, Value: "b"},
		{QuestionID: q2.ID, Value: "C"},
		{QuestionID: q3.ID, Value: "an essay"},
	}, 1)

	assert.Equal(t, 10.0, g.TotalMarks)
	assert.Equal(t, 1.0, g.Score)
	assert.Equal(t, 10.0, g.Percentage)
	assert.True(t, g.Passed)

	require.NotNil(t, g.Outcomes[q1.ID].Correct)
	assert.True(t, *g.Outcomes[q1.ID].Correct)
	assert.Equal(t, 2.0, *g.Outcomes[q1.ID].Awarded)

	assert.False(t, *g.Outcomes[q2.ID].Correct)
	assert.Equal(t, -1.0, *g.Outcomes[q2.ID].Awarded)

	assert.Nil(t, g.Outcomes[q3.ID].Correct, "free text waits for review")
	assert.Nil(t, g.Outcomes[q3.ID].Awarded)
}

func TestGradeAnswersBlankIsNotPenalized(t *testing.T) {
	q1, q2, _ := gradingQuestions()
	sheet := NewScoringSheet([]model.Question{q1, q2})

	g := GradeAnswers(sheet, []model.Answer{{QuestionID: q1.ID, Value: " "}}, 0)

	assert.Equal(t, 0.0, g.Score)
	assert.Equal(t, 0.0, *g.Outcomes[q1.ID].Awarded)
	assert.Equal(t, 0.0, *g.Outcomes[q2.ID].Awarded)
}

func TestGradeAnswersFloorsAtZero(t *testing.T) {
	q1, q2, _ := gradingQuestions()
	sheet := NewScoringSheet([]model.Question{q1, q2})

	g := GradeAnswers(sheet, []model.Answer{
		{QuestionID: q1.ID, Value: "A"},
		{QuestionID: q2.ID, Value: "B"},
	}, 2)

	assert.Equal(t, 0.0, g.Score)
	assert.Equal(t, 0.0, g.Percentage)
	assert.False(t, g.Passed)
}
