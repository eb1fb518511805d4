package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestBuildQuestionsNormalizes(t *testing.T) {
	examID := uuid.New()
	questions, total, err := BuildQuestions(examID, []model.QuestionInput{
		{
			Type:   model.QuestionTypeSingleChoiceText,
			Prompt: "Ibukota Jawa Barat?",
			Options: []model.Option{
				{Label: " a ", Text: "Bandung"},
				{Label: "b", Text: "Bogor"},
			},
			CorrectOption: "a",
			Marks:         3,
		},
		{
			Type:    model.QuestionTypeShortText,
			Prompt:  "Sebutkan satu provinsi.",
			Options: []model.Option{{Label: "A", Text: "ignored"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, questions, 2)

	assert.Equal(t, 4.0, total)
	assert.Equal(t, "A", questions[0].CorrectOption)
	assert.Equal(t, "A", questions[0].Options[0].Label)
	assert.Equal(t, examID, questions[0].ExamID)
	assert.Equal(t, 1, questions[0].OrderNum)
	assert.Equal(t, 2, questions[1].OrderNum)
	assert.Nil(t, questions[1].Options)
	assert.Equal(t, 1.0, questions[1].Marks)
	assert.NotEqual(t, questions[0].ID, questions[1].ID)
}

func TestBuildQuestionsRejectsBrokenChoices(t *testing.T) {
	cases := map[string]model.QuestionInput{
		"single option": {
			Type: model.QuestionTypeSingleChoiceText, Prompt: "x",
			Options: []model.Option{{Label: "A", Text: "1"}}, CorrectOption: "A",
		},
		"unknown correct": {
			Type: model.QuestionTypeSingleChoiceText, Prompt: "x",
			Options: []model.Option{{Label: "A", Text: "1"}, {Label: "B", Text: "2"}}, CorrectOption: "C",
		},
		"duplicate label": {
			Type: model.QuestionTypeSingleChoiceImage, Prompt: "x",
			Options: []model.Option{{Label: "A", ImageURL: "/a.png"}, {Label: "a", ImageURL: "/b.png"}}, CorrectOption: "A",
		},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := BuildQuestions(uuid.New(), []model.QuestionInput{in})
			assert.ErrorIs(t, err, ErrInvalidQuestion)
		})
	}
}

func TestBuildQuestionsRequiresQuestions(t *testing.T) {
	_, _, err := BuildQuestions(uuid.New(), nil)
	assert.ErrorIs(t, err, ErrNoQuestions)
}
