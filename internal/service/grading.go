package service

import (
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ScoringEntry is the grading record of one question, cached per exam.
type ScoringEntry struct {
	Type          model.QuestionType `json:"t"`
	Correct       string             `json:"c,omitempty"`
	Marks         float64            `json:"m"`
	NegativeMarks float64            `json:"n,omitempty"`
}

// ScoringSheet maps question ids to their grading records.
type ScoringSheet map[uuid.UUID]ScoringEntry

// NewScoringSheet builds a sheet from an exam's questions.
func NewScoringSheet(questions []model.Question) ScoringSheet {
	sheet := make(ScoringSheet, len(questions))
	for _, q := range questions {
		sheet[q.ID] = ScoringEntry{
			Type:          q.Type,
			Correct:       q.CorrectOption,
			Marks:         q.Marks,
			NegativeMarks: q.NegativeMarks,
		}
	}
	return sheet
}

// Outcome is the graded result of one answer. Nil fields mean the answer
// awaits manual review.
type Outcome struct {
	Correct *bool
	Awarded *float64
}

// Grade is the result of scoring an attempt.
type Grade struct {
	Score      float64
	TotalMarks float64
	Percentage float64
	Passed     bool
	Outcomes   map[uuid.UUID]Outcome
}

// GradeAnswers scores answers against a sheet. Correct choices earn their
// marks, wrong non-empty choices lose their negative marks, blanks score zero
// and free-text answers are left for manual review. The score never drops
// below zero.
func GradeAnswers(sheet ScoringSheet, answers []model.Answer, passingMarks float64) Grade {
	g := Grade{Outcomes: make(map[uuid.UUID]Outcome, len(sheet))}

	for _, entry := range sheet {
		g.TotalMarks += entry.Marks
	}

	given := make(map[uuid.UUID]string, len(answers))
	for _, a := range answers {
		given[a.QuestionID] = strings.TrimSpace(a.Value)
	}

	var score float64
	for qid, entry := range sheet {
		if !entry.Type.IsChoice() {
			g.Outcomes[qid] = Outcome{}
			continue
		}

		value := given[qid]
		correct := value != "" && strings.EqualFold(value, entry.Correct)
		var awarded float64
		switch {
		case correct:
			awarded = entry.Marks
		case value != "":
			awarded = -entry.NegativeMarks
		}
		score += awarded
		g.Outcomes[qid] = Outcome{Correct: &correct, Awarded: &awarded}
	}

	g.Score = math.Max(score, 0)
	if g.TotalMarks > 0 {
		g.Percentage = math.Round(g.Score/g.TotalMarks*10000) / 100
	}
	g.Passed = g.Score >= passingMarks
	return g
}
