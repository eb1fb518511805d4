package proctor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Normalize returns a cleaned copy of an exam for the attempt's lifetime:
// questions ordered, option labels trimmed and upper-cased, choices clamped
// to model.MaxOptions, marks defaulted, and settings made effective.
func Normalize(exam *model.Exam) (*model.Exam, error) {
	if exam == nil {
		return nil, fmt.Errorf("%w: missing exam", ErrInvalidExam)
	}
	if exam.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidExam)
	}
	if len(exam.Questions) == 0 {
		return nil, fmt.Errorf("%w: exam has no questions", ErrInvalidExam)
	}

	out := *exam
	out.Settings = exam.Settings.Effective(exam.IsPractice)
	out.Questions = make([]model.Question, len(exam.Questions))
	copy(out.Questions, exam.Questions)

	sort.SliceStable(out.Questions, func(i, j int) bool {
		return out.Questions[i].OrderNum < out.Questions[j].OrderNum
	})

	var total float64
	for i := range out.Questions {
		q := &out.Questions[i]
		q.OrderNum = i + 1
		if q.Marks <= 0 {
			q.Marks = 1
		}
		if q.NegativeMarks < 0 {
			q.NegativeMarks = 0
		}
		if q.Type.IsChoice() {
			q.Options = normalizeOptions(q.Options)
			q.CorrectOption = normalizeLabel(q.CorrectOption)
		} else {
			q.Options = nil
			q.CorrectOption = ""
		}
		total += q.Marks
	}
	if out.TotalMarks <= 0 {
		out.TotalMarks = total
	}
	return &out, nil
}

func normalizeOptions(in []model.Option) []model.Option {
	if len(in) > model.MaxOptions {
		in = in[:model.MaxOptions]
	}
	out := make([]model.Option, 0, len(in))
	for i, o := range in {
		o.Label = normalizeLabel(o.Label)
		if o.Label == "" {
			o.Label = string(rune('A' + i))
		}
		o.Text = strings.TrimSpace(o.Text)
		o.ImageURL = strings.TrimSpace(o.ImageURL)
		out = append(out, o)
	}
	return out
}

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// EntryStepFor returns where a student goes once an exam is unlocked.
// Practice exams skip the consent page.
func EntryStepFor(exam *model.Exam) model.EntryStep {
	if exam.IsPractice {
		return model.EntryStepAttempt
	}
	return model.EntryStepConsent
}
