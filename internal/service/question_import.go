package service

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

var optionLabels = []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}

var questionHeaders = func() map[string][]string {
	h := map[string][]string{
		"prompt":         {"question", "question text", "text", "soal", "pertanyaan"},
		"type":           {"question type", "tipe", "jenis"},
		"correct":        {"correct option", "correct answer", "answer", "key", "kunci", "kunci jawaban"},
		"marks":          {"mark", "score", "points", "nilai", "bobot"},
		"negative_marks": {"negative", "negative mark", "penalty", "minus"},
		"difficulty":     {"level", "kesulitan"},
		"explanation":    {"pembahasan", "solution"},
	}
	for _, l := range optionLabels {
		lower := strings.ToLower(l)
		h["option_"+lower] = []string{"option " + lower, "opsi " + lower, "pilihan " + lower, lower}
	}
	return h
}()

var questionTypeAliases = map[string]model.QuestionType{
	"single choice":       model.QuestionTypeSingleChoiceText,
	"single choice text":  model.QuestionTypeSingleChoiceText,
	"multiple choice":     model.QuestionTypeSingleChoiceText,
	"mcq":                 model.QuestionTypeSingleChoiceText,
	"pg":                  model.QuestionTypeSingleChoiceText,
	"pilihan ganda":       model.QuestionTypeSingleChoiceText,
	"single choice image": model.QuestionTypeSingleChoiceImage,
	"image":               model.QuestionTypeSingleChoiceImage,
	"short text":          model.QuestionTypeShortText,
	"short":               model.QuestionTypeShortText,
	"isian":               model.QuestionTypeShortText,
	"long text":           model.QuestionTypeLongText,
	"essay":               model.QuestionTypeLongText,
	"esai":                model.QuestionTypeLongText,
	"uraian":              model.QuestionTypeLongText,
}

// ParseQuestionSheet reads a question workbook into inputs, one per
// non-blank data row. Rows that fail validation are reported by row number
// and left out.
func ParseQuestionSheet(r io.Reader) ([]model.QuestionInput, map[string]string, error) {
	t, err := readSheet(r, questionHeaders)
	if err != nil {
		return nil, nil, err
	}
	if !t.has("prompt") {
		return nil, nil, fmt.Errorf("%w: missing question column", ErrInvalidSheet)
	}

	v := validator.New()
	var inputs []model.QuestionInput
	rowErrors := make(map[string]string)

	for i, row := range t.rows {
		if blankRow(row) {
			continue
		}
		rowKey := "row " + strconv.Itoa(i+2)

		in, err := questionFromRow(t, row)
		if err != nil {
			rowErrors[rowKey] = err.Error()
			continue
		}
		if err := v.Struct(in); err != nil {
			for field, msg := range validator.TranslateErrors(err) {
				rowErrors[rowKey] = field + ": " + msg
				break
			}
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, rowErrors, nil
}

func questionFromRow(t *sheetTable, row []string) (model.QuestionInput, error) {
	in := model.QuestionInput{
		Prompt:        t.cell(row, "prompt"),
		CorrectOption: strings.ToUpper(t.cell(row, "correct")),
		Difficulty:    model.Difficulty(strings.ToUpper(t.cell(row, "difficulty"))),
		Explanation:   t.cell(row, "explanation"),
		Marks:         1,
	}

	for _, l := range optionLabels {
		val := t.cell(row, "option_"+strings.ToLower(l))
		if val == "" {
			continue
		}
		in.Options = append(in.Options, model.Option{Label: l, Text: val})
	}

	in.Type = parseQuestionType(t.cell(row, "type"), len(in.Options) > 0)
	if in.Type == model.QuestionTypeSingleChoiceImage {
		for i := range in.Options {
			in.Options[i].ImageURL = in.Options[i].Text
			in.Options[i].Text = ""
		}
	}
	if !in.Type.IsChoice() {
		in.Options = nil
		in.CorrectOption = ""
	}

	if raw := t.cell(row, "marks"); raw != "" {
		m, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			return in, fmt.Errorf("marks %q is not a number", raw)
		}
		in.Marks = m
	}
	if raw := t.cell(row, "negative_marks"); raw != "" {
		m, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			return in, fmt.Errorf("negative marks %q is not a number", raw)
		}
		in.NegativeMarks = m
	}
	return in, nil
}

func parseQuestionType(raw string, hasOptions bool) model.QuestionType {
	if raw != "" {
		upper := model.QuestionType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")))
		switch upper {
		case model.QuestionTypeSingleChoiceText, model.QuestionTypeSingleChoiceImage,
			model.QuestionTypeShortText, model.QuestionTypeLongText:
			return upper
		}
		if t, ok := questionTypeAliases[normalizeHeader(raw)]; ok {
			return t
		}
	}
	if hasOptions {
		return model.QuestionTypeSingleChoiceText
	}
	return model.QuestionTypeShortText
}
