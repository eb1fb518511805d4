package service

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func workbook(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseQuestionSheetHeaderAliases(t *testing.T) {
	buf := workbook(t,
		[]interface{}{"Question Text", "Question_Type", "Option A", "opsi b", "C", "Kunci Jawaban", "Bobot"},
		[]interface{}{"2 + 2 = ?", "multiple choice", "3", "4", "5", "b", "2"},
		[]interface{}{"Jelaskan fotosintesis", "essay", "", "", "", "", ""},
		[]interface{}{},
	)

	inputs, rowErrors, err := ParseQuestionSheet(buf)
	require.NoError(t, err)
	assert.Empty(t, rowErrors)
	require.Len(t, inputs, 2)

	mc := inputs[0]
	assert.Equal(t, model.QuestionTypeSingleChoiceText, mc.Type)
	assert.Equal(t, "B", mc.CorrectOption)
	assert.Equal(t, 2.0, mc.Marks)
	require.Len(t, mc.Options, 3)
	assert.Equal(t, model.Option{Label: "B", Text: "4"}, mc.Options[1])

	essay := inputs[1]
	assert.Equal(t, model.QuestionTypeLongText, essay.Type)
	assert.Nil(t, essay.Options)
	assert.Equal(t, 1.0, essay.Marks)
}

func TestParseQuestionSheetReportsBadRows(t *testing.T) {
	buf := workbook(t,
		[]interface{}{"soal", "nilai"},
		[]interface{}{"Ibukota Indonesia?", "dua"},
		[]interface{}{"Sebutkan sila pertama", "3"},
	)

	inputs, rowErrors, err := ParseQuestionSheet(buf)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, model.QuestionTypeShortText, inputs[0].Type)
	assert.Contains(t, rowErrors, "row 2")
}

func TestParseQuestionSheetRequiresPromptColumn(t *testing.T) {
	buf := workbook(t,
		[]interface{}{"foo", "bar"},
		[]interface{}{"x", "y"},
	)

	_, _, err := ParseQuestionSheet(buf)
	assert.ErrorIs(t, err, ErrInvalidSheet)
}
