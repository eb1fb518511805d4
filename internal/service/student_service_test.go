package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStudentSheet(t *testing.T) {
	buf := workbook(t,
		[]interface{}{"NISN", "Nama Siswa", "Kata Sandi"},
		[]interface{}{"0051234567", "Ani Lestari", "rahasia1"},
		[]interface{}{"0051234568", "Budi", ""},
		[]interface{}{"0051234567", "Ani Kembar", "rahasia2"},
		[]interface{}{"12", "X", "pw"},
	)

	reqs, rowErrors, err := ParseStudentSheet(buf)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, "Ani Lestari", reqs[0].Name)
	assert.Equal(t, "rahasia1", reqs[0].Password)
	assert.Equal(t, "0051234568", reqs[1].Password, "NISN is the fallback password")

	assert.Contains(t, rowErrors["row 4"], "duplicate")
	assert.Contains(t, rowErrors, "row 5")
}

func TestParseStudentSheetNeedsColumns(t *testing.T) {
	buf := workbook(t,
		[]interface{}{"Nama"},
		[]interface{}{"Ani"},
	)

	_, _, err := ParseStudentSheet(buf)
	assert.ErrorIs(t, err, ErrInvalidSheet)
}
