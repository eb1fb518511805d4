package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestViolationTypeRule(t *testing.T) {
	v := New()

	ok := model.LogViolationRequest{Type: model.ViolationTabSwitch}
	assert.NoError(t, v.Struct(ok))

	bad := model.LogViolationRequest{Type: "teleport"}
	err := v.Struct(bad)
	require.Error(t, err)
	fields := TranslateErrors(err)
	assert.Contains(t, fields, "type")
}

func TestOptionLabelRule(t *testing.T) {
	v := New()

	assert.NoError(t, v.Struct(model.Option{Label: "A", Text: "x"}))
	err := v.Struct(model.Option{Label: "not a label", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, "label must be a short alphanumeric label", TranslateErrors(err)["label"])
}
