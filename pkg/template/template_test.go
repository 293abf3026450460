package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/types"
)

func greetingTemplate() *types.Template {
	return &types.Template{
		ID:   "tpl-1",
		Name: "greeting",
		Kind: types.TemplateKindAgent,
		Body: "Hello {{ name }}, you have {{count}} messages. {{unknown}}",
		Parameters: map[string]string{
			"name":  "string",
			"count": "number",
		},
		Required: []string{"name"},
	}
}

func TestRenderSubstitutesParams(t *testing.T) {
	out, err := Render(greetingTemplate(), map[string]any{"name": "ana", "count": 3})
	require.NoError(t, err)
	assert.Equal(t, "Hello ana, you have 3 messages. {{unknown}}", out)
}

func TestRenderIsPure(t *testing.T) {
	tpl := greetingTemplate()
	params := map[string]any{"name": "ana", "count": 3}
	first, err := Render(tpl, params)
	require.NoError(t, err)
	second, err := Render(tpl, params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderMissingRequired(t *testing.T) {
	_, err := Render(greetingTemplate(), map[string]any{"count": 1})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrBadInput))
	assert.Contains(t, err.Error(), `missing required parameter "name"`)
}

func TestRenderTypeMismatch(t *testing.T) {
	_, err := Render(greetingTemplate(), map[string]any{"name": "ana", "count": "three"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parameter "count"`)
}

func TestValidateParamsUndeclaredParamIgnored(t *testing.T) {
	err := ValidateParams(greetingTemplate(), map[string]any{"name": "ana", "extra": 42})
	assert.NoError(t, err)
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("{{b}} and {{ a }} and {{b}}")
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestRenderNilTemplate(t *testing.T) {
	_, err := Render(nil, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrBadInput))
}
