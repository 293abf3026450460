package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentmesh/pkg/types"
)

func TestTemplateCreateAssignsVersionChain(t *testing.T) {
	s := NewTemplateStore()

	v1, err := s.Create(&types.Template{
		Name: "support-agent",
		Kind: types.TemplateKindAgent,
		Body: "You help with {{topic}}.",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v1.Version)

	v2, err := s.Create(&types.Template{
		Name: "support-agent",
		Kind: types.TemplateKindAgent,
		Body: "You help politely with {{topic}}.",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", v2.Version)

	latest, err := s.Latest("support-agent")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)
}

func TestTemplateCreateValidation(t *testing.T) {
	s := NewTemplateStore()

	_, err := s.Create(&types.Template{Name: "x", Kind: types.TemplateKindAgent})
	assert.True(t, types.IsKind(err, types.ErrBadInput))

	_, err = s.Create(&types.Template{Name: "x", Kind: "poem", Body: "hi"})
	assert.True(t, types.IsKind(err, types.ErrBadInput))
}

func TestTemplateDeleteTrimsChain(t *testing.T) {
	s := NewTemplateStore()

	v1, err := s.Create(&types.Template{Name: "tpl", Kind: types.TemplateKindAgent, Body: "a"})
	require.NoError(t, err)
	v2, err := s.Create(&types.Template{Name: "tpl", Kind: types.TemplateKindAgent, Body: "b"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(v2.ID))
	latest, err := s.Latest("tpl")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, latest.ID)

	require.NoError(t, s.Delete(v1.ID))
	_, err = s.Latest("tpl")
	assert.True(t, types.IsKind(err, types.ErrNotFound))
}

func TestTemplateListOrderedByName(t *testing.T) {
	s := NewTemplateStore()
	_, err := s.Create(&types.Template{Name: "zeta", Kind: types.TemplateKindTool, Body: "z"})
	require.NoError(t, err)
	_, err = s.Create(&types.Template{Name: "alpha", Kind: types.TemplateKindAgent, Body: "a"})
	require.NoError(t, err)

	out := s.List()
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].Name)
}
