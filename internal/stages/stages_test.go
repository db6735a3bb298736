package stages_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/stages"
)

func TestDefaultOrder(t *testing.T) {
	r := stages.Default()
	codes := []string{}
	for _, s := range r.Stages() {
		codes = append(codes, s.Code)
	}
	assert.Equal(t, []string{"INTAKE", "TREASURY", "REVIEW", "TAX", "REGISTRY_1", "REGISTRY_2", "NATIONAL_ID", "RELEASE"}, codes)
	assert.Equal(t, "INTAKE", r.First().Code)
	assert.Equal(t, "RELEASE", r.Terminal().Code)
	assert.True(t, r.IsTerminal("RELEASE"))
	assert.False(t, r.IsTerminal("TAX"))

	next, ok := r.Next("TREASURY")
	require.True(t, ok)
	assert.Equal(t, "REVIEW", next.Code)
	_, ok = r.Next("RELEASE")
	assert.False(t, ok)
}

func TestStageForUnknown(t *testing.T) {
	r := stages.Default()
	_, err := r.StageFor("ARCHIVE")
	require.ErrorIs(t, err, stages.ErrStageNotFound)
	assert.Equal(t, -1, r.Index("ARCHIVE"))
}

func TestPermissions(t *testing.T) {
	r := stages.Default()
	assert.True(t, r.CanEdit("treasury_agent", "TREASURY"))
	assert.False(t, r.CanEdit("treasury_agent", "REVIEW"))
	assert.False(t, r.CanEdit("", "TREASURY"))
	for _, s := range r.Stages() {
		assert.True(t, r.CanEdit("admin", s.Code), "override edits %s", s.Code)
	}
	assert.True(t, r.CanView("treasury_agent", "REVIEW"))
	assert.True(t, r.CanView("", "REVIEW"))
	assert.True(t, r.CanView("treasury_agent", "NOPE"))
	assert.True(t, r.CanForceTransition("admin"))
	assert.False(t, r.CanForceTransition("review_agent"))
	assert.False(t, r.CanForceTransition(""))

	st, ok := r.StageForRole("tax_agent")
	require.True(t, ok)
	assert.Equal(t, "TAX", st.Code)
}

func TestNewValidation(t *testing.T) {
	cases := map[string]struct {
		defs     []stages.Definition
		override string
	}{
		"empty":         {nil, "admin"},
		"no override":   {[]stages.Definition{{Code: "A", Role: "a"}}, ""},
		"duplicate":     {[]stages.Definition{{Code: "A", Role: "a"}, {Code: "A", Role: "b"}}, "admin"},
		"shared role":   {[]stages.Definition{{Code: "A", Role: "a"}, {Code: "B", Role: "a"}}, "admin"},
		"override role": {[]stages.Definition{{Code: "A", Role: "admin"}}, "admin"},
		"bad action":    {[]stages.Definition{{Code: "A", Role: "a", Actions: []string{"approve"}}}, "admin"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := stages.New(tc.defs, tc.override)
			assert.Error(t, err)
		})
	}
}

func TestPermitsRestrictedActions(t *testing.T) {
	r, err := stages.New([]stages.Definition{
		{Code: "A", Role: "a"},
		{Code: "B", Role: "b", Actions: []string{stages.ActionAccept}},
	}, "boss")
	require.NoError(t, err)
	assert.True(t, r.Permits("A", stages.ActionRequestInfo))
	assert.True(t, r.Permits("B", stages.ActionAccept))
	assert.False(t, r.Permits("B", stages.ActionReject))
	assert.False(t, r.Permits("C", stages.ActionAccept))
}
