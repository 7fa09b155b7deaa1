package checklist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

func TestDefaultTemplateCoversAllPhases(t *testing.T) {
	tpl := DefaultTemplate()
	require.Len(t, tpl.Steps, 19)

	phases := map[Phase]int{}
	keys := map[string]bool{}
	for _, s := range tpl.Steps {
		phases[s.Phase]++
		require.False(t, keys[s.Key], "duplicate key %s", s.Key)
		keys[s.Key] = true
	}
	require.Len(t, phases, 8)
	for _, key := range NewDefaultRegistry(nil, CheckOptions{}).Keys() {
		require.True(t, keys[key], "registered check %s has no default step", key)
	}
	require.True(t, keys[FinalRunStepKey])

	steps := tpl.Instantiate()
	require.Equal(t, 1, steps[0].SortOrder)
	require.Equal(t, 19, steps[18].SortOrder)
	for _, s := range steps {
		require.Equal(t, StepPending, s.Status)
	}
}

func TestParseTemplateAcceptsJSONList(t *testing.T) {
	tpl, err := ParseTemplate([]byte(`[` +
		`{"key":"member_audit","phase":"pre_close","label":"Member audit","enforcement":"required","verification":"manual"},` +
		`{"key":"no_orphan_payments","phase":"PRE_CLOSE","label":"Orphans","enforcement":"REQUIRED","verification":"AUTO"}]`))
	require.NoError(t, err)
	require.Len(t, tpl.Steps, 2)
	require.Equal(t, PhasePreClose, tpl.Steps[0].Phase)
	require.Equal(t, VerificationManual, tpl.Steps[0].Verification)
}

func TestParseTemplateRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown phase": `{"steps":[{"key":"a","phase":"AUDIT","label":"A","enforcement":"REQUIRED","verification":"MANUAL"}]}`,
		"duplicate key": `{"steps":[` +
			`{"key":"a","phase":"TAX","label":"A","enforcement":"REQUIRED","verification":"MANUAL"},` +
			`{"key":"a","phase":"TAX","label":"B","enforcement":"OPTIONAL","verification":"MANUAL"}]}`,
		"missing label": `{"steps":[{"key":"a","phase":"TAX","enforcement":"REQUIRED","verification":"MANUAL"}]}`,
		"no steps":      `{"steps":[]}`,
		"not yaml":      `steps: [`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTemplate([]byte(raw))
			require.ErrorIs(t, err, ErrInvalidTemplate)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}
