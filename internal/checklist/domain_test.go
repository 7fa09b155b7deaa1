package checklist

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func stepsWith(statuses ...StepStatus) []Step {
	steps := make([]Step, len(statuses))
	for i, s := range statuses {
		steps[i] = Step{ID: int64(i + 1), Label: string(rune('A' + i)), Status: s, Enforcement: EnforcementRequired}
	}
	return steps
}

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusNotStarted, DeriveStatus(stepsWith(StepPending, StepFailed)))
	require.Equal(t, StatusInProgress, DeriveStatus(stepsWith(StepSkipped, StepFailed)))
	require.Equal(t, StatusCompleted, DeriveStatus(stepsWith(StepPassed, StepSignedOff, StepSkipped)))
}

func TestDeriveStatusIgnoresCompletionOrder(t *testing.T) {
	all := []StepStatus{StepPending, StepPassed, StepFailed, StepSkipped, StepSignedOff}
	rng := rand.New(rand.NewPCG(7, 11))
	for range 200 {
		n := 1 + rng.IntN(12)
		statuses := make([]StepStatus, n)
		for i := range statuses {
			statuses[i] = all[rng.IntN(len(all))]
		}
		want := DeriveStatus(stepsWith(statuses...))

		// Replay the same final statuses in a shuffled order, recomputing after each step.
		c := Checklist{Status: StatusNotStarted, Steps: stepsWith(make([]StepStatus, n)...)}
		for i := range c.Steps {
			c.Steps[i].Status = StepPending
		}
		at := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		for _, i := range rng.Perm(n) {
			c.Steps[i].Status = statuses[i]
			c.recompute(at)
		}
		require.Equal(t, want, c.Status)
	}
}

func TestRecomputeTimestamps(t *testing.T) {
	t1 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	c := Checklist{Status: StatusNotStarted, Steps: stepsWith(StepPending, StepPending)}

	require.False(t, c.recompute(t1))

	c.Steps[0].Status = StepSignedOff
	require.True(t, c.recompute(t1))
	require.Equal(t, StatusInProgress, c.Status)
	require.Equal(t, t1, *c.StartedAt)

	c.Steps[1].Status = StepPassed
	require.True(t, c.recompute(t2))
	require.Equal(t, StatusCompleted, c.Status)
	require.Equal(t, t1, *c.StartedAt)
	require.Equal(t, t2, *c.CompletedAt)

	c.Steps[1].Status = StepFailed
	require.True(t, c.recompute(t2))
	require.Equal(t, StatusInProgress, c.Status)
	require.Nil(t, c.CompletedAt)
}

func TestRecomputeNeverReturnsToNotStarted(t *testing.T) {
	t1 := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	c := Checklist{Status: StatusNotStarted, Steps: stepsWith(StepPending, StepPending)}

	c.Steps[0].Status = StepPassed
	require.True(t, c.recompute(t1))
	require.Equal(t, StatusInProgress, c.Status)

	c.Steps[0].Status = StepFailed
	require.Equal(t, StatusNotStarted, DeriveStatus(c.Steps))
	require.False(t, c.recompute(t1.Add(time.Hour)))
	require.Equal(t, StatusInProgress, c.Status)
	require.Equal(t, t1, *c.StartedAt)

	c.Steps[0].Status = StepPassed
	c.Steps[1].Status = StepSkipped
	require.True(t, c.recompute(t1.Add(2*time.Hour)))
	require.Equal(t, StatusCompleted, c.Status)
}

func TestEvaluateBlocksOnRequiredSteps(t *testing.T) {
	steps := stepsWith(StepPassed, StepSkipped, StepFailed, StepSignedOff)
	steps[1].Enforcement = EnforcementRequired
	steps = append(steps, Step{ID: 9, Label: "opt", Status: StepPending, Enforcement: EnforcementOptional})

	e := Evaluate(steps)
	require.False(t, e.CanClose)
	require.Equal(t, []string{"B", "C"}, e.BlockingSteps)
	require.Equal(t, 2, e.CompletedRequired)
	require.Equal(t, 4, e.TotalRequired)

	e = Evaluate(stepsWith(StepPassed, StepSignedOff))
	require.True(t, e.CanClose)
	require.Empty(t, e.BlockingSteps)
}
