//go:build integration

package checklist

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/arstatement/internal/platform/db/dbtest"
)

func TestConcurrentLastSignOffsCompleteChecklist(t *testing.T) {
	pool := dbtest.Pool(t)
	repo := NewRepository(pool)
	periodID := dbtest.SeedPeriod(t, pool, 1)
	ctx := context.Background()

	const steps = 4
	c := Checklist{TenantID: 1, PeriodID: periodID, Status: StatusNotStarted, CreatedAt: time.Now().UTC()}
	for i := 0; i < steps; i++ {
		c.Steps = append(c.Steps, Step{
			Key: fmt.Sprintf("manual_%d", i), Phase: PhaseClose, Label: fmt.Sprintf("Manual %d", i),
			Enforcement: EnforcementRequired, Verification: VerificationManual, Status: StepPending, SortOrder: i,
		})
	}
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		c, err = tx.Insert(ctx, c)
		return err
	}))

	svc := NewService(repo, nil, nil, nil, nil)
	errs := dbtest.Race(steps, func(i int) error {
		_, err := svc.SignOffStep(ctx, SignOffInput{TenantID: 1, StepID: c.Steps[i].ID, ActorID: int64(10 + i)})
		return err
	})
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := repo.Get(ctx, 1, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	for _, s := range got.Steps {
		require.Equal(t, StepSignedOff, s.Status)
	}
}
