//go:build integration

package statements

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/arstatement/internal/platform/db/dbtest"
)

func finalStatement(runID, periodID, profileID int64) Statement {
	return Statement{
		TenantID: 1, RunID: runID, PeriodID: periodID, ProfileID: profileID, AccountID: profileID * 10,
		PeriodStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		CutoffDate:  time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2024, 4, 17, 0, 0, 0, 0, time.UTC),
		OpeningBalance: decimal.Zero, TotalDebits: decimal.NewFromInt(10), TotalCredits: decimal.Zero,
		ClosingBalance: decimal.NewFromInt(10), TransactionCount: 1,
		Profile:  ProfileSnapshot{DisplayName: fmt.Sprintf("Member %d", profileID), AccountNumber: fmt.Sprintf("M-%d", profileID)},
		Delivery: NewDelivery(),
	}
}

func TestInsertNumberedConcurrentWritersGetDistinctNumbers(t *testing.T) {
	pool := dbtest.Pool(t)
	repo := NewRepository(pool)
	periodID := dbtest.SeedPeriod(t, pool, 1)
	runID := dbtest.SeedRun(t, pool, 1, periodID, "FINAL", 1)
	prefix := NumberPrefix(2024, 3)
	ctx := context.Background()

	const writers = 12
	numbers := make([]string, writers)
	errs := dbtest.Race(writers, func(i int) error {
		st, err := repo.InsertNumbered(ctx, finalStatement(runID, periodID, int64(i+1)), prefix)
		if err == nil {
			numbers[i] = *st.StatementNumber
		}
		return err
	})
	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Strings(numbers)
	for i, n := range numbers {
		require.Equal(t, FormatNumber(prefix, int64(i+1)), n)
	}
}

func TestInsertNumberedContinuesPastSixDigits(t *testing.T) {
	pool := dbtest.Pool(t)
	repo := NewRepository(pool)
	periodID := dbtest.SeedPeriod(t, pool, 1)
	runID := dbtest.SeedRun(t, pool, 1, periodID, "FINAL", 1)
	prefix := NumberPrefix(2024, 3)
	ctx := context.Background()

	first, err := repo.InsertNumbered(ctx, finalStatement(runID, periodID, 1), prefix)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE statements SET number_seq = 999999, statement_number = $2 WHERE id = $1`,
		first.ID, FormatNumber(prefix, 999999))
	require.NoError(t, err)

	second, err := repo.InsertNumbered(ctx, finalStatement(runID, periodID, 2), prefix)
	require.NoError(t, err)
	require.Equal(t, "STMT-24-03-1000000", *second.StatementNumber)

	third, err := repo.InsertNumbered(ctx, finalStatement(runID, periodID, 3), prefix)
	require.NoError(t, err)
	require.Equal(t, "STMT-24-03-1000001", *third.StatementNumber)
}
