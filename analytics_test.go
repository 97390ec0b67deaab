package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Run("perCategoryTotals", func(t *testing.T) {
		fp := &FileProgress{Rows: []Txn{
			{Amount: -42.10, Category: "Groceries"},
			{Amount: -12.90, Category: "Groceries"},
			{Amount: 2500, Category: "Income"},
			{Amount: -5},
		}}
		s := summarize(fp)

		require.Equal(t, 4, s.TotalRows)
		require.Equal(t, 1, s.Uncategorized)
		require.Equal(t, CategoryStat{Count: 2, Total: -55.0}, s.PerCategory["Groceries"])
		require.Equal(t, CategoryStat{Count: 1, Total: 2500.0}, s.PerCategory["Income"])
	})

	t.Run("emptySnapshot", func(t *testing.T) {
		s := summarize(&FileProgress{})
		require.Zero(t, s.TotalRows)
		require.Zero(t, s.Uncategorized)
		require.Empty(t, s.PerCategory)
	})

	t.Run("countsSumToTotal", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.CreateOrReset("jan.csv", testRows(4))
		require.NoError(t, err)
		for i, cat := range []string{"Food", "Food", "Transport", "Income"} {
			require.NoError(t, store.UpdateRow("jan.csv", i, cat))
		}

		fp, err := store.Get("jan.csv")
		require.NoError(t, err)
		s := summarize(fp)
		require.Zero(t, s.Uncategorized)
		var counted int
		for _, stat := range s.PerCategory {
			counted += stat.Count
		}
		require.Equal(t, s.TotalRows, counted)
	})
}
