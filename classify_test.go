package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func trainingHistory() []HistoricalExample {
	return []HistoricalExample{
		{Desc: "STARBUCKS COFFEE 991", Category: "Food"},
		{Desc: "STARBUCKS COFFEE 423", Category: "Food"},
		{Desc: "BLUE BOTTLE COFFEE", Category: "Food"},
		{Desc: "LYFT *RIDE TUE", Category: "Transport"},
		{Desc: "LYFT *RIDE FRI", Category: "Transport"},
		{Desc: "SHELL GASOLINE", Category: "Transport"},
	}
}

func TestClassifier(t *testing.T) {
	t.Run("needsTwoCategories", func(t *testing.T) {
		require.Nil(t, newClassifier(nil))
		require.Nil(t, newClassifier([]HistoricalExample{
			{Desc: "STARBUCKS", Category: "Food"},
			{Desc: "BLUE BOTTLE", Category: "Food"},
		}))
	})

	t.Run("ranksSeenTermsFirst", func(t *testing.T) {
		cl := newClassifier(trainingHistory())
		require.NotNil(t, cl)

		hits := cl.topHits("STARBUCKS COFFEE 755")
		require.NotEmpty(t, hits)
		require.Equal(t, "Food", hits[0].Category)

		hits = cl.topHits("LYFT *RIDE SAT")
		require.NotEmpty(t, hits)
		require.Equal(t, "Transport", hits[0].Category)
	})

	t.Run("confidencesSumBelowOne", func(t *testing.T) {
		cl := newClassifier(trainingHistory())
		var sum float64
		for _, hit := range cl.topHits("STARBUCKS COFFEE") {
			require.Greater(t, hit.Confidence, 0.0)
			sum += hit.Confidence
		}
		require.LessOrEqual(t, sum, 1.0+1e-9)
	})

	t.Run("emptyDescription", func(t *testing.T) {
		cl := newClassifier(trainingHistory())
		require.Empty(t, cl.topHits("  "))
	})
}

func TestPickExemplars(t *testing.T) {
	history := []HistoricalExample{
		{Desc: "STARBUCKS 111", Category: "Food"},
		{Desc: "STARBUCKS 222", Category: "Food"},
		{Desc: "LYFT *RIDE", Category: "Transport"},
		{Desc: "WHOLEFDS MKT", Category: "Groceries"},
	}

	t.Run("dedupesByLetterSkeleton", func(t *testing.T) {
		out := pickExemplars(history, 0)
		require.Len(t, out, 3)
		require.Equal(t, "STARBUCKS 111", out[0].Desc)
		require.Equal(t, "LYFT *RIDE", out[1].Desc)
	})

	t.Run("bounded", func(t *testing.T) {
		out := pickExemplars(history, 2)
		require.Len(t, out, 2)
	})
}
