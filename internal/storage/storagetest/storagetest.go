// Package storagetest holds behavior checks shared by every papers.CacheStore backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/daily-papers/internal/clock/fake"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

// Factory builds an empty store bound to clk.
type Factory func(t *testing.T, clk papers.Clock) papers.CacheStore

// Epoch is the fake clock start used by Run.
var Epoch = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

// Run exercises the CacheStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("DayWritesAreIdempotent", func(t *testing.T) {
		clk := fake.New(Epoch)
		store := newStore(t, clk)
		ctx := context.Background()
		cards := []papers.PaperCard{{Title: "A", ArxivID: "2501.00001", Upvotes: 3}, {Title: "B"}}

		require.NoError(t, store.PutCachedDay(ctx, "2025-01-10", "<html>v1</html>", cards))
		clk.Advance(time.Hour)
		require.NoError(t, store.PutCachedDay(ctx, "2025-01-10", "<html>v2</html>", cards))

		n, err := store.CountCachedDays(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		day, ok, err := store.GetCachedDay(ctx, "2025-01-10")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "<html>v2</html>", day.RawMarkup)
		require.Equal(t, cards, day.Cards)
		require.True(t, day.CreatedAt.Equal(Epoch), "created_at kept: %v", day.CreatedAt)
		require.True(t, day.UpdatedAt.Equal(Epoch.Add(time.Hour)), "updated_at moved: %v", day.UpdatedAt)

		_, ok, err = store.GetCachedDay(ctx, "2025-01-09")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("FreshnessBoundary", func(t *testing.T) {
		clk := fake.New(Epoch)
		store := newStore(t, clk)
		ctx := context.Background()
		require.NoError(t, store.PutCachedDay(ctx, "2025-01-10", "<html></html>", nil))

		clk.Advance(23*time.Hour + 59*time.Minute)
		fresh, err := store.IsFresh(ctx, "2025-01-10", 24*time.Hour)
		require.NoError(t, err)
		require.True(t, fresh)

		clk.Advance(2 * time.Minute)
		fresh, err = store.IsFresh(ctx, "2025-01-10", 24*time.Hour)
		require.NoError(t, err)
		require.False(t, fresh)

		fresh, err = store.IsFresh(ctx, "2030-01-01", 24*time.Hour)
		require.NoError(t, err)
		require.False(t, fresh)
	})

	t.Run("ListAgeCleanupAndClear", func(t *testing.T) {
		clk := fake.New(Epoch)
		store := newStore(t, clk)
		ctx := context.Background()

		require.NoError(t, store.PutCachedDay(ctx, "2025-01-01", "old", nil))
		clk.Advance(8 * 24 * time.Hour)
		require.NoError(t, store.PutCachedDay(ctx, "2025-01-05", "mid", nil))
		clk.Advance(2 * time.Hour)
		require.NoError(t, store.PutCachedDay(ctx, "2025-01-09", "new", nil))
		clk.Advance(30 * time.Minute)

		dates, err := store.ListCachedDates(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, []string{"2025-01-09", "2025-01-05"}, dates)

		dist, err := store.CacheAgeDistribution(ctx)
		require.NoError(t, err)
		require.Equal(t, map[string]int{
			papers.AgeWithinHour: 1,
			papers.AgeWithinDay:  1,
			papers.AgeOlder:      1,
		}, dist)

		removed, err := store.DeleteCachedDaysBefore(ctx, clk.Now().Add(-7*24*time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 1, removed)

		dates, err = store.ListCachedDates(ctx, 30)
		require.NoError(t, err)
		require.Equal(t, []string{"2025-01-09", "2025-01-05"}, dates)

		cleared, err := store.ClearCachedDays(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 2, cleared)
		n, err := store.CountCachedDays(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("LatestDateMarker", func(t *testing.T) {
		clk := fake.New(Epoch)
		store := newStore(t, clk)
		ctx := context.Background()

		_, ok, err := store.GetLatestDate(ctx)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, store.SetLatestDate(ctx, "2025-01-09"))
		require.NoError(t, store.SetLatestDate(ctx, "2025-01-10"))
		latest, ok, err := store.GetLatestDate(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "2025-01-10", latest.Date)
	})

	t.Run("PaperLifecycle", func(t *testing.T) {
		clk := fake.New(Epoch)
		store := newStore(t, clk)
		ctx := context.Background()

		require.ErrorIs(t, store.SetPaperStatus(ctx, "2501.00001", papers.StatusEvaluating), papers.ErrPaperNotFound)
		require.ErrorIs(t,
			store.UpdatePaperEvaluation(ctx, "2501.00001", papers.EvaluationUpdate{Content: "x"}),
			papers.ErrPaperNotFound)

		require.NoError(t, store.UpsertPaper(ctx, papers.PaperInput{
			ArxivID: "2501.00001", Title: "Agents that Plan", Authors: "7 authors",
		}))
		p, ok, err := store.GetPaper(ctx, "2501.00001")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, papers.StatusNotStarted, p.Status)
		require.False(t, p.IsEvaluated)
		require.Nil(t, p.EvaluationScore)

		require.NoError(t, store.SetPaperStatus(ctx, "2501.00001", papers.StatusEvaluating))
		score := 3.5
		clk.Advance(time.Minute)
		require.NoError(t, store.UpdatePaperEvaluation(ctx, "2501.00001", papers.EvaluationUpdate{
			Content: `{"scorecard":{}}`, Score: &score, OverallScore: &score, Tags: "task_formalization:3/4",
		}))

		require.NoError(t, store.UpsertPaper(ctx, papers.PaperInput{
			ArxivID: "2501.00001", Title: "Agents that Plan (v2)", Authors: "Ada, Grace",
			Abstract: "We study planning agents.",
		}))
		p, ok, err = store.GetPaper(ctx, "2501.00001")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "Agents that Plan (v2)", p.Title)
		require.True(t, p.IsEvaluated, "metadata upsert keeps evaluation")
		require.Equal(t, papers.StatusCompleted, p.Status)
		require.NotNil(t, p.EvaluationScore)
		require.InDelta(t, 3.5, *p.EvaluationScore, 1e-9)
		require.Equal(t, "task_formalization:3/4", p.EvaluationTags)
		require.NotNil(t, p.EvaluationDate)
		require.True(t, p.EvaluationDate.Equal(Epoch.Add(time.Minute)))

		require.NoError(t, store.UpsertPaper(ctx, papers.PaperInput{ArxivID: "2501.00002", Title: "Vision Tokens"}))
		require.NoError(t, store.SetPaperStatus(ctx, "2501.00002", papers.StatusFailed))

		counts, err := store.CountsByStatus(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, counts.Total)
		require.Equal(t, 1, counts.Evaluated)
		require.Equal(t, 1, counts.Unevaluated)
		require.Equal(t, 1, counts.ByStatus[papers.StatusCompleted])
		require.Equal(t, 1, counts.ByStatus[papers.StatusFailed])

		evaluated, err := store.ListEvaluatedPapers(ctx)
		require.NoError(t, err)
		require.Len(t, evaluated, 1)
		require.Equal(t, "2501.00001", evaluated[0].ArxivID)

		found, err := store.SearchPapers(ctx, "planning", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		found, err = store.SearchPapers(ctx, "VISION", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.Equal(t, "2501.00002", found[0].ArxivID)
	})
}
