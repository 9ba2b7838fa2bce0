package daily

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/daily-papers/internal/clock/fake"
	"github.com/JakeFAU/daily-papers/internal/papers"
	"github.com/JakeFAU/daily-papers/internal/resolver"
	"github.com/JakeFAU/daily-papers/internal/storage/memory"
)

var epoch = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]papers.FetchOutcome
	calls   map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{scripts: map[string][]papers.FetchOutcome{}, calls: map[string]int{}}
}

func (f *scriptedFetcher) on(date string, outcomes ...papers.FetchOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[date] = outcomes
}

func (f *scriptedFetcher) Fetch(_ context.Context, date string) papers.FetchOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls[date]
	f.calls[date] = n + 1
	script := f.scripts[date]
	if len(script) == 0 {
		return papers.NetworkError(errors.New("connection refused"))
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n]
}

func (f *scriptedFetcher) count(date string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[date]
}

type lineParser struct{}

// Parse turns every "title|arxiv id" line after the marker into a card.
func (lineParser) Parse(markup string) ([]papers.PaperCard, error) {
	if strings.Contains(markup, "<broken>") {
		return nil, errors.New("unparseable markup")
	}
	cards := []papers.PaperCard{}
	for _, line := range strings.Split(markup, "\n")[1:] {
		title, id, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		cards = append(cards, papers.PaperCard{Title: title, ArxivID: id, AuthorCount: 3})
	}
	return cards, nil
}

func page(lines ...string) string {
	return strings.Join(append([]string{"Daily Papers"}, lines...), "\n")
}

type fixture struct {
	svc     *Service
	fetcher *scriptedFetcher
	store   *memory.CacheStore
	blobs   *memory.BlobStore
	clock   *fake.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := fake.New(epoch)
	store := memory.NewCacheStore(clk)
	blobs := memory.NewBlobStore()
	fetcher := newScriptedFetcher()
	res := resolver.New(fetcher, store, resolver.Config{MaxAttempts: 5, MinContentBytes: 1}, nil)
	svc := New(fetcher, lineParser{}, res, store, blobs, clk, Config{ArchivePrefix: "daily"}, nil)
	return fixture{svc: svc, fetcher: fetcher, store: store, blobs: blobs, clock: clk}
}

func TestGetDailyFollowsRedirect(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	fx.fetcher.on("2025-01-01", papers.Redirected("2025-01-03", 302))
	fx.fetcher.on("2025-01-03", papers.Success("2025-01-03", page("Paper A|2501.00001")))

	res, err := fx.svc.GetDaily(ctx, "2025-01-01", papers.DirectionNone)
	require.NoError(t, err)
	require.Equal(t, "2025-01-03", res.Date)
	require.Equal(t, "2025-01-01", res.RequestedDate)
	require.True(t, res.FallbackUsed)
	require.False(t, res.Cached)
	require.Nil(t, res.CachedAt)
	require.Len(t, res.Cards, 1)

	fresh, err := fx.store.IsFresh(ctx, "2025-01-03", 24*time.Hour)
	require.NoError(t, err)
	require.True(t, fresh)
	_, ok, err := fx.store.GetCachedDay(ctx, "2025-01-01")
	require.NoError(t, err)
	require.False(t, ok)

	archived, ok := fx.blobs.Object("daily/2025-01-03.html")
	require.True(t, ok)
	require.Contains(t, string(archived), "Paper A")
	page, _ := fx.blobs.Page("daily/2025-01-03.html")
	require.Equal(t, "text/html; charset=utf-8", page.ContentType)
	require.Equal(t, []string{"2025-01-03"}, fx.blobs.Dates("daily"))

	latest, ok, err := fx.store.GetLatestDate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2025-01-03", latest.Date)

	// The cache is keyed by the resolved date, so the same request redirects again
	// and is then served from the fresh row of the target.
	again, err := fx.svc.GetDaily(ctx, "2025-01-01", papers.DirectionNone)
	require.NoError(t, err)
	require.Equal(t, "2025-01-03", again.Date)
	require.True(t, again.Cached)
	require.True(t, again.FallbackUsed)
	require.Equal(t, 2, fx.fetcher.count("2025-01-01"))
	require.Equal(t, 1, fx.fetcher.count("2025-01-03"))
}

func TestGetDailyFreshHitSkipsFetch(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.PutCachedDay(ctx, "2025-01-08", "raw", []papers.PaperCard{{Title: "Cached"}}))
	fx.clock.Advance(23*time.Hour + 59*time.Minute)

	res, err := fx.svc.GetDaily(ctx, "2025-01-08", papers.DirectionPrev)
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.False(t, res.FallbackUsed)
	require.Equal(t, epoch, *res.CachedAt)
	require.Equal(t, "Cached", res.Cards[0].Title)
	require.Zero(t, fx.fetcher.count("2025-01-08"))
}

func TestGetDailyDefaultsToToday(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.fetcher.on("2025-01-10", papers.Success("2025-01-10", page()))

	res, err := fx.svc.GetDaily(context.Background(), "", papers.DirectionNone)
	require.NoError(t, err)
	require.Equal(t, "2025-01-10", res.Date)
	require.Equal(t, "2025-01-10", res.RequestedDate)
	require.NotNil(t, res.Cards)
	require.Empty(t, res.Cards)
}

func TestGetDailyFallsBackToLatestAvailable(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.fetcher.on("2025-01-05", papers.HTTPError(500))
	fx.fetcher.on("2025-01-08", papers.Success("2025-01-08", page("Latest|2501.00008")))

	res, err := fx.svc.GetDaily(context.Background(), "2025-01-05", papers.DirectionNone)
	require.NoError(t, err)
	require.Equal(t, "2025-01-08", res.Date)
	require.True(t, res.FallbackUsed)
	require.Equal(t, 1, fx.fetcher.count("2025-01-10"))
	require.Equal(t, 1, fx.fetcher.count("2025-01-09"))
}

func TestGetDailyServesStaleCacheOnFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.PutCachedDay(ctx, "2025-01-02", "raw", []papers.PaperCard{{Title: "Old"}}))
	fx.clock.Advance(48 * time.Hour)

	res, err := fx.svc.GetDaily(ctx, "2025-01-02", papers.DirectionNone)
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.False(t, res.FallbackUsed)
	require.Equal(t, "2025-01-02", res.Date)
	require.Equal(t, "Old", res.Cards[0].Title)
}

func TestGetDailyUnavailable(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	_, err := fx.svc.GetDaily(context.Background(), "2025-01-02", papers.DirectionNone)
	require.ErrorIs(t, err, papers.ErrUnavailable)
	require.ErrorIs(t, err, papers.ErrNotFound)
}

func TestGetDailyParseFailureFallsBack(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.fetcher.on("2025-01-02", papers.Success("2025-01-02", page("<broken>")))

	_, err := fx.svc.GetDaily(context.Background(), "2025-01-02", papers.DirectionNone)
	require.ErrorIs(t, err, papers.ErrUnavailable)
}

func TestGetDailyRejectsBadDate(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	_, err := fx.svc.GetDaily(context.Background(), "01/02/2025", papers.DirectionNone)
	require.ErrorIs(t, err, papers.ErrInvalidInput)
}

func TestGetDailyNextScansForward(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.fetcher.on("2025-01-04", papers.Redirected("2025-01-03", 302))
	fx.fetcher.on("2025-01-05", papers.Redirected("2025-01-03", 302))
	fx.fetcher.on("2025-01-06", papers.Success("2025-01-06", page("Monday|2501.00006")))

	res, err := fx.svc.GetDaily(context.Background(), "2025-01-04", papers.DirectionNext)
	require.NoError(t, err)
	require.Equal(t, "2025-01-06", res.Date)
	require.Equal(t, "2025-01-04", res.RequestedDate)
	require.True(t, res.FallbackUsed)
	require.False(t, res.Cached)
	require.Equal(t, 1, fx.fetcher.count("2025-01-06"))
}

func TestGetDailyNextUsesCachedForwardDate(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.PutCachedDay(ctx, "2025-01-06", "raw", []papers.PaperCard{{Title: "Cached Monday"}}))
	fx.fetcher.on("2025-01-05", papers.Redirected("2025-01-03", 302))

	res, err := fx.svc.GetDaily(ctx, "2025-01-05", papers.DirectionNext)
	require.NoError(t, err)
	require.Equal(t, "2025-01-06", res.Date)
	require.True(t, res.Cached)
	require.True(t, res.FallbackUsed)
	require.Zero(t, fx.fetcher.count("2025-01-06"))
}

func TestGetDailyNextStaleForwardCacheOnFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.PutCachedDay(ctx, "2025-01-06", "raw", []papers.PaperCard{{Title: "Stale Monday"}}))
	fx.clock.Advance(72 * time.Hour)
	fx.fetcher.on("2025-01-05", papers.Redirected("2025-01-03", 302))

	res, err := fx.svc.GetDaily(ctx, "2025-01-05", papers.DirectionNext)
	require.NoError(t, err)
	require.Equal(t, "2025-01-06", res.Date)
	require.True(t, res.Cached)
	require.Equal(t, "Stale Monday", res.Cards[0].Title)
}

func TestGetDailyNextNotFoundIsEmpty(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.fetcher.on("2025-01-09", papers.Redirected("2025-01-08", 302))

	res, err := fx.svc.GetDaily(context.Background(), "2025-01-09", papers.DirectionNext)
	require.NoError(t, err)
	require.Equal(t, "2025-01-09", res.Date)
	require.False(t, res.FallbackUsed)
	require.False(t, res.Cached)
	require.NotNil(t, res.Cards)
	require.Empty(t, res.Cards)
	for _, date := range []string{"2025-01-10", "2025-01-11", "2025-01-12", "2025-01-13", "2025-01-14"} {
		require.Equal(t, 1, fx.fetcher.count(date), date)
	}
	require.Zero(t, fx.fetcher.count("2025-01-15"))
}

func TestEnrichmentAndRegistration(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.UpsertPaper(ctx, papers.PaperInput{ArxivID: "2501.00001", Title: "Known", Authors: "A. Author", Abstract: "abs"}))
	score := 3.0
	require.NoError(t, fx.store.UpdatePaperEvaluation(ctx, "2501.00001", papers.EvaluationUpdate{
		Content: "{}", Score: &score, OverallScore: &score, Tags: "task_formalization:3/4",
	}))
	fx.fetcher.on("2025-01-10", papers.Success("2025-01-10", page("Known|2501.00001", "Fresh|2501.00002", "No id|")))

	res, err := fx.svc.GetDaily(ctx, "2025-01-10", papers.DirectionNone)
	require.NoError(t, err)
	require.Len(t, res.Cards, 3)

	known := res.Cards[0]
	require.True(t, known.IsEvaluated)
	require.True(t, known.HasEval)
	require.InDelta(t, 3.0, *known.OverallScore, 1e-9)
	require.Equal(t, "task_formalization:3/4", known.EvaluationTags)
	require.Equal(t, "A. Author", known.Authors)
	require.Equal(t, "abs", known.Abstract)

	require.False(t, res.Cards[1].IsEvaluated)
	registered, ok, err := fx.store.GetPaper(ctx, "2501.00002")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Fresh", registered.Title)
	require.Equal(t, "3 authors", registered.Authors)
	require.Equal(t, papers.StatusNotStarted, registered.Status)

	require.False(t, res.Cards[2].HasEval)
}

func TestLatestMarkerNeverRegresses(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.SetLatestDate(ctx, "2025-01-09"))
	fx.fetcher.on("2025-01-07", papers.Success("2025-01-07", page()))

	_, err := fx.svc.GetDaily(ctx, "2025-01-07", papers.DirectionNone)
	require.NoError(t, err)
	latest, _, err := fx.store.GetLatestDate(ctx)
	require.NoError(t, err)
	require.Equal(t, "2025-01-09", latest.Date)
}

func TestRefreshBypassesFreshCache(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.PutCachedDay(ctx, "2025-01-08", "raw", nil))
	fx.fetcher.on("2025-01-08", papers.Success("2025-01-08", page("One|2501.00001", "Two|2501.00002")))
	fx.clock.Advance(time.Hour)

	res, err := fx.svc.Refresh(ctx, "2025-01-08")
	require.NoError(t, err)
	require.Equal(t, RefreshResult{Date: "2025-01-08", CardsCount: 2}, res)

	day, ok, err := fx.store.GetCachedDay(ctx, "2025-01-08")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, day.Cards, 2)
	require.Equal(t, epoch.Add(time.Hour), day.UpdatedAt)
}

func TestRefreshUnavailable(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	_, err := fx.svc.Refresh(context.Background(), "2025-01-08")
	require.ErrorIs(t, err, papers.ErrUnavailable)
}

func TestCacheMaintenance(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.PutCachedDay(ctx, "2024-12-20", "old", nil))
	fx.clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, fx.store.PutCachedDay(ctx, "2025-01-17", "new", nil))
	require.NoError(t, fx.store.SetLatestDate(ctx, "2025-01-17"))

	status, err := fx.svc.CacheStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.TotalCachedDates)
	require.Equal(t, "2025-01-17", *status.LatestCachedDate)
	require.Equal(t, map[string]int{papers.AgeWithinHour: 1, papers.AgeOlder: 1}, status.AgeDistribution)

	dates, err := fx.svc.AvailableDates(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"2025-01-17", "2024-12-20"}, dates)

	removed, err := fx.svc.Cleanup(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	cleared, err := fx.svc.ClearCache(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, cleared)

	status, err = fx.svc.CacheStatus(ctx)
	require.NoError(t, err)
	require.Zero(t, status.TotalCachedDates)
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.svc.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
