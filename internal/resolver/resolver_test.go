package resolver

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

type fakeFetcher struct {
	mu       sync.Mutex
	outcomes map[string]papers.FetchOutcome
	calls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, date string) papers.FetchOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, date)
	if out, ok := f.outcomes[date]; ok {
		return out
	}
	return papers.HTTPError(404)
}

type fakeCache map[string]papers.CachedDay

func (c fakeCache) GetCachedDay(_ context.Context, date string) (papers.CachedDay, bool, error) {
	day, ok := c[date]
	return day, ok, nil
}

func listingPage() string {
	return "<html><h1>Daily Papers</h1>" + strings.Repeat("x", 1200) + "</html>"
}

func TestFindLatestAvailableScansBackward(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{outcomes: map[string]papers.FetchOutcome{
		"2025-01-09": papers.Success("2025-01-09", "Daily Papers"),
		"2025-01-07": papers.Success("2025-01-07", listingPage()),
	}}
	r := New(f, nil, Config{}, nil)

	res, err := r.FindLatestAvailable(context.Background(), "2025-01-10")
	require.NoError(t, err)
	require.Equal(t, "2025-01-07", res.Date)
	require.NotEmpty(t, res.Markup)
	require.Equal(t, []string{"2025-01-10", "2025-01-09", "2025-01-08", "2025-01-07"}, f.calls)
}

func TestFindLatestAvailableBoundedAttempts(t *testing.T) {
	t.Parallel()

	t.Run("last attempt found", func(t *testing.T) {
		t.Parallel()
		f := &fakeFetcher{outcomes: map[string]papers.FetchOutcome{
			"2024-12-12": papers.Success("2024-12-12", listingPage()),
		}}
		res, err := New(f, nil, Config{}, nil).FindLatestAvailable(context.Background(), "2025-01-10")
		require.NoError(t, err)
		require.Equal(t, "2024-12-12", res.Date)
		require.Len(t, f.calls, 30)
	})

	t.Run("one past the bound", func(t *testing.T) {
		t.Parallel()
		f := &fakeFetcher{outcomes: map[string]papers.FetchOutcome{
			"2024-12-11": papers.Success("2024-12-11", listingPage()),
		}}
		_, err := New(f, nil, Config{}, nil).FindLatestAvailable(context.Background(), "2025-01-10")
		require.ErrorIs(t, err, papers.ErrNotFound)
		require.Len(t, f.calls, 30)
	})
}

func TestFindNextAvailableUsesCacheAndRejectsRedirects(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{outcomes: map[string]papers.FetchOutcome{
		"2025-01-11": papers.Redirected("2025-01-10", 302),
	}}
	cache := fakeCache{"2025-01-12": {Date: "2025-01-12"}}

	res, err := New(f, cache, Config{}, nil).FindNextAvailable(context.Background(), "2025-01-10")
	require.NoError(t, err)
	require.Equal(t, "2025-01-12", res.Date)
	require.True(t, res.FromCache)
	require.Equal(t, []string{"2025-01-11"}, f.calls)
}

func TestFindNextAvailableFetchesSelfResolvingDate(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{outcomes: map[string]papers.FetchOutcome{
		"2025-03-01": papers.Success("2025-03-01", listingPage()),
	}}
	res, err := New(f, fakeCache{}, Config{}, nil).FindNextAvailable(context.Background(), "2025-02-28")
	require.NoError(t, err)
	require.Equal(t, "2025-03-01", res.Date)
	require.False(t, res.FromCache)
}

func TestFindNextAvailableNotFound(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	_, err := New(f, fakeCache{}, Config{}, nil).FindNextAvailable(context.Background(), "2025-01-10")
	require.ErrorIs(t, err, papers.ErrNotFound)
	require.Len(t, f.calls, 30)
	require.Equal(t, "2025-01-11", f.calls[0])
	require.Equal(t, "2025-02-09", f.calls[29])
}

func TestResolverRejectsBadDate(t *testing.T) {
	t.Parallel()

	r := New(&fakeFetcher{}, nil, Config{}, nil)
	_, err := r.FindLatestAvailable(context.Background(), "yesterday")
	require.ErrorIs(t, err, papers.ErrInvalidInput)
	_, err = r.FindNextAvailable(context.Background(), "")
	require.ErrorIs(t, err, papers.ErrInvalidInput)
}

func TestResolverStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeFetcher{}
	_, err := New(f, nil, Config{}, nil).FindLatestAvailable(ctx, "2025-01-10")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.calls)
}
