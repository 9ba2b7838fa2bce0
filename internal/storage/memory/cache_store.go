package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/daily-papers/internal/clock/system"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

// CacheStore provides an in-memory papers.CacheStore for development/testing.
type CacheStore struct {
	mu     sync.RWMutex
	clock  papers.Clock
	days   map[string]papers.CachedDay
	papers map[string]papers.Paper
	latest *papers.LatestDate
}

// NewCacheStore constructs a CacheStore. A nil clock uses the system clock.
func NewCacheStore(clock papers.Clock) *CacheStore {
	if clock == nil {
		clock = system.New()
	}
	return &CacheStore{
		clock:  clock,
		days:   make(map[string]papers.CachedDay),
		papers: make(map[string]papers.Paper),
	}
}

// GetCachedDay returns a copy of the snapshot for date.
func (s *CacheStore) GetCachedDay(_ context.Context, date string) (papers.CachedDay, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day, ok := s.days[date]
	if !ok {
		return papers.CachedDay{}, false, nil
	}
	return copyDay(day), true, nil
}

// PutCachedDay upserts the snapshot for date, preserving its creation time.
func (s *CacheStore) PutCachedDay(_ context.Context, date, markup string, cards []papers.PaperCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	day := papers.CachedDay{
		Date:      date,
		RawMarkup: markup,
		Cards:     append([]papers.PaperCard(nil), cards...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := s.days[date]; ok {
		day.CreatedAt = existing.CreatedAt
	}
	s.days[date] = day
	return nil
}

// IsFresh reports whether date was written less than maxAge ago.
func (s *CacheStore) IsFresh(_ context.Context, date string, maxAge time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day, ok := s.days[date]
	if !ok {
		return false, nil
	}
	return s.clock.Now().Sub(day.UpdatedAt) < maxAge, nil
}

// ListCachedDates returns up to limit cached dates, newest first.
func (s *CacheStore) ListCachedDates(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	dates := make([]string, 0, len(s.days))
	for date := range s.days {
		dates = append(dates, date)
	}
	s.mu.RUnlock()
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}
	return dates, nil
}

// CountCachedDays returns the number of cached dates.
func (s *CacheStore) CountCachedDays(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.days), nil
}

// CacheAgeDistribution buckets cached days by age.
func (s *CacheStore) CacheAgeDistribution(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	out := make(map[string]int)
	for _, day := range s.days {
		out[papers.AgeBucket(now.Sub(day.UpdatedAt))]++
	}
	return out, nil
}

// ClearCachedDays drops every snapshot.
func (s *CacheStore) ClearCachedDays(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.days))
	s.days = make(map[string]papers.CachedDay)
	return n, nil
}

// DeleteCachedDaysBefore drops snapshots last written before cutoff.
func (s *CacheStore) DeleteCachedDaysBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for date, day := range s.days {
		if day.UpdatedAt.Before(cutoff) {
			delete(s.days, date)
			n++
		}
	}
	return n, nil
}

// GetLatestDate returns the latest-date marker.
func (s *CacheStore) GetLatestDate(_ context.Context) (papers.LatestDate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return papers.LatestDate{}, false, nil
	}
	return *s.latest, true, nil
}

// SetLatestDate overwrites the latest-date marker.
func (s *CacheStore) SetLatestDate(_ context.Context, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &papers.LatestDate{Date: date, UpdatedAt: s.clock.Now()}
	return nil
}

// GetPaper fetches a paper by arXiv ID.
func (s *CacheStore) GetPaper(_ context.Context, arxivID string) (papers.Paper, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.papers[arxivID]
	return p, ok, nil
}

// UpsertPaper writes paper metadata. Evaluation state of an existing paper is kept.
func (s *CacheStore) UpsertPaper(_ context.Context, in papers.PaperInput) error {
	if strings.TrimSpace(in.ArxivID) == "" {
		return fmt.Errorf("%w: arxiv id is required", papers.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	p, ok := s.papers[in.ArxivID]
	if !ok {
		p = papers.Paper{ArxivID: in.ArxivID, Status: papers.StatusNotStarted, CreatedAt: now}
	}
	p.Title = in.Title
	p.Authors = in.Authors
	p.Abstract = in.Abstract
	p.Categories = in.Categories
	p.PublishedDate = in.PublishedDate
	p.UpdatedAt = now
	s.papers[in.ArxivID] = p
	return nil
}

// UpdatePaperEvaluation stores a completed evaluation.
func (s *CacheStore) UpdatePaperEvaluation(_ context.Context, arxivID string, update papers.EvaluationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.papers[arxivID]
	if !ok {
		return papers.ErrPaperNotFound
	}
	now := s.clock.Now()
	p.EvaluationContent = update.Content
	p.EvaluationScore = copyFloat(update.Score)
	p.OverallScore = copyFloat(update.OverallScore)
	p.EvaluationTags = update.Tags
	p.IsEvaluated = true
	p.Status = papers.StatusCompleted
	p.EvaluationDate = &now
	p.UpdatedAt = now
	s.papers[arxivID] = p
	return nil
}

// SetPaperStatus updates the evaluation status only.
func (s *CacheStore) SetPaperStatus(_ context.Context, arxivID string, status papers.EvaluationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.papers[arxivID]
	if !ok {
		return papers.ErrPaperNotFound
	}
	p.Status = status
	p.UpdatedAt = s.clock.Now()
	s.papers[arxivID] = p
	return nil
}

// ListEvaluatedPapers returns evaluated papers, most recently evaluated first.
func (s *CacheStore) ListEvaluatedPapers(_ context.Context) ([]papers.Paper, error) {
	s.mu.RLock()
	out := make([]papers.Paper, 0)
	for _, p := range s.papers {
		if p.IsEvaluated {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := evaluatedAt(out[i]), evaluatedAt(out[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ArxivID < out[j].ArxivID
	})
	return out, nil
}

// SearchPapers matches query case-insensitively against title, authors and abstract.
func (s *CacheStore) SearchPapers(_ context.Context, query string, limit int) ([]papers.Paper, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	out := make([]papers.Paper, 0)
	for _, p := range s.papers {
		haystack := strings.ToLower(p.Title + "\n" + p.Authors + "\n" + p.Abstract)
		if strings.Contains(haystack, needle) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ArxivID < out[j].ArxivID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountsByStatus aggregates papers by evaluation state.
func (s *CacheStore) CountsByStatus(_ context.Context) (papers.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := papers.StatusCounts{ByStatus: make(map[papers.EvaluationStatus]int)}
	for _, p := range s.papers {
		counts.Total++
		if p.IsEvaluated {
			counts.Evaluated++
		}
		counts.ByStatus[p.Status]++
	}
	counts.Unevaluated = counts.Total - counts.Evaluated
	return counts, nil
}

// Close is a no-op.
func (s *CacheStore) Close() error {
	return nil
}

func copyDay(day papers.CachedDay) papers.CachedDay {
	day.Cards = append([]papers.PaperCard(nil), day.Cards...)
	return day
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

func evaluatedAt(p papers.Paper) time.Time {
	if p.EvaluationDate == nil {
		return time.Time{}
	}
	return *p.EvaluationDate
}
