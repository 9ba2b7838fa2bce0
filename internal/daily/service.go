// Package daily serves day listings, resolving missing dates and falling back
// to cached snapshots when the upstream cannot be reached.
package daily

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/metrics"
	"github.com/JakeFAU/daily-papers/internal/papers"
	"github.com/JakeFAU/daily-papers/internal/resolver"
)

const (
	defaultMaxAge         = 24 * time.Hour
	defaultRetentionDays  = 7
	defaultAvailableLimit = 30
	markupContentType     = "text/html; charset=utf-8"
)

// Config tunes caching behavior.
type Config struct {
	MaxAge              time.Duration
	RetentionDays       int
	AvailableDatesLimit int
	// ArchivePrefix is the object prefix for archived raw pages.
	ArchivePrefix string
}

// Resolver finds substitute dates.
type Resolver interface {
	FindLatestAvailable(ctx context.Context, from string) (resolver.Resolution, error)
	FindNextAvailable(ctx context.Context, from string) (resolver.Resolution, error)
}

// Result is the answer to a daily listing request.
type Result struct {
	Date          string             `json:"date"`
	RequestedDate string             `json:"requested_date"`
	Cards         []papers.PaperCard `json:"cards"`
	FallbackUsed  bool               `json:"fallback_used"`
	Cached        bool               `json:"cached"`
	CachedAt      *time.Time         `json:"cached_at,omitempty"`
}

// RefreshResult reports a forced refresh.
type RefreshResult struct {
	Date       string `json:"date"`
	CardsCount int    `json:"cards_count"`
}

// CacheStatus summarizes the day cache.
type CacheStatus struct {
	TotalCachedDates int            `json:"total_cached_dates"`
	LatestCachedDate *string        `json:"latest_cached_date"`
	LatestUpdated    *time.Time     `json:"latest_updated"`
	AgeDistribution  map[string]int `json:"age_distribution"`
}

// Service wires fetcher, parser, resolver and store into the listing flow.
type Service struct {
	fetcher  papers.PageFetcher
	parser   papers.CardParser
	resolver Resolver
	store    papers.CacheStore
	archive  papers.BlobStore
	clock    papers.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Service. archive may be nil.
func New(
	fetcher papers.PageFetcher,
	parser papers.CardParser,
	res Resolver,
	store papers.CacheStore,
	archive papers.BlobStore,
	clock papers.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	if cfg.AvailableDatesLimit <= 0 {
		cfg.AvailableDatesLimit = defaultAvailableLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher:  fetcher,
		parser:   parser,
		resolver: res,
		store:    store,
		archive:  archive,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// GetDaily returns the listing for requested, defaulting to today.
func (s *Service) GetDaily(ctx context.Context, requested string, dir papers.Direction) (Result, error) {
	requested, err := s.normalizeDate(requested)
	if err != nil {
		return Result{}, err
	}
	if res, ok := s.freshCached(ctx, requested, requested); ok {
		return res, nil
	}

	var (
		res     Result
		forward string
	)
	if dir == papers.DirectionNext {
		res, forward, err = s.navigateNext(ctx, requested)
	} else {
		res, err = s.navigate(ctx, requested, true)
	}
	if err == nil {
		return res, nil
	}
	s.logger.Warn("live fetch failed, trying cache",
		zap.String("date", requested),
		zap.String("direction", string(dir)),
		zap.Error(err),
	)

	candidates := []string{requested}
	if forward != "" && forward != requested {
		candidates = append(candidates, forward)
	}
	for _, date := range candidates {
		if fb, ok := s.anyCached(ctx, date, requested); ok {
			return fb, nil
		}
	}
	return Result{}, errors.Join(papers.ErrUnavailable, err)
}

// navigate serves requested, following a redirect or falling back to the
// latest available date. Fresh cache rows of substitute dates are honored
// when useCache is set.
func (s *Service) navigate(ctx context.Context, requested string, useCache bool) (Result, error) {
	out := s.fetcher.Fetch(ctx, requested)
	switch out.Kind {
	case papers.OutcomeSuccess:
		return s.serveLive(ctx, out.Date, requested, out.Markup)
	case papers.OutcomeRedirected:
		target := out.TargetDate
		s.logger.Info("date redirected", zap.String("requested", requested), zap.String("target", target))
		if useCache {
			if res, ok := s.freshCached(ctx, target, requested); ok {
				return res, nil
			}
		}
		tout := s.fetcher.Fetch(ctx, target)
		if tout.Kind == papers.OutcomeSuccess {
			return s.serveLive(ctx, target, requested, tout.Markup)
		}
		s.logger.Warn("redirect target unavailable", zap.String("target", target), zap.Error(tout.Error()))
	default:
		s.logger.Warn("requested date unavailable", zap.String("date", requested), zap.Error(out.Error()))
	}

	found, err := s.resolver.FindLatestAvailable(ctx, papers.Today(s.clock))
	if err != nil {
		return Result{}, err
	}
	if useCache && found.Date != requested {
		if res, ok := s.freshCached(ctx, found.Date, requested); ok {
			return res, nil
		}
	}
	return s.serveLive(ctx, found.Date, requested, found.Markup)
}

// navigateNext serves requested when it exists as itself, otherwise the next
// available date after it. The forward date, when one was located, is
// returned even on failure so the caller can fall back to its cache row.
func (s *Service) navigateNext(ctx context.Context, requested string) (Result, string, error) {
	out := s.fetcher.Fetch(ctx, requested)
	if out.Kind == papers.OutcomeSuccess && out.Date == requested {
		res, err := s.serveLive(ctx, requested, requested, out.Markup)
		return res, "", err
	}

	found, err := s.resolver.FindNextAvailable(ctx, requested)
	if errors.Is(err, papers.ErrNotFound) {
		return Result{Date: requested, RequestedDate: requested, Cards: []papers.PaperCard{}}, "", nil
	}
	if err != nil {
		return Result{}, "", err
	}
	if res, ok := s.freshCached(ctx, found.Date, requested); ok {
		return res, found.Date, nil
	}
	markup := found.Markup
	if markup == "" {
		fout := s.fetcher.Fetch(ctx, found.Date)
		if fout.Kind != papers.OutcomeSuccess {
			return Result{}, found.Date, fout.Error()
		}
		markup = fout.Markup
	}
	res, err := s.serveLive(ctx, found.Date, requested, markup)
	return res, found.Date, err
}

func (s *Service) serveLive(ctx context.Context, date, requested, markup string) (Result, error) {
	cards, err := s.parser.Parse(markup)
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", date, err)
	}
	cards = s.enrich(ctx, cards, true)
	if err := s.store.PutCachedDay(ctx, date, markup, cards); err != nil {
		return Result{}, err
	}
	s.archiveMarkup(ctx, date, markup)
	s.advanceLatest(ctx, date)
	s.logger.Info("served live listing",
		zap.String("date", date),
		zap.String("requested", requested),
		zap.Int("cards", len(cards)),
	)
	return Result{
		Date:          date,
		RequestedDate: requested,
		Cards:         cards,
		FallbackUsed:  date != requested,
	}, nil
}

func (s *Service) freshCached(ctx context.Context, date, requested string) (Result, bool) {
	fresh, err := s.store.IsFresh(ctx, date, s.cfg.MaxAge)
	if err != nil {
		s.logger.Warn("freshness check failed", zap.String("date", date), zap.Error(err))
		return Result{}, false
	}
	if !fresh {
		metrics.ObserveCacheLookup("miss")
		return Result{}, false
	}
	res, ok := s.anyCached(ctx, date, requested)
	if ok {
		metrics.ObserveCacheLookup("hit")
	}
	return res, ok
}

func (s *Service) anyCached(ctx context.Context, date, requested string) (Result, bool) {
	day, ok, err := s.store.GetCachedDay(ctx, date)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("date", date), zap.Error(err))
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	if s.clock.Now().Sub(day.UpdatedAt) >= s.cfg.MaxAge {
		metrics.ObserveCacheLookup("stale")
	}
	cachedAt := day.UpdatedAt
	return Result{
		Date:          date,
		RequestedDate: requested,
		Cards:         s.enrich(ctx, day.Cards, false),
		FallbackUsed:  date != requested,
		Cached:        true,
		CachedAt:      &cachedAt,
	}, true
}

func (s *Service) archiveMarkup(ctx context.Context, date, markup string) {
	if s.archive == nil {
		return
	}
	key := papers.ArchiveKey(s.cfg.ArchivePrefix, date)
	uri, err := s.archive.PutObject(ctx, key, markupContentType, bytes.NewReader([]byte(markup)))
	if err != nil {
		s.logger.Warn("archive raw page failed", zap.String("date", date), zap.Error(err))
		return
	}
	s.logger.Debug("archived raw page", zap.String("date", date), zap.String("uri", uri))
}

func (s *Service) advanceLatest(ctx context.Context, date string) {
	latest, ok, err := s.store.GetLatestDate(ctx)
	if err != nil {
		s.logger.Warn("read latest date failed", zap.Error(err))
		return
	}
	if ok && latest.Date >= date {
		return
	}
	if err := s.store.SetLatestDate(ctx, date); err != nil {
		s.logger.Warn("update latest date failed", zap.String("date", date), zap.Error(err))
	}
}

func (s *Service) normalizeDate(raw string) (string, error) {
	if raw == "" {
		return papers.Today(s.clock), nil
	}
	t, err := papers.ParseDate(raw)
	if err != nil {
		return "", err
	}
	return papers.FormatDate(t), nil
}

// Refresh refetches date, bypassing cached substitutes, and overwrites its cache row.
func (s *Service) Refresh(ctx context.Context, date string) (RefreshResult, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return RefreshResult{}, err
	}
	res, err := s.navigate(ctx, date, false)
	if err != nil {
		return RefreshResult{}, errors.Join(papers.ErrUnavailable, err)
	}
	return RefreshResult{Date: res.Date, CardsCount: len(res.Cards)}, nil
}

// AvailableDates lists cached dates, newest first.
func (s *Service) AvailableDates(ctx context.Context) ([]string, error) {
	return s.store.ListCachedDates(ctx, s.cfg.AvailableDatesLimit)
}

// CacheStatus reports cache size, the latest marker and entry ages.
func (s *Service) CacheStatus(ctx context.Context) (CacheStatus, error) {
	total, err := s.store.CountCachedDays(ctx)
	if err != nil {
		return CacheStatus{}, err
	}
	dist, err := s.store.CacheAgeDistribution(ctx)
	if err != nil {
		return CacheStatus{}, err
	}
	status := CacheStatus{TotalCachedDates: total, AgeDistribution: dist}
	latest, ok, err := s.store.GetLatestDate(ctx)
	if err != nil {
		return CacheStatus{}, err
	}
	if ok {
		status.LatestCachedDate = &latest.Date
		status.LatestUpdated = &latest.UpdatedAt
	}
	return status, nil
}

// ClearCache deletes every day row.
func (s *Service) ClearCache(ctx context.Context) (int64, error) {
	n, err := s.store.ClearCachedDays(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("cache cleared", zap.Int64("rows", n))
	return n, nil
}

// Cleanup deletes day rows older than the retention window.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	n, err := s.store.DeleteCachedDaysBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired cache rows removed", zap.Int64("rows", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("cache cleanup failed", zap.Error(err))
			}
		}
	}
}
