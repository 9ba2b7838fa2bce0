// Package resolver locates the nearest date with a published listing page.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/metrics"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

const (
	defaultMaxAttempts     = 30
	defaultMinContentBytes = 1000
	defaultProbeTimeout    = 5 * time.Second
)

// Config bounds the scans.
type Config struct {
	MaxAttempts     int
	MinContentBytes int
	PageMarker      string
	// ProbeTimeout caps each forward probe.
	ProbeTimeout time.Duration
}

// Resolution is a located date. Markup is empty when the date was satisfied
// from the cache without a fetch.
type Resolution struct {
	Date      string
	Markup    string
	FromCache bool
}

// DayLookup is the cache surface needed for forward scans.
type DayLookup interface {
	GetCachedDay(ctx context.Context, date string) (papers.CachedDay, bool, error)
}

// Resolver scans backward or forward one calendar day at a time.
type Resolver struct {
	fetcher papers.PageFetcher
	cache   DayLookup
	cfg     Config
	logger  *zap.Logger
}

// New builds a Resolver.
func New(fetcher papers.PageFetcher, cache DayLookup, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MinContentBytes <= 0 {
		cfg.MinContentBytes = defaultMinContentBytes
	}
	if cfg.PageMarker == "" {
		cfg.PageMarker = "Daily Papers"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, cache: cache, cfg: cfg, logger: logger}
}

// FindLatestAvailable tries from, from-1, ... for MaxAttempts dates and returns
// the first page that carries the listing marker with a substantial body.
func (r *Resolver) FindLatestAvailable(ctx context.Context, from string) (Resolution, error) {
	start, err := papers.ParseDate(from)
	if err != nil {
		return Resolution{}, err
	}
	for i := 0; i < r.cfg.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Resolution{}, fmt.Errorf("find latest canceled: %w", err)
		}
		date := papers.FormatDate(start.AddDate(0, 0, -i))
		out := r.fetcher.Fetch(ctx, date)
		if out.Kind == papers.OutcomeSuccess && r.acceptable(out.Markup) {
			r.logger.Info("resolved latest available date",
				zap.String("from", from), zap.String("date", date), zap.Int("attempts", i+1))
			metrics.ObserveResolution("prev", "found")
			return Resolution{Date: date, Markup: out.Markup}, nil
		}
		r.logger.Debug("date unavailable", zap.String("date", date), zap.String("outcome", out.Kind.String()))
	}
	metrics.ObserveResolution("prev", "not_found")
	return Resolution{}, fmt.Errorf("%w: no listing within %d days before %s", papers.ErrNotFound, r.cfg.MaxAttempts, from)
}

// FindNextAvailable tries from+1, from+2, ... for MaxAttempts dates. A cached
// date counts as available without a fetch; otherwise the date must be served
// as itself rather than redirected elsewhere.
func (r *Resolver) FindNextAvailable(ctx context.Context, from string) (Resolution, error) {
	start, err := papers.ParseDate(from)
	if err != nil {
		return Resolution{}, err
	}
	for i := 1; i <= r.cfg.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Resolution{}, fmt.Errorf("find next canceled: %w", err)
		}
		date := papers.FormatDate(start.AddDate(0, 0, i))

		if r.cache != nil {
			_, ok, err := r.cache.GetCachedDay(ctx, date)
			if err != nil {
				r.logger.Warn("cache lookup failed during forward scan", zap.String("date", date), zap.Error(err))
			} else if ok {
				metrics.ObserveResolution("next", "cached")
				return Resolution{Date: date, FromCache: true}, nil
			}
		}

		out := r.probe(ctx, date)
		if out.Kind == papers.OutcomeSuccess && out.Date == date {
			metrics.ObserveResolution("next", "found")
			return Resolution{Date: date, Markup: out.Markup}, nil
		}
		r.logger.Debug("forward probe rejected", zap.String("date", date), zap.String("outcome", out.Kind.String()))
	}
	metrics.ObserveResolution("next", "not_found")
	return Resolution{}, fmt.Errorf("%w: no listing within %d days after %s", papers.ErrNotFound, r.cfg.MaxAttempts, from)
}

func (r *Resolver) probe(ctx context.Context, date string) papers.FetchOutcome {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()
	return r.fetcher.Fetch(probeCtx, date)
}

func (r *Resolver) acceptable(markup string) bool {
	return len(markup) > r.cfg.MinContentBytes && strings.Contains(markup, r.cfg.PageMarker)
}
