// Package collyfetcher implements papers.PageFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/metrics"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultPageMarker = "Daily Papers"
)

var redirectDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Config controls collector behavior.
type Config struct {
	// BaseURL is the listing root; the date is appended as a path segment.
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	PageMarker string

	// RespectRobots makes the collector honour the upstream robots.txt.
	RespectRobots bool
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter paces every fetch through w.
func WithLimiter(w Waiter) Option {
	return func(f *Fetcher) { f.limiter = w }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher implements papers.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *robotsAwareTransport
	limiter       Waiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// pageResponse is the subset of the upstream response used for classification.
type pageResponse struct {
	status   int
	location string
	body     []byte
}

// New builds a Fetcher. Redirects are never followed.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageMarker == "" {
		cfg.PageMarker = defaultPageMarker
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	var (
		transport http.RoundTripper = newHTTPTransport()
		robots    *robotsAwareTransport
	)
	if cfg.RespectRobots {
		robots = newRobotsAwareTransport(transport)
		transport = robots
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	f := &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		robots:        robots,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the listing URL for date.
func (f *Fetcher) URL(date string) string {
	return strings.TrimRight(f.cfg.BaseURL, "/") + "/" + date
}

// Fetch performs one GET for date and classifies the response.
func (f *Fetcher) Fetch(ctx context.Context, date string) papers.FetchOutcome {
	start := time.Now()
	outcome := f.fetch(ctx, date)
	metrics.ObserveFetch(outcome.Kind.String(), time.Since(start))
	f.logger.Debug("upstream fetch",
		zap.String("date", date),
		zap.String("outcome", outcome.Kind.String()),
		zap.Int("status", outcome.StatusCode),
		zap.String("target_date", outcome.TargetDate),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(outcome.Err),
	)
	return outcome
}

func (f *Fetcher) fetch(ctx context.Context, date string) papers.FetchOutcome {
	target := f.URL(date)
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return papers.NetworkError(err)
		}
	}

	var (
		resp     pageResponse
		fetchErr error
	)
	collector := f.buildCollector(ctx, &resp, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return papers.NetworkError(err)
	}
	f.logRobotsFallback(target)
	return classify(date, resp, f.cfg.PageMarker)
}

func (f *Fetcher) buildCollector(ctx context.Context, resp *pageResponse, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, resp, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, resp *pageResponse, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*resp = pageResponse{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			resp.location = r.Headers.Get("Location")
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) logRobotsFallback(target string) {
	if f.robots == nil {
		return
	}
	u, err := url.Parse(target)
	if err != nil {
		return
	}
	if reason, ok := f.robots.fallbackReason(u.Hostname()); ok {
		f.logger.Debug("robots rules unavailable, fetched as allowed",
			zap.String("host", u.Hostname()),
			zap.String("reason", reason),
		)
	}
}

// classify maps a raw response onto the fetch outcome variants. A 200 is a
// listing page when it mentions the requested date or the page marker.
func classify(date string, resp pageResponse, marker string) papers.FetchOutcome {
	switch {
	case resp.status == http.StatusOK:
		body := string(resp.body)
		if strings.Contains(body, date) || strings.Contains(body, marker) {
			return papers.Success(date, body)
		}
		return papers.UnexpectedContent(date, body)
	case resp.status >= 300 && resp.status < 400:
		if target := redirectDatePattern.FindString(resp.location); target != "" {
			return papers.Redirected(target, resp.status)
		}
		return papers.HTTPError(resp.status)
	default:
		return papers.HTTPError(resp.status)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
