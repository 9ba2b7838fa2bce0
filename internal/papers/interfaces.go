package papers

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves the listing page for a date. Transport failures are
// reported as OutcomeNetworkError rather than returned.
type PageFetcher interface {
	Fetch(ctx context.Context, date string) FetchOutcome
}

// CardParser converts listing markup into cards.
type CardParser interface {
	Parse(markup string) ([]PaperCard, error)
}

// DayCache persists daily page snapshots and the latest-date marker.
type DayCache interface {
	GetCachedDay(ctx context.Context, date string) (CachedDay, bool, error)
	PutCachedDay(ctx context.Context, date, markup string, cards []PaperCard) error
	IsFresh(ctx context.Context, date string, maxAge time.Duration) (bool, error)
	ListCachedDates(ctx context.Context, limit int) ([]string, error)
	CountCachedDays(ctx context.Context) (int, error)
	CacheAgeDistribution(ctx context.Context) (map[string]int, error)
	ClearCachedDays(ctx context.Context) (int64, error)
	DeleteCachedDaysBefore(ctx context.Context, cutoff time.Time) (int64, error)
	GetLatestDate(ctx context.Context) (LatestDate, bool, error)
	SetLatestDate(ctx context.Context, date string) error
}

// PaperStore persists papers and their evaluation state.
type PaperStore interface {
	GetPaper(ctx context.Context, arxivID string) (Paper, bool, error)
	UpsertPaper(ctx context.Context, in PaperInput) error
	UpdatePaperEvaluation(ctx context.Context, arxivID string, update EvaluationUpdate) error
	SetPaperStatus(ctx context.Context, arxivID string, status EvaluationStatus) error
	ListEvaluatedPapers(ctx context.Context) ([]Paper, error)
	SearchPapers(ctx context.Context, query string, limit int) ([]Paper, error)
	CountsByStatus(ctx context.Context) (StatusCounts, error)
}

// CacheStore is the full persistence contract.
type CacheStore interface {
	DayCache
	PaperStore
	Close() error
}

// Evaluator produces an assessment for one paper document.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (EvaluationResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes evaluation events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
