// Package postgres provides a Postgres-backed papers.CacheStore.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/daily-papers/internal/clock/system"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

var validTablePrefix = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

type tables struct {
	days   string
	latest string
	papers string
}

// Store persists day snapshots and papers in Postgres.
type Store struct {
	pool   pool
	t      tables
	clock  papers.Clock
	closed bool
}

// New connects using cfg and applies the schema.
func New(ctx context.Context, cfg Config, clock papers.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.TablePrefix, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, tablePrefix string, clock papers.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validTablePrefix.MatchString(tablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", tablePrefix)
	}
	if clock == nil {
		clock = system.New()
	}
	return &Store{
		pool: p,
		t: tables{
			days:   tablePrefix + "papers_cache",
			latest: tablePrefix + "latest_date",
			papers: tablePrefix + "papers",
		},
		clock: clock,
	}, nil
}

// EnsureSchema creates tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.t) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return persistErr("apply schema", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil || s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

// GetCachedDay returns the snapshot for date.
func (s *Store) GetCachedDay(ctx context.Context, date string) (papers.CachedDay, bool, error) {
	var (
		day   papers.CachedDay
		cards []byte
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT date_str, html_content, parsed_cards, created_at, updated_at FROM %s WHERE date_str = $1`, s.t.days),
		date,
	).Scan(&day.Date, &day.RawMarkup, &cards, &day.CreatedAt, &day.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return papers.CachedDay{}, false, nil
	}
	if err != nil {
		return papers.CachedDay{}, false, persistErr("get cached day", err)
	}
	if err := json.Unmarshal(cards, &day.Cards); err != nil {
		return papers.CachedDay{}, false, persistErr("decode cached cards", err)
	}
	day.CreatedAt = day.CreatedAt.UTC()
	day.UpdatedAt = day.UpdatedAt.UTC()
	return day, true, nil
}

// PutCachedDay upserts the snapshot for date, preserving its creation time.
func (s *Store) PutCachedDay(ctx context.Context, date, markup string, cards []papers.PaperCard) error {
	if cards == nil {
		cards = []papers.PaperCard{}
	}
	encoded, err := json.Marshal(cards)
	if err != nil {
		return persistErr("encode cards", err)
	}
	now := s.clock.Now()
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (date_str, html_content, parsed_cards, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (date_str) DO UPDATE SET
	html_content = EXCLUDED.html_content,
	parsed_cards = EXCLUDED.parsed_cards,
	updated_at = EXCLUDED.updated_at`, s.t.days),
		date, markup, encoded, now)
	if err != nil {
		return persistErr("put cached day", err)
	}
	return nil
}

// IsFresh reports whether date was written less than maxAge ago.
func (s *Store) IsFresh(ctx context.Context, date string, maxAge time.Duration) (bool, error) {
	var updated time.Time
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT updated_at FROM %s WHERE date_str = $1`, s.t.days), date).
		Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("check freshness", err)
	}
	return s.clock.Now().Sub(updated) < maxAge, nil
}

// ListCachedDates returns up to limit cached dates, newest first.
func (s *Store) ListCachedDates(ctx context.Context, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT date_str FROM %s ORDER BY date_str DESC`, s.t.days)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list cached dates", err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistErr("list cached dates", err)
	}
	return dates, nil
}

// CountCachedDays returns the number of cached dates.
func (s *Store) CountCachedDays(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.t.days)).Scan(&n); err != nil {
		return 0, persistErr("count cached days", err)
	}
	return n, nil
}

// CacheAgeDistribution buckets cached days by age.
func (s *Store) CacheAgeDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT updated_at FROM %s`, s.t.days))
	if err != nil {
		return nil, persistErr("cache age distribution", err)
	}
	stamps, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, persistErr("cache age distribution", err)
	}
	now := s.clock.Now()
	out := make(map[string]int)
	for _, ts := range stamps {
		out[papers.AgeBucket(now.Sub(ts))]++
	}
	return out, nil
}

// ClearCachedDays drops every snapshot.
func (s *Store) ClearCachedDays(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.t.days))
	if err != nil {
		return 0, persistErr("clear cache", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCachedDaysBefore drops snapshots last written before cutoff.
func (s *Store) DeleteCachedDaysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE updated_at < $1`, s.t.days), cutoff)
	if err != nil {
		return 0, persistErr("delete stale days", err)
	}
	return tag.RowsAffected(), nil
}

// GetLatestDate returns the latest-date marker.
func (s *Store) GetLatestDate(ctx context.Context) (papers.LatestDate, bool, error) {
	var latest papers.LatestDate
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT date_str, updated_at FROM %s WHERE id = 1`, s.t.latest)).
		Scan(&latest.Date, &latest.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return papers.LatestDate{}, false, nil
	}
	if err != nil {
		return papers.LatestDate{}, false, persistErr("get latest date", err)
	}
	latest.UpdatedAt = latest.UpdatedAt.UTC()
	return latest, true, nil
}

// SetLatestDate overwrites the latest-date marker.
func (s *Store) SetLatestDate(ctx context.Context, date string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, date_str, updated_at) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE SET date_str = EXCLUDED.date_str, updated_at = EXCLUDED.updated_at`, s.t.latest),
		date, s.clock.Now())
	if err != nil {
		return persistErr("set latest date", err)
	}
	return nil
}

func (s *Store) paperSelect() string {
	return fmt.Sprintf(`SELECT arxiv_id, title, authors,
	COALESCE(abstract, ''), COALESCE(categories, ''), COALESCE(published_date, ''),
	COALESCE(evaluation_content, ''), evaluation_score, overall_score, COALESCE(evaluation_tags, ''),
	evaluation_status, is_evaluated, evaluation_date, created_at, updated_at
FROM %s`, s.t.papers)
}

func scanPaper(row pgx.Row) (papers.Paper, error) {
	var (
		p      papers.Paper
		status string
	)
	err := row.Scan(
		&p.ArxivID, &p.Title, &p.Authors,
		&p.Abstract, &p.Categories, &p.PublishedDate,
		&p.EvaluationContent, &p.EvaluationScore, &p.OverallScore, &p.EvaluationTags,
		&status, &p.IsEvaluated, &p.EvaluationDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return papers.Paper{}, err
	}
	p.Status = papers.EvaluationStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if p.EvaluationDate != nil {
		utc := p.EvaluationDate.UTC()
		p.EvaluationDate = &utc
	}
	return p, nil
}

// GetPaper fetches a paper by arXiv ID.
func (s *Store) GetPaper(ctx context.Context, arxivID string) (papers.Paper, bool, error) {
	p, err := scanPaper(s.pool.QueryRow(ctx, s.paperSelect()+` WHERE arxiv_id = $1`, arxivID))
	if errors.Is(err, pgx.ErrNoRows) {
		return papers.Paper{}, false, nil
	}
	if err != nil {
		return papers.Paper{}, false, persistErr("get paper", err)
	}
	return p, true, nil
}

// UpsertPaper writes paper metadata. Evaluation state of an existing paper is kept.
func (s *Store) UpsertPaper(ctx context.Context, in papers.PaperInput) error {
	if strings.TrimSpace(in.ArxivID) == "" {
		return fmt.Errorf("%w: arxiv id is required", papers.ErrInvalidInput)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (arxiv_id, title, authors, abstract, categories, published_date,
	evaluation_status, is_evaluated, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, FALSE, $8, $8)
ON CONFLICT (arxiv_id) DO UPDATE SET
	title = EXCLUDED.title,
	authors = EXCLUDED.authors,
	abstract = EXCLUDED.abstract,
	categories = EXCLUDED.categories,
	published_date = EXCLUDED.published_date,
	updated_at = EXCLUDED.updated_at`, s.t.papers),
		in.ArxivID, in.Title, in.Authors, in.Abstract, in.Categories, in.PublishedDate,
		string(papers.StatusNotStarted), s.clock.Now())
	if err != nil {
		return persistErr("upsert paper", err)
	}
	return nil
}

// UpdatePaperEvaluation stores a completed evaluation.
func (s *Store) UpdatePaperEvaluation(ctx context.Context, arxivID string, update papers.EvaluationUpdate) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE %s SET
	evaluation_content = $2,
	evaluation_score = $3,
	overall_score = $4,
	evaluation_tags = NULLIF($5, ''),
	evaluation_status = $6,
	is_evaluated = TRUE,
	evaluation_date = $7,
	updated_at = $7
WHERE arxiv_id = $1`, s.t.papers),
		arxivID, update.Content, update.Score, update.OverallScore, update.Tags,
		string(papers.StatusCompleted), s.clock.Now())
	if err != nil {
		return persistErr("update evaluation", err)
	}
	if tag.RowsAffected() == 0 {
		return papers.ErrPaperNotFound
	}
	return nil
}

// SetPaperStatus updates the evaluation status only.
func (s *Store) SetPaperStatus(ctx context.Context, arxivID string, status papers.EvaluationStatus) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET evaluation_status = $2, updated_at = $3 WHERE arxiv_id = $1`, s.t.papers),
		arxivID, string(status), s.clock.Now())
	if err != nil {
		return persistErr("set paper status", err)
	}
	if tag.RowsAffected() == 0 {
		return papers.ErrPaperNotFound
	}
	return nil
}

// ListEvaluatedPapers returns evaluated papers, most recently evaluated first.
func (s *Store) ListEvaluatedPapers(ctx context.Context) ([]papers.Paper, error) {
	return s.queryPapers(ctx, "list evaluated papers",
		s.paperSelect()+` WHERE is_evaluated ORDER BY evaluation_date DESC NULLS LAST, arxiv_id`)
}

// SearchPapers matches query case-insensitively against title, authors and abstract.
func (s *Store) SearchPapers(ctx context.Context, query string, limit int) ([]papers.Paper, error) {
	sql := s.paperSelect() + `
WHERE title ILIKE $1 OR authors ILIKE $1 OR abstract ILIKE $1
ORDER BY created_at DESC, arxiv_id`
	args := []any{"%" + strings.TrimSpace(query) + "%"}
	if limit > 0 {
		sql += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.queryPapers(ctx, "search papers", sql, args...)
}

// CountsByStatus aggregates papers by evaluation state.
func (s *Store) CountsByStatus(ctx context.Context) (papers.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT evaluation_status, is_evaluated, COUNT(*) FROM %s GROUP BY evaluation_status, is_evaluated`, s.t.papers))
	if err != nil {
		return papers.StatusCounts{}, persistErr("count papers", err)
	}
	defer rows.Close()

	counts := papers.StatusCounts{ByStatus: make(map[papers.EvaluationStatus]int)}
	for rows.Next() {
		var (
			status    string
			evaluated bool
			n         int
		)
		if err := rows.Scan(&status, &evaluated, &n); err != nil {
			return papers.StatusCounts{}, persistErr("count papers", err)
		}
		counts.Total += n
		if evaluated {
			counts.Evaluated += n
		}
		counts.ByStatus[papers.EvaluationStatus(status)] += n
	}
	if err := rows.Err(); err != nil {
		return papers.StatusCounts{}, persistErr("count papers", err)
	}
	counts.Unevaluated = counts.Total - counts.Evaluated
	return counts, nil
}

func (s *Store) queryPapers(ctx context.Context, op, sql string, args ...any) ([]papers.Paper, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	out := make([]papers.Paper, 0)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return out, nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", papers.ErrPersistence, op, err)
}
