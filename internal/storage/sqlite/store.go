// Package sqlite implements papers.CacheStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/JakeFAU/daily-papers/internal/clock/system"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

// Config holds SQLite connection settings.
type Config struct {
	Path string `mapstructure:"path"`
}

// Store persists day snapshots and papers in SQLite.
type Store struct {
	db    *sqlx.DB
	clock papers.Clock
}

type dayRow struct {
	Date      string    `db:"date_str"`
	Markup    string    `db:"html_content"`
	Cards     string    `db:"parsed_cards"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type paperRow struct {
	ArxivID           string          `db:"arxiv_id"`
	Title             string          `db:"title"`
	Authors           string          `db:"authors"`
	Abstract          sql.NullString  `db:"abstract"`
	Categories        sql.NullString  `db:"categories"`
	PublishedDate     sql.NullString  `db:"published_date"`
	EvaluationContent sql.NullString  `db:"evaluation_content"`
	EvaluationScore   sql.NullFloat64 `db:"evaluation_score"`
	OverallScore      sql.NullFloat64 `db:"overall_score"`
	EvaluationTags    sql.NullString  `db:"evaluation_tags"`
	Status            string          `db:"evaluation_status"`
	IsEvaluated       bool            `db:"is_evaluated"`
	EvaluationDate    sql.NullTime    `db:"evaluation_date"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

const paperColumns = `arxiv_id, title, authors, abstract, categories, published_date,
	evaluation_content, evaluation_score, overall_score, evaluation_tags,
	evaluation_status, is_evaluated, evaluation_date, created_at, updated_at`

// Open connects to the database at cfg.Path and applies the schema.
func Open(ctx context.Context, cfg Config, clock papers.Clock) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := NewWithDB(db, clock)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection. A nil clock uses the system clock.
func NewWithDB(db *sqlx.DB, clock papers.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{db: db, clock: clock}
}

// EnsureSchema creates tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return persistErr("apply schema", err)
	}
	return nil
}

// Close releases the connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// GetCachedDay returns the snapshot for date.
func (s *Store) GetCachedDay(ctx context.Context, date string) (papers.CachedDay, bool, error) {
	var row dayRow
	err := s.db.GetContext(ctx, &row,
		`SELECT date_str, html_content, parsed_cards, created_at, updated_at FROM papers_cache WHERE date_str = ?`, date)
	if errors.Is(err, sql.ErrNoRows) {
		return papers.CachedDay{}, false, nil
	}
	if err != nil {
		return papers.CachedDay{}, false, persistErr("get cached day", err)
	}
	var cards []papers.PaperCard
	if err := json.Unmarshal([]byte(row.Cards), &cards); err != nil {
		return papers.CachedDay{}, false, persistErr("decode cached cards", err)
	}
	return papers.CachedDay{
		Date:      row.Date,
		RawMarkup: row.Markup,
		Cards:     cards,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, true, nil
}

// PutCachedDay upserts the snapshot for date, preserving its creation time.
func (s *Store) PutCachedDay(ctx context.Context, date, markup string, cards []papers.PaperCard) error {
	encoded, err := encodeCards(cards)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO papers_cache (date_str, html_content, parsed_cards, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(date_str) DO UPDATE SET
	html_content = excluded.html_content,
	parsed_cards = excluded.parsed_cards,
	updated_at = excluded.updated_at`,
		date, markup, encoded, now, now)
	if err != nil {
		return persistErr("put cached day", err)
	}
	return nil
}

// IsFresh reports whether date was written less than maxAge ago.
func (s *Store) IsFresh(ctx context.Context, date string, maxAge time.Duration) (bool, error) {
	var updated time.Time
	err := s.db.GetContext(ctx, &updated, `SELECT updated_at FROM papers_cache WHERE date_str = ?`, date)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("check freshness", err)
	}
	return s.clock.Now().Sub(updated) < maxAge, nil
}

// ListCachedDates returns up to limit cached dates, newest first.
func (s *Store) ListCachedDates(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	dates := []string{}
	if err := s.db.SelectContext(ctx, &dates,
		`SELECT date_str FROM papers_cache ORDER BY date_str DESC LIMIT ?`, limit); err != nil {
		return nil, persistErr("list cached dates", err)
	}
	return dates, nil
}

// CountCachedDays returns the number of cached dates.
func (s *Store) CountCachedDays(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM papers_cache`); err != nil {
		return 0, persistErr("count cached days", err)
	}
	return n, nil
}

type stampRow struct {
	Date      string    `db:"date_str"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) stamps(ctx context.Context) ([]stampRow, error) {
	var rows []stampRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT date_str, updated_at FROM papers_cache`); err != nil {
		return nil, persistErr("list cache timestamps", err)
	}
	return rows, nil
}

// CacheAgeDistribution buckets cached days by age.
func (s *Store) CacheAgeDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := s.stamps(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make(map[string]int)
	for _, r := range rows {
		out[papers.AgeBucket(now.Sub(r.UpdatedAt))]++
	}
	return out, nil
}

// ClearCachedDays drops every snapshot.
func (s *Store) ClearCachedDays(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM papers_cache`)
	if err != nil {
		return 0, persistErr("clear cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("clear cache", err)
	}
	return n, nil
}

// DeleteCachedDaysBefore drops snapshots last written before cutoff.
func (s *Store) DeleteCachedDaysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.stamps(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, persistErr("begin cleanup", err)
	}
	var removed int64
	for _, r := range rows {
		if !r.UpdatedAt.Before(cutoff) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM papers_cache WHERE date_str = ?`, r.Date); err != nil {
			_ = tx.Rollback()
			return 0, persistErr("delete stale day", err)
		}
		removed++
	}
	if err := tx.Commit(); err != nil {
		return 0, persistErr("commit cleanup", err)
	}
	return removed, nil
}

// GetLatestDate returns the latest-date marker.
func (s *Store) GetLatestDate(ctx context.Context) (papers.LatestDate, bool, error) {
	var row stampRow
	err := s.db.GetContext(ctx, &row, `SELECT date_str, updated_at FROM latest_date WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return papers.LatestDate{}, false, nil
	}
	if err != nil {
		return papers.LatestDate{}, false, persistErr("get latest date", err)
	}
	return papers.LatestDate{Date: row.Date, UpdatedAt: row.UpdatedAt.UTC()}, true, nil
}

// SetLatestDate overwrites the latest-date marker.
func (s *Store) SetLatestDate(ctx context.Context, date string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO latest_date (id, date_str, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET date_str = excluded.date_str, updated_at = excluded.updated_at`,
		date, s.clock.Now())
	if err != nil {
		return persistErr("set latest date", err)
	}
	return nil
}

// GetPaper fetches a paper by arXiv ID.
func (s *Store) GetPaper(ctx context.Context, arxivID string) (papers.Paper, bool, error) {
	var row paperRow
	err := s.db.GetContext(ctx, &row, `SELECT `+paperColumns+` FROM papers WHERE arxiv_id = ?`, arxivID)
	if errors.Is(err, sql.ErrNoRows) {
		return papers.Paper{}, false, nil
	}
	if err != nil {
		return papers.Paper{}, false, persistErr("get paper", err)
	}
	return row.toPaper(), true, nil
}

// UpsertPaper writes paper metadata. Evaluation state of an existing paper is kept.
func (s *Store) UpsertPaper(ctx context.Context, in papers.PaperInput) error {
	if strings.TrimSpace(in.ArxivID) == "" {
		return fmt.Errorf("%w: arxiv id is required", papers.ErrInvalidInput)
	}
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO papers (arxiv_id, title, authors, abstract, categories, published_date,
	evaluation_status, is_evaluated, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
ON CONFLICT(arxiv_id) DO UPDATE SET
	title = excluded.title,
	authors = excluded.authors,
	abstract = excluded.abstract,
	categories = excluded.categories,
	published_date = excluded.published_date,
	updated_at = excluded.updated_at`,
		in.ArxivID, in.Title, in.Authors, nullString(in.Abstract), nullString(in.Categories),
		nullString(in.PublishedDate), string(papers.StatusNotStarted), now, now)
	if err != nil {
		return persistErr("upsert paper", err)
	}
	return nil
}

// UpdatePaperEvaluation stores a completed evaluation.
func (s *Store) UpdatePaperEvaluation(ctx context.Context, arxivID string, update papers.EvaluationUpdate) error {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
UPDATE papers SET
	evaluation_content = ?,
	evaluation_score = ?,
	overall_score = ?,
	evaluation_tags = ?,
	evaluation_status = ?,
	is_evaluated = 1,
	evaluation_date = ?,
	updated_at = ?
WHERE arxiv_id = ?`,
		update.Content, nullFloat(update.Score), nullFloat(update.OverallScore), nullString(update.Tags),
		string(papers.StatusCompleted), now, now, arxivID)
	if err != nil {
		return persistErr("update evaluation", err)
	}
	return requireAffected(res, "update evaluation")
}

// SetPaperStatus updates the evaluation status only.
func (s *Store) SetPaperStatus(ctx context.Context, arxivID string, status papers.EvaluationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE papers SET evaluation_status = ?, updated_at = ? WHERE arxiv_id = ?`,
		string(status), s.clock.Now(), arxivID)
	if err != nil {
		return persistErr("set paper status", err)
	}
	return requireAffected(res, "set paper status")
}

// ListEvaluatedPapers returns evaluated papers, most recently evaluated first.
func (s *Store) ListEvaluatedPapers(ctx context.Context) ([]papers.Paper, error) {
	return s.selectPapers(ctx, "list evaluated papers",
		`SELECT `+paperColumns+` FROM papers WHERE is_evaluated = 1 ORDER BY evaluation_date DESC, arxiv_id`)
}

// SearchPapers matches query case-insensitively against title, authors and abstract.
func (s *Store) SearchPapers(ctx context.Context, query string, limit int) ([]papers.Paper, error) {
	if limit <= 0 {
		limit = -1
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	return s.selectPapers(ctx, "search papers",
		`SELECT `+paperColumns+` FROM papers
WHERE title LIKE ? OR authors LIKE ? OR abstract LIKE ?
ORDER BY created_at DESC, arxiv_id LIMIT ?`,
		pattern, pattern, pattern, limit)
}

// CountsByStatus aggregates papers by evaluation state.
func (s *Store) CountsByStatus(ctx context.Context) (papers.StatusCounts, error) {
	var rows []struct {
		Status    string `db:"evaluation_status"`
		Evaluated bool   `db:"is_evaluated"`
		N         int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT evaluation_status, is_evaluated, COUNT(*) AS n FROM papers GROUP BY evaluation_status, is_evaluated`); err != nil {
		return papers.StatusCounts{}, persistErr("count papers", err)
	}
	counts := papers.StatusCounts{ByStatus: make(map[papers.EvaluationStatus]int)}
	for _, r := range rows {
		counts.Total += r.N
		if r.Evaluated {
			counts.Evaluated += r.N
		}
		counts.ByStatus[papers.EvaluationStatus(r.Status)] += r.N
	}
	counts.Unevaluated = counts.Total - counts.Evaluated
	return counts, nil
}

func (s *Store) selectPapers(ctx context.Context, op, query string, args ...any) ([]papers.Paper, error) {
	var rows []paperRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, persistErr(op, err)
	}
	out := make([]papers.Paper, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPaper())
	}
	return out, nil
}

func (r paperRow) toPaper() papers.Paper {
	p := papers.Paper{
		ArxivID:           r.ArxivID,
		Title:             r.Title,
		Authors:           r.Authors,
		Abstract:          r.Abstract.String,
		Categories:        r.Categories.String,
		PublishedDate:     r.PublishedDate.String,
		EvaluationContent: r.EvaluationContent.String,
		EvaluationTags:    r.EvaluationTags.String,
		Status:            papers.EvaluationStatus(r.Status),
		IsEvaluated:       r.IsEvaluated,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
	if r.EvaluationScore.Valid {
		v := r.EvaluationScore.Float64
		p.EvaluationScore = &v
	}
	if r.OverallScore.Valid {
		v := r.OverallScore.Float64
		p.OverallScore = &v
	}
	if r.EvaluationDate.Valid {
		v := r.EvaluationDate.Time.UTC()
		p.EvaluationDate = &v
	}
	return p
}

func encodeCards(cards []papers.PaperCard) (string, error) {
	if cards == nil {
		cards = []papers.PaperCard{}
	}
	b, err := json.Marshal(cards)
	if err != nil {
		return "", persistErr("encode cards", err)
	}
	return string(b), nil
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr(op, err)
	}
	if n == 0 {
		return papers.ErrPaperNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", papers.ErrPersistence, op, err)
}
