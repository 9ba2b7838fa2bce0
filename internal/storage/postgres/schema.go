package postgres

import "fmt"

func schemaStatements(t tables) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	date_str     TEXT PRIMARY KEY,
	html_content TEXT NOT NULL,
	parsed_cards JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`, t.days),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	date_str   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, t.latest),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	arxiv_id           TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	authors            TEXT NOT NULL,
	abstract           TEXT,
	categories         TEXT,
	published_date     TEXT,
	evaluation_content TEXT,
	evaluation_score   DOUBLE PRECISION,
	overall_score      DOUBLE PRECISION,
	evaluation_tags    TEXT,
	evaluation_status  TEXT NOT NULL DEFAULT 'not_started',
	is_evaluated       BOOLEAN NOT NULL DEFAULT FALSE,
	evaluation_date    TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
)`, t.papers),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_updated_at_idx ON %s (updated_at)`, t.days, t.days),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (evaluation_status, is_evaluated)`, t.papers, t.papers),
	}
}
