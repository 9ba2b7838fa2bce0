package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS papers_cache (
	date_str     TEXT PRIMARY KEY,
	html_content TEXT NOT NULL,
	parsed_cards TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS latest_date (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	date_str   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS papers (
	arxiv_id           TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	authors            TEXT NOT NULL,
	abstract           TEXT,
	categories         TEXT,
	published_date     TEXT,
	evaluation_content TEXT,
	evaluation_score   REAL,
	overall_score      REAL,
	evaluation_tags    TEXT,
	evaluation_status  TEXT NOT NULL DEFAULT 'not_started',
	is_evaluated       BOOLEAN NOT NULL DEFAULT 0,
	evaluation_date    TIMESTAMP,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_papers_cache_updated_at ON papers_cache(updated_at);
CREATE INDEX IF NOT EXISTS idx_papers_is_evaluated ON papers(is_evaluated);
CREATE INDEX IF NOT EXISTS idx_papers_evaluation_status ON papers(evaluation_status);
`
