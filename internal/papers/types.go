package papers

import (
	"fmt"
	"time"
)

// Direction selects how navigation behaves when the requested date is missing.
type Direction string

const (
	// DirectionNone resolves the requested date, falling back to the latest available one.
	DirectionNone Direction = ""
	// DirectionPrev behaves like DirectionNone.
	DirectionPrev Direction = "prev"
	// DirectionNext scans forward for the next date that resolves to itself.
	DirectionNext Direction = "next"
)

// ParseDirection validates a user-supplied navigation hint.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionNone, DirectionPrev, DirectionNext:
		return Direction(raw), nil
	default:
		return DirectionNone, fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, raw)
	}
}

// EvaluationStatus enumerates the lifecycle of a paper evaluation.
type EvaluationStatus string

const (
	// StatusNotStarted means no evaluation was ever requested.
	StatusNotStarted EvaluationStatus = "not_started"
	// StatusEvaluating means an evaluation was started and has not finished.
	StatusEvaluating EvaluationStatus = "evaluating"
	// StatusCompleted means the evaluation stored a result.
	StatusCompleted EvaluationStatus = "completed"
	// StatusFailed means the last evaluation attempt failed.
	StatusFailed EvaluationStatus = "failed"
)

// PaperCard is one listing entry parsed from a daily page.
type PaperCard struct {
	Title       string `json:"title"`
	SourceURL   string `json:"huggingface_url,omitempty"`
	ArxivID     string `json:"arxiv_id,omitempty"`
	Upvotes     int    `json:"upvotes"`
	AuthorCount int    `json:"author_count"`
	GithubStars int    `json:"github_stars"`
	Comments    *int   `json:"comments,omitempty"`
	Submitter   string `json:"submitter,omitempty"`
	Meta        string `json:"meta,omitempty"`

	HasEval         bool       `json:"has_eval"`
	IsEvaluated     bool       `json:"is_evaluated"`
	Status          string     `json:"evaluation_status,omitempty"`
	EvaluationScore *float64   `json:"evaluation_score,omitempty"`
	OverallScore    *float64   `json:"overall_score,omitempty"`
	EvaluationTags  string     `json:"evaluation_tags,omitempty"`
	EvaluationDate  *time.Time `json:"evaluation_date,omitempty"`
	Authors         string     `json:"authors,omitempty"`
	Abstract        string     `json:"abstract,omitempty"`
}

// CachedDay is the persisted snapshot of one daily page.
type CachedDay struct {
	Date      string
	RawMarkup string
	Cards     []PaperCard
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LatestDate records the newest date ever served live.
type LatestDate struct {
	Date      string
	UpdatedAt time.Time
}

// Paper is the persisted record of a paper and its evaluation state.
type Paper struct {
	ArxivID           string           `json:"arxiv_id"`
	Title             string           `json:"title"`
	Authors           string           `json:"authors"`
	Abstract          string           `json:"abstract,omitempty"`
	Categories        string           `json:"categories,omitempty"`
	PublishedDate     string           `json:"published_date,omitempty"`
	EvaluationContent string           `json:"evaluation_content,omitempty"`
	EvaluationScore   *float64         `json:"evaluation_score,omitempty"`
	OverallScore      *float64         `json:"overall_score,omitempty"`
	EvaluationTags    string           `json:"evaluation_tags,omitempty"`
	Status            EvaluationStatus `json:"evaluation_status"`
	IsEvaluated       bool             `json:"is_evaluated"`
	EvaluationDate    *time.Time       `json:"evaluation_date,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// PaperInput carries the metadata columns written by UpsertPaper.
type PaperInput struct {
	ArxivID       string `json:"arxiv_id"`
	Title         string `json:"title"`
	Authors       string `json:"authors"`
	Abstract      string `json:"abstract,omitempty"`
	Categories    string `json:"categories,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
}

// EvaluationUpdate carries a completed evaluation result.
type EvaluationUpdate struct {
	Content      string
	Score        *float64
	OverallScore *float64
	Tags         string
}

// StatusCounts aggregates paper evaluation state.
type StatusCounts struct {
	Total       int                      `json:"total_papers"`
	Evaluated   int                      `json:"evaluated_count"`
	Unevaluated int                      `json:"unevaluated_count"`
	ByStatus    map[EvaluationStatus]int `json:"by_status"`
}

// EvaluationRequest is handed to an Evaluator.
type EvaluationRequest struct {
	ArxivID     string
	DocumentURL string
}

// EvaluationResult is the evaluator payload. Content is stored verbatim;
// Scorecard is the optional structured scorecard JSON object.
type EvaluationResult struct {
	Content   string
	Scorecard []byte
}

// EvaluationEvent is published after an evaluation finishes.
type EvaluationEvent struct {
	ArxivID    string           `json:"arxiv_id"`
	Status     EvaluationStatus `json:"status"`
	Score      *float64         `json:"score,omitempty"`
	Tags       string           `json:"tags,omitempty"`
	Error      string           `json:"error,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Attributes exposes routing attributes for message brokers.
func (e EvaluationEvent) Attributes() map[string]string {
	return map[string]string{"arxiv_id": e.ArxivID, "status": string(e.Status)}
}
