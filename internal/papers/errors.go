package papers

import "errors"

var (
	// ErrNotFound means no acceptable page was located within the attempt bound.
	ErrNotFound = errors.New("no available page found")
	// ErrNetwork wraps transport failures.
	ErrNetwork = errors.New("network failure")
	// ErrUpstreamShape means the markup did not look like a listing page.
	ErrUpstreamShape = errors.New("unexpected upstream content")
	// ErrPersistence wraps storage failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrEvaluation wraps evaluator failures.
	ErrEvaluation = errors.New("evaluation failure")
	// ErrUnavailable is returned when neither the live path nor the cache can serve a request.
	ErrUnavailable = errors.New("service unavailable")
	// ErrPaperNotFound means the paper has no stored record.
	ErrPaperNotFound = errors.New("paper not found")
	// ErrInvalidInput flags malformed caller input such as dates or directions.
	ErrInvalidInput = errors.New("invalid input")
)
