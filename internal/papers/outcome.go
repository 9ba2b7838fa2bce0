package papers

import "fmt"

// OutcomeKind classifies a single page fetch.
type OutcomeKind int

const (
	// OutcomeSuccess is a 200 response that looks like a listing page.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRedirected is a 3xx response whose Location names a date.
	OutcomeRedirected
	// OutcomeUnexpectedContent is a 200 response without the expected markers.
	OutcomeUnexpectedContent
	// OutcomeHTTPError covers every other status code.
	OutcomeHTTPError
	// OutcomeNetworkError covers transport failures and timeouts.
	OutcomeNetworkError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRedirected:
		return "redirected"
	case OutcomeUnexpectedContent:
		return "unexpected_content"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeNetworkError:
		return "network_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FetchOutcome is the result of fetching one date.
type FetchOutcome struct {
	Kind OutcomeKind
	// Date is the date served by a successful fetch.
	Date string
	// TargetDate is the date a redirect points at.
	TargetDate string
	Markup     string
	StatusCode int
	Err        error
}

// Success builds an OutcomeSuccess.
func Success(date, markup string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, Date: date, Markup: markup, StatusCode: 200}
}

// Redirected builds an OutcomeRedirected.
func Redirected(target string, status int) FetchOutcome {
	return FetchOutcome{Kind: OutcomeRedirected, TargetDate: target, StatusCode: status}
}

// UnexpectedContent builds an OutcomeUnexpectedContent.
func UnexpectedContent(date, markup string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeUnexpectedContent, Date: date, Markup: markup, StatusCode: 200}
}

// HTTPError builds an OutcomeHTTPError.
func HTTPError(status int) FetchOutcome {
	return FetchOutcome{Kind: OutcomeHTTPError, StatusCode: status}
}

// NetworkError builds an OutcomeNetworkError.
func NetworkError(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeNetworkError, Err: err}
}

// Error converts a non-success outcome into an error wrapping the matching sentinel.
func (o FetchOutcome) Error() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeRedirected:
		return fmt.Errorf("%w: redirected to %s", ErrUpstreamShape, o.TargetDate)
	case OutcomeUnexpectedContent:
		return fmt.Errorf("%w: page for %s lacks listing markers", ErrUpstreamShape, o.Date)
	case OutcomeHTTPError:
		return fmt.Errorf("%w: status %d", ErrNetwork, o.StatusCode)
	default:
		if o.Err != nil {
			return fmt.Errorf("%w: %w", ErrNetwork, o.Err)
		}
		return ErrNetwork
	}
}
