// Package papers defines the daily-papers domain model and the contracts
// implemented by fetchers, stores, evaluators and publishers.
package papers
