// Package anthropic evaluates papers through the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/evaluator"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

const (
	defaultEndpoint  = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4000
	apiVersion       = "2023-06-01"
)

// Config holds API credentials and request settings.
type Config struct {
	APIKey    string
	Model     string
	Endpoint  string
	MaxTokens int
	Timeout   time.Duration
}

// Evaluator calls the Messages API with a forced tool call.
type Evaluator struct {
	client *resty.Client
	cfg    Config
	clock  papers.Clock
	logger *zap.Logger
}

// New validates cfg and builds the HTTP client.
func New(cfg Config, clock papers.Clock, logger *zap.Logger) (*Evaluator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &Evaluator{client: client, cfg: cfg, clock: clock, logger: logger}, nil
}

// Evaluate sends the document URL and returns the tool input as content.
func (e *Evaluator) Evaluate(ctx context.Context, req papers.EvaluationRequest) (papers.EvaluationResult, error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(e.requestBody(req)).
		Post("/v1/messages")
	if err != nil {
		return papers.EvaluationResult{}, fmt.Errorf("%w: anthropic request: %w", papers.ErrEvaluation, err)
	}
	body := resp.String()
	if resp.IsError() {
		msg := gjson.Get(body, "error.message").String()
		return papers.EvaluationResult{}, fmt.Errorf("%w: anthropic status %d: %s", papers.ErrEvaluation, resp.StatusCode(), msg)
	}
	e.logger.Debug("anthropic response",
		zap.String("arxiv_id", req.ArxivID),
		zap.String("stop_reason", gjson.Get(body, "stop_reason").String()),
		zap.Int64("output_tokens", gjson.Get(body, "usage.output_tokens").Int()),
	)

	input := gjson.Get(body, `content.#(type=="tool_use").input`)
	if !input.Exists() {
		// Without a tool call only the text report is kept.
		text := gjson.Get(body, `content.#(type=="text").text`).String()
		if strings.TrimSpace(text) == "" {
			return papers.EvaluationResult{}, fmt.Errorf("%w: anthropic returned no content", papers.ErrEvaluation)
		}
		return papers.EvaluationResult{Content: text}, nil
	}
	return evaluator.Finalize(input.Raw, evaluator.Metadata{
		AssessedAt: e.clock.Now(),
		Model:      e.cfg.Model,
		PaperPath:  req.DocumentURL,
	})
}

func (e *Evaluator) requestBody(req papers.EvaluationRequest) map[string]any {
	return map[string]any{
		"model":      e.cfg.Model,
		"max_tokens": e.cfg.MaxTokens,
		"system":     evaluator.SystemPrompt,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": "Please evaluate this academic paper:"},
					{"type": "document", "source": map[string]any{"type": "url", "url": req.DocumentURL}},
					{"type": "text", "text": evaluator.AssessmentPrompt},
				},
			},
		},
		"tools": []map[string]any{
			{
				"name":         evaluator.ToolName,
				"description":  "Return the complete automation assessment as a single JSON object.",
				"input_schema": evaluator.AssessmentSchema(),
			},
		},
		"tool_choice": map[string]any{"type": "tool", "name": evaluator.ToolName},
	}
}
