// Package gemini evaluates papers with Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/daily-papers/internal/evaluator"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

const defaultModel = "gemini-2.5-flash"

// Config holds API credentials and retry settings.
type Config struct {
	APIKey     string
	Model      string
	MaxTokens  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Evaluator sends the paper PDF by URI and asks for a JSON assessment.
type Evaluator struct {
	models generator
	cfg    Config
	clock  papers.Clock
	logger *zap.Logger
}

// New creates a Gemini API client.
func New(ctx context.Context, cfg Config, clock papers.Clock, logger *zap.Logger) (*Evaluator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newWithGenerator(client.Models, cfg, clock, logger), nil
}

func newWithGenerator(models generator, cfg Config, clock papers.Clock, logger *zap.Logger) *Evaluator {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{models: models, cfg: cfg, clock: clock, logger: logger}
}

// Evaluate runs the assessment, retrying rate limits and server errors.
func (e *Evaluator) Evaluate(ctx context.Context, req papers.EvaluationRequest) (papers.EvaluationResult, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText("Please evaluate this academic paper:"),
			genai.NewPartFromURI(req.DocumentURL, "application/pdf"),
			genai.NewPartFromText(evaluator.AssessmentPrompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(evaluator.SystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr(float32(0.1)),
	}
	if e.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(e.cfg.MaxTokens)
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt)
			e.logger.Info("retrying gemini request",
				zap.String("arxiv_id", req.ArxivID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return papers.EvaluationResult{}, fmt.Errorf("%w: %w", papers.ErrEvaluation, ctx.Err())
			}
		}
		resp, err := e.models.GenerateContent(ctx, e.cfg.Model, contents, config)
		if err == nil {
			return e.result(resp, req)
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return papers.EvaluationResult{}, fmt.Errorf("%w: gemini generate: %w", papers.ErrEvaluation, lastErr)
}

func (e *Evaluator) result(resp *genai.GenerateContentResponse, req papers.EvaluationRequest) (papers.EvaluationResult, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return papers.EvaluationResult{}, fmt.Errorf("%w: gemini returned no candidates", papers.ErrEvaluation)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return papers.EvaluationResult{}, fmt.Errorf("%w: gemini returned empty text", papers.ErrEvaluation)
	}
	result, err := evaluator.Finalize(text, evaluator.Metadata{
		AssessedAt: e.clock.Now(),
		Model:      e.cfg.Model,
		PaperPath:  req.DocumentURL,
	})
	if err != nil {
		// Keep the report even when the model ignored the JSON mime type.
		e.logger.Warn("gemini response is not an assessment object", zap.String("arxiv_id", req.ArxivID))
		return papers.EvaluationResult{Content: text}, nil
	}
	return result, nil
}

func (e *Evaluator) backoff(attempt int) time.Duration {
	delay := e.cfg.BaseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	return delay
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF")
}
