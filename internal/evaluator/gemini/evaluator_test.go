package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/JakeFAU/daily-papers/internal/clock/fake"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

type fakeGenerator struct {
	responses []string
	errs      []error
	calls     int
	model     string
	contents  []*genai.Content
	config    *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	f.model = model
	f.contents = contents
	f.config = config
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := ""
	if i < len(f.responses) {
		text = f.responses[i]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}, nil
}

var now = time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

func TestEvaluateJSON(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{responses: []string{`{"executive_summary":"s","scorecard":{"overall_automatability":1.5}}`}}
	ev := newWithGenerator(gen, Config{MaxTokens: 2048}, fake.New(now), nil)

	result, err := ev.Evaluate(context.Background(), papers.EvaluationRequest{
		ArxivID:     "2501.00001",
		DocumentURL: "https://arxiv.org/pdf/2501.00001.pdf",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"overall_automatability":1.5}`, string(result.Scorecard))
	require.Equal(t, defaultModel, gjson.Get(result.Content, "metadata.model").String())

	require.Equal(t, defaultModel, gen.model)
	require.Equal(t, "application/json", gen.config.ResponseMIMEType)
	require.Equal(t, int32(2048), gen.config.MaxOutputTokens)
	parts := gen.contents[0].Parts
	require.Len(t, parts, 3)
	require.NotNil(t, parts[1].FileData)
	require.Equal(t, "https://arxiv.org/pdf/2501.00001.pdf", parts[1].FileData.FileURI)
}

func TestEvaluatePlainTextIsKept(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{responses: []string{"just words"}}
	ev := newWithGenerator(gen, Config{}, fake.New(now), nil)

	result, err := ev.Evaluate(context.Background(), papers.EvaluationRequest{ArxivID: "x"})
	require.NoError(t, err)
	require.Equal(t, "just words", result.Content)
	require.Nil(t, result.Scorecard)
}

func TestEvaluateRetriesServerErrors(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{
		errs:      []error{&genai.APIError{Code: 503}, nil},
		responses: []string{"", `{"scorecard":{}}`},
	}
	ev := newWithGenerator(gen, Config{MaxRetries: 2, BaseDelay: time.Millisecond}, fake.New(now), nil)

	_, err := ev.Evaluate(context.Background(), papers.EvaluationRequest{ArxivID: "x"})
	require.NoError(t, err)
	require.Equal(t, 2, gen.calls)
}

func TestEvaluateStopsOnClientErrors(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{errs: []error{errors.New("bad request"), nil}}
	ev := newWithGenerator(gen, Config{MaxRetries: 3, BaseDelay: time.Millisecond}, fake.New(now), nil)

	_, err := ev.Evaluate(context.Background(), papers.EvaluationRequest{ArxivID: "x"})
	require.ErrorIs(t, err, papers.ErrEvaluation)
	require.Equal(t, 1, gen.calls)
}

func TestEvaluateEmptyText(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{responses: []string{"  "}}
	ev := newWithGenerator(gen, Config{}, fake.New(now), nil)
	_, err := ev.Evaluate(context.Background(), papers.EvaluationRequest{ArxivID: "x"})
	require.ErrorIs(t, err, papers.ErrEvaluation)
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()
	ev := newWithGenerator(&fakeGenerator{}, Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second}, fake.New(now), nil)
	require.Equal(t, time.Second, ev.backoff(1))
	require.Equal(t, 2*time.Second, ev.backoff(2))
	require.Equal(t, 3*time.Second, ev.backoff(5))
}
