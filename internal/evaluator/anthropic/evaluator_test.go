package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/daily-papers/internal/clock/fake"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

var now = time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T, status int, body string, seen chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("x-api-key"))
		require.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if seen != nil {
			seen <- string(raw)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEvaluateToolUse(t *testing.T) {
	t.Parallel()
	seenCh := make(chan string, 1)
	srv := newServer(t, http.StatusOK, `{
		"stop_reason":"tool_use",
		"content":[
			{"type":"text","text":"thinking"},
			{"type":"tool_use","name":"return_assessment","input":{"executive_summary":"s","scorecard":{"overall_automatability":3}}}
		]}`, seenCh)

	ev, err := New(Config{APIKey: "secret", Endpoint: srv.URL, Model: "test-model"}, fake.New(now), nil)
	require.NoError(t, err)

	result, err := ev.Evaluate(context.Background(), papers.EvaluationRequest{
		ArxivID:     "2501.00001",
		DocumentURL: "https://arxiv.org/pdf/2501.00001.pdf",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"overall_automatability":3}`, string(result.Scorecard))
	require.Equal(t, "test-model", gjson.Get(result.Content, "metadata.model").String())

	seen := <-seenCh
	var req map[string]any
	require.NoError(t, json.Unmarshal([]byte(seen), &req))
	require.Equal(t, "test-model", req["model"])
	require.Equal(t, "https://arxiv.org/pdf/2501.00001.pdf", gjson.Get(seen, "messages.0.content.1.source.url").String())
	require.Equal(t, "return_assessment", gjson.Get(seen, "tool_choice.name").String())
}

func TestEvaluateTextOnly(t *testing.T) {
	t.Parallel()
	srv := newServer(t, http.StatusOK, `{"content":[{"type":"text","text":"a plain report"}]}`, nil)
	ev, err := New(Config{APIKey: "secret", Endpoint: srv.URL}, fake.New(now), nil)
	require.NoError(t, err)

	result, err := ev.Evaluate(context.Background(), papers.EvaluationRequest{ArxivID: "x"})
	require.NoError(t, err)
	require.Equal(t, "a plain report", result.Content)
	require.Nil(t, result.Scorecard)
}

func TestEvaluateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api error", status: http.StatusTooManyRequests, body: `{"error":{"message":"rate limited"}}`},
		{name: "empty content", status: http.StatusOK, body: `{"content":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t, tt.status, tt.body, nil)
			ev, err := New(Config{APIKey: "secret", Endpoint: srv.URL}, fake.New(now), nil)
			require.NoError(t, err)
			_, err = ev.Evaluate(context.Background(), papers.EvaluationRequest{ArxivID: "x"})
			require.ErrorIs(t, err, papers.ErrEvaluation)
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, fake.New(now), nil)
	require.Error(t, err)
}
