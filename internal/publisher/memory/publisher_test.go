package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

func TestPublisherRecordsEvaluationEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := New()
	score := 3.0
	done := papers.EvaluationEvent{
		ArxivID:    "2501.00001",
		Status:     papers.StatusCompleted,
		Score:      &score,
		FinishedAt: time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC),
	}
	failed := papers.EvaluationEvent{ArxivID: "2501.00002", Status: papers.StatusFailed, Error: "model overloaded"}

	id, err := pub.Publish(ctx, "evaluations", done)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	_, err = pub.Publish(ctx, "audit", "not an event")
	require.NoError(t, err)
	id, err = pub.Publish(ctx, "evaluations", failed)
	require.NoError(t, err)
	require.Equal(t, "memory-3", id)

	events := pub.Events("evaluations")
	require.Equal(t, []papers.EvaluationEvent{done, failed}, events)
	require.Empty(t, pub.Events("audit"))
	require.Len(t, pub.Topic("audit"), 1)

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, map[string]string{
		"topic":    "evaluations",
		"arxiv_id": "2501.00001",
		"status":   string(papers.StatusCompleted),
	}, msgs[0].Attributes)
	require.Equal(t, map[string]string{"topic": "audit"}, msgs[1].Attributes)

	msgs[0].Topic = "modified"
	require.Equal(t, "evaluations", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := New()
	outage := errors.New("broker unavailable")
	pub.FailWith(outage)

	_, err := pub.Publish(ctx, "evaluations", papers.EvaluationEvent{ArxivID: "2501.00001"})
	require.ErrorIs(t, err, outage)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(ctx, "evaluations", papers.EvaluationEvent{ArxivID: "2501.00001"})
	require.NoError(t, err)
	require.Len(t, pub.Events("evaluations"), 1)
}
