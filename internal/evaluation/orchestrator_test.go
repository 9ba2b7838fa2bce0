package evaluation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/daily-papers/internal/clock/fake"
	"github.com/JakeFAU/daily-papers/internal/papers"
	"github.com/JakeFAU/daily-papers/internal/publisher/memory"
	memstore "github.com/JakeFAU/daily-papers/internal/storage/memory"
)

var epoch = time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)

type stubEvaluator struct {
	mu       sync.Mutex
	release  chan struct{}
	started  chan string
	result   papers.EvaluationResult
	err      error
	panicMsg string
	requests []papers.EvaluationRequest
}

func (s *stubEvaluator) Evaluate(ctx context.Context, req papers.EvaluationRequest) (papers.EvaluationResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.started != nil {
		s.started <- req.ArxivID
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return papers.EvaluationResult{}, ctx.Err()
		}
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.result, s.err
}

type failingStatusStore struct {
	papers.PaperStore
}

func (failingStatusStore) SetPaperStatus(context.Context, string, papers.EvaluationStatus) error {
	return papers.ErrPersistence
}

func newFixture(t *testing.T, eval papers.Evaluator) (*Orchestrator, *memstore.CacheStore, *memory.Publisher) {
	t.Helper()
	store := memstore.NewCacheStore(fake.New(epoch))
	require.NoError(t, store.UpsertPaper(context.Background(), papers.PaperInput{
		ArxivID: "2501.00001",
		Title:   "Agents All The Way Down",
		Authors: "3 authors",
	}))
	pub := memory.New()
	o := New(store, eval, pub, fake.New(epoch), Config{Topic: "evaluations"}, nil)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o, store, pub
}

const scoredContent = `{"summary":"ok","scorecard":{"overall_automatability":3,"three_year_feasibility_pct":40,"task_formalization":2,"data_resource_availability":4}}`

func TestStartEvaluationCompletes(t *testing.T) {
	t.Parallel()
	eval := &stubEvaluator{result: papers.EvaluationResult{Content: scoredContent}}
	o, store, pub := newFixture(t, eval)

	status, err := o.StartEvaluation(context.Background(), "2501.00001", false)
	require.NoError(t, err)
	require.Equal(t, StartStarted, status)
	o.Wait()

	paper, ok, err := store.GetPaper(context.Background(), "2501.00001")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, paper.IsEvaluated)
	require.Equal(t, papers.StatusCompleted, paper.Status)
	require.NotNil(t, paper.OverallScore)
	require.InDelta(t, 3.0, *paper.OverallScore, 1e-9)
	require.Equal(t, "3yr_feasibility:40%,task_formalization:2/4,data_availability:4/4", paper.EvaluationTags)

	require.Len(t, eval.requests, 1)
	require.Equal(t, "https://arxiv.org/pdf/2501.00001.pdf", eval.requests[0].DocumentURL)

	events := pub.Events("evaluations")
	require.Len(t, events, 1)
	event := events[0]
	require.Equal(t, papers.StatusCompleted, event.Status)
	require.Equal(t, "2501.00001", pub.Messages()[0].Attributes["arxiv_id"])
	require.Equal(t, epoch, event.FinishedAt)

	snap := o.ListActiveTasks()
	require.Zero(t, snap.TotalActive)
	require.Zero(t, snap.TotalTracked)
}

func TestStartEvaluationConcurrentCallersStartOnce(t *testing.T) {
	t.Parallel()
	eval := &stubEvaluator{
		release: make(chan struct{}),
		result:  papers.EvaluationResult{Content: scoredContent},
	}
	o, _, _ := newFixture(t, eval)
	ctx := context.Background()

	const callers = 64
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = make(map[StartStatus]int)
		gate   = make(chan struct{})
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			status, err := o.StartEvaluation(ctx, "2501.00001", true)
			if err != nil {
				t.Errorf("StartEvaluation() error = %v", err)
				return
			}
			mu.Lock()
			counts[status]++
			mu.Unlock()
		}()
	}
	close(gate)
	wg.Wait()

	require.Equal(t, map[StartStatus]int{StartStarted: 1, StartAlreadyRunning: callers - 1}, counts)
	require.Equal(t, 1, o.ListActiveTasks().TotalActive)

	close(eval.release)
	o.Wait()

	require.Zero(t, o.ListActiveTasks().TotalTracked)
	status, err := o.GetStatus(ctx, "2501.00001")
	require.NoError(t, err)
	require.False(t, status.IsRunning)
	require.True(t, status.IsEvaluated)

	again, err := o.StartEvaluation(ctx, "2501.00001", false)
	require.NoError(t, err)
	require.Equal(t, StartAlreadyEvaluated, again)

	eval.mu.Lock()
	defer eval.mu.Unlock()
	require.Len(t, eval.requests, 1)
}

func TestStartEvaluationAtMostOnePerPaper(t *testing.T) {
	t.Parallel()
	eval := &stubEvaluator{
		release: make(chan struct{}),
		started: make(chan string, 1),
		result:  papers.EvaluationResult{Content: "plain report"},
	}
	o, _, _ := newFixture(t, eval)
	ctx := context.Background()

	first, err := o.StartEvaluation(ctx, "2501.00001", false)
	require.NoError(t, err)
	require.Equal(t, StartStarted, first)
	<-eval.started

	second, err := o.StartEvaluation(ctx, "2501.00001", true)
	require.NoError(t, err)
	require.Equal(t, StartAlreadyRunning, second)

	status, err := o.GetStatus(ctx, "2501.00001")
	require.NoError(t, err)
	require.True(t, status.IsRunning)
	require.Equal(t, papers.StatusEvaluating, status.Status)

	snap := o.ListActiveTasks()
	require.Equal(t, 1, snap.TotalActive)
	require.Equal(t, "running", snap.ActiveTasks["2501.00001"].Status)
	require.False(t, snap.ActiveTasks["2501.00001"].Done)

	close(eval.release)
	o.Wait()

	third, err := o.StartEvaluation(ctx, "2501.00001", false)
	require.NoError(t, err)
	require.Equal(t, StartAlreadyEvaluated, third)

	eval.release = nil
	eval.started = nil
	forced, err := o.StartEvaluation(ctx, "2501.00001", true)
	require.NoError(t, err)
	require.Equal(t, StartStarted, forced)
	o.Wait()
}

func TestStartEvaluationMissingPaper(t *testing.T) {
	t.Parallel()
	o, _, _ := newFixture(t, &stubEvaluator{})
	_, err := o.StartEvaluation(context.Background(), "9999.99999", false)
	require.ErrorIs(t, err, papers.ErrPaperNotFound)

	_, err = o.GetStatus(context.Background(), "9999.99999")
	require.ErrorIs(t, err, papers.ErrPaperNotFound)
}

func TestEvaluationFailureMarksFailed(t *testing.T) {
	t.Parallel()
	eval := &stubEvaluator{err: errors.New("model overloaded")}
	o, store, pub := newFixture(t, eval)

	status, err := o.StartEvaluation(context.Background(), "2501.00001", false)
	require.NoError(t, err)
	require.Equal(t, StartStarted, status)
	o.Wait()

	paper, _, err := store.GetPaper(context.Background(), "2501.00001")
	require.NoError(t, err)
	require.Equal(t, papers.StatusFailed, paper.Status)
	require.False(t, paper.IsEvaluated)
	require.False(t, o.tasks.IsRunning("2501.00001"))

	event := pub.Events("evaluations")[0]
	require.Equal(t, papers.StatusFailed, event.Status)
	require.Contains(t, event.Error, "model overloaded")
}

func TestPublishFailureDoesNotFailEvaluation(t *testing.T) {
	t.Parallel()
	eval := &stubEvaluator{result: papers.EvaluationResult{Content: scoredContent}}
	o, store, pub := newFixture(t, eval)
	pub.FailWith(errors.New("broker unavailable"))

	_, err := o.StartEvaluation(context.Background(), "2501.00001", false)
	require.NoError(t, err)
	o.Wait()

	paper, _, err := store.GetPaper(context.Background(), "2501.00001")
	require.NoError(t, err)
	require.Equal(t, papers.StatusCompleted, paper.Status)
	require.True(t, paper.IsEvaluated)
	require.Empty(t, pub.Events("evaluations"))
}

func TestEvaluationPanicIsRecovered(t *testing.T) {
	t.Parallel()
	o, store, _ := newFixture(t, &stubEvaluator{panicMsg: "boom"})

	_, err := o.StartEvaluation(context.Background(), "2501.00001", false)
	require.NoError(t, err)
	o.Wait()

	paper, _, err := store.GetPaper(context.Background(), "2501.00001")
	require.NoError(t, err)
	require.Equal(t, papers.StatusFailed, paper.Status)
	require.Zero(t, o.ListActiveTasks().TotalTracked)
}

func TestStartEvaluationStatusWriteFailure(t *testing.T) {
	t.Parallel()
	store := memstore.NewCacheStore(fake.New(epoch))
	require.NoError(t, store.UpsertPaper(context.Background(), papers.PaperInput{ArxivID: "2501.00001", Title: "t"}))
	eval := &stubEvaluator{}
	o := New(failingStatusStore{PaperStore: store}, eval, nil, fake.New(epoch), Config{}, nil)

	_, err := o.StartEvaluation(context.Background(), "2501.00001", false)
	require.ErrorIs(t, err, papers.ErrPersistence)
	require.False(t, o.tasks.IsRunning("2501.00001"))
	require.Empty(t, eval.requests)
}

func TestStaleEvaluatingStatusIsNotRunning(t *testing.T) {
	t.Parallel()
	o, store, _ := newFixture(t, &stubEvaluator{})
	require.NoError(t, store.SetPaperStatus(context.Background(), "2501.00001", papers.StatusEvaluating))

	status, err := o.GetStatus(context.Background(), "2501.00001")
	require.NoError(t, err)
	require.False(t, status.IsRunning)
	require.Equal(t, papers.StatusEvaluating, status.Status)

	started, err := o.StartEvaluation(context.Background(), "2501.00001", true)
	require.NoError(t, err)
	require.Equal(t, StartStarted, started)
	o.Wait()
}

func TestCloseCancelsRunningTasks(t *testing.T) {
	t.Parallel()
	eval := &stubEvaluator{release: make(chan struct{}), started: make(chan string, 1)}
	o, store, _ := newFixture(t, eval)

	_, err := o.StartEvaluation(context.Background(), "2501.00001", false)
	require.NoError(t, err)
	<-eval.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Close(ctx))

	paper, _, err := store.GetPaper(context.Background(), "2501.00001")
	require.NoError(t, err)
	require.Equal(t, papers.StatusFailed, paper.Status)

	_, err = o.StartEvaluation(context.Background(), "2501.00001", false)
	require.ErrorIs(t, err, papers.ErrUnavailable)
}
