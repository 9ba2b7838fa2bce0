// Package evaluation runs paper evaluations in the background and tracks the
// live task for each paper.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/metrics"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

// StartStatus is the answer to a start request.
type StartStatus string

const (
	// StartStarted means a new background task was launched.
	StartStarted StartStatus = "started"
	// StartAlreadyRunning means a live task exists for the paper.
	StartAlreadyRunning StartStatus = "already_running"
	// StartAlreadyEvaluated means the paper has a result and force was not set.
	StartAlreadyEvaluated StartStatus = "already_evaluated"
)

// DefaultDocumentURLTemplate locates the PDF for an arXiv id.
const DefaultDocumentURLTemplate = "https://arxiv.org/pdf/%s.pdf"

// Config controls orchestrator behavior.
type Config struct {
	DocumentURLTemplate string
	Topic               string
	// Timeout bounds a single evaluator call. Zero means no bound.
	Timeout time.Duration
}

// Status is the combined persisted and in-process view of a paper.
type Status struct {
	ArxivID         string                  `json:"arxiv_id"`
	Status          papers.EvaluationStatus `json:"status"`
	IsEvaluated     bool                    `json:"is_evaluated"`
	IsRunning       bool                    `json:"is_running"`
	EvaluationDate  *time.Time              `json:"evaluation_date,omitempty"`
	EvaluationScore *float64                `json:"evaluation_score,omitempty"`
}

// Orchestrator starts evaluations and owns the live-task set.
type Orchestrator struct {
	store     papers.PaperStore
	evaluator papers.Evaluator
	publisher papers.Publisher
	clock     papers.Clock
	tasks     *TaskManager
	cfg       Config
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an Orchestrator. publisher may be nil.
func New(
	store papers.PaperStore,
	evaluator papers.Evaluator,
	publisher papers.Publisher,
	clock papers.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DocumentURLTemplate == "" {
		cfg.DocumentURLTemplate = DefaultDocumentURLTemplate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		evaluator: evaluator,
		publisher: publisher,
		clock:     clock,
		tasks:     NewTaskManager(),
		cfg:       cfg,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// StartEvaluation launches a background evaluation for arxivID unless one is
// already live or the paper is evaluated and force is false.
func (o *Orchestrator) StartEvaluation(ctx context.Context, arxivID string, force bool) (StartStatus, error) {
	paper, ok, err := o.store.GetPaper(ctx, arxivID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", papers.ErrPaperNotFound, arxivID)
	}
	if paper.IsEvaluated && !force {
		return StartAlreadyEvaluated, nil
	}
	if err := o.baseCtx.Err(); err != nil {
		return "", fmt.Errorf("%w: orchestrator closed", papers.ErrUnavailable)
	}

	taskCtx, cancel := context.WithCancel(o.baseCtx)
	task, registered := o.tasks.TryRegister(taskCtx, arxivID, force, o.clock.Now())
	if !registered {
		cancel()
		return StartAlreadyRunning, nil
	}

	if err := o.store.SetPaperStatus(ctx, arxivID, papers.StatusEvaluating); err != nil {
		o.logger.Error("mark evaluating failed", zap.String("arxiv_id", arxivID), zap.Error(err))
		if ferr := o.store.SetPaperStatus(context.WithoutCancel(ctx), arxivID, papers.StatusFailed); ferr != nil {
			o.logger.Error("mark failed failed", zap.String("arxiv_id", arxivID), zap.Error(ferr))
		}
		close(task.done)
		o.tasks.Complete(task)
		cancel()
		return "", err
	}

	o.logger.Info("evaluation started", zap.String("arxiv_id", arxivID), zap.Bool("force", force))
	metrics.IncActiveEvaluations()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(taskCtx, task)
	}()
	return StartStarted, nil
}

func (o *Orchestrator) run(ctx context.Context, task *Task) {
	id := task.ArxivID
	event := papers.EvaluationEvent{ArxivID: id}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("evaluation panicked", zap.String("arxiv_id", id), zap.Any("panic", r))
			event.Status = papers.StatusFailed
			event.Error = fmt.Sprintf("panic: %v", r)
			o.markFailed(id)
		}
		event.FinishedAt = o.clock.Now()
		close(task.done)
		o.tasks.Complete(task)
		metrics.DecActiveEvaluations()
		metrics.ObserveEvaluation(string(event.Status))
		o.publish(event)
	}()

	sum, err := o.evaluate(ctx, id)
	if err != nil {
		o.logger.Warn("evaluation failed", zap.String("arxiv_id", id), zap.Error(err))
		event.Status = papers.StatusFailed
		event.Error = err.Error()
		o.markFailed(id)
		return
	}
	event.Status = papers.StatusCompleted
	event.Score = sum.OverallScore
	event.Tags = sum.Tags
	o.logger.Info("evaluation completed", zap.String("arxiv_id", id), zap.Duration("elapsed", o.clock.Now().Sub(task.StartedAt)))
}

func (o *Orchestrator) evaluate(ctx context.Context, id string) (Summary, error) {
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	result, err := o.evaluator.Evaluate(ctx, papers.EvaluationRequest{
		ArxivID:     id,
		DocumentURL: papers.DocumentURL(o.cfg.DocumentURLTemplate, id),
	})
	if err != nil {
		if errors.Is(err, papers.ErrEvaluation) {
			return Summary{}, err
		}
		return Summary{}, fmt.Errorf("%w: %w", papers.ErrEvaluation, err)
	}
	sum := Summarize(ScorecardOf(result))
	update := papers.EvaluationUpdate{
		Content:      result.Content,
		Score:        sum.Score,
		OverallScore: sum.OverallScore,
		Tags:         sum.Tags,
	}
	// The result is persisted even when the task context was cancelled mid-call.
	if err := o.store.UpdatePaperEvaluation(context.WithoutCancel(ctx), id, update); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (o *Orchestrator) markFailed(id string) {
	if err := o.store.SetPaperStatus(context.Background(), id, papers.StatusFailed); err != nil {
		o.logger.Error("mark failed failed", zap.String("arxiv_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) publish(event papers.EvaluationEvent) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	msgID, err := o.publisher.Publish(context.Background(), o.cfg.Topic, event)
	if err != nil {
		o.logger.Warn("evaluation event publish failed", zap.String("arxiv_id", event.ArxivID), zap.Error(err))
		return
	}
	o.logger.Debug("evaluation event published", zap.String("arxiv_id", event.ArxivID), zap.String("message_id", msgID))
}

// GetStatus merges the stored status with the live-task set.
func (o *Orchestrator) GetStatus(ctx context.Context, arxivID string) (Status, error) {
	paper, ok, err := o.store.GetPaper(ctx, arxivID)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", papers.ErrPaperNotFound, arxivID)
	}
	status := paper.Status
	if status == "" {
		status = papers.StatusNotStarted
	}
	return Status{
		ArxivID:         arxivID,
		Status:          status,
		IsEvaluated:     paper.IsEvaluated,
		IsRunning:       o.tasks.IsRunning(arxivID),
		EvaluationDate:  paper.EvaluationDate,
		EvaluationScore: paper.EvaluationScore,
	}, nil
}

// ListActiveTasks reports the live tasks.
func (o *Orchestrator) ListActiveTasks() Snapshot {
	return o.tasks.Snapshot()
}

// Wait blocks until every launched task has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels running evaluations and waits for them to finish or until ctx ends.
func (o *Orchestrator) Close(ctx context.Context) error {
	if ids := o.tasks.ActiveIDs(); len(ids) > 0 {
		o.logger.Info("cancelling running evaluations", zap.Strings("arxiv_ids", ids))
	}
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
