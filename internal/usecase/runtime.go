package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/engine"
)

// Start loads all active tasks from persistence, hands them to the engine
// (overdue tasks fire once immediately, no backfill), and starts the result
// and reconciler loops. Persistence is the source of truth: whatever the
// engine believed before a restart is discarded and rebuilt here.
func (s *TaskService) Start(ctx context.Context) error {
	active, err := s.tasks.FindByStatus(ctx, domain.TaskActive)
	if err != nil {
		return fmt.Errorf("load active tasks: %w", err)
	}
	if err := s.engine.Start(active); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	s.logger.Info("recovered active tasks", "count", len(active))

	go s.consumeResults()
	go s.reconcileLoop(ctx)
	return nil
}

// Stop shuts the engine down; the result loop drains and exits when the
// results channel closes.
func (s *TaskService) Stop() {
	s.engine.Stop()
}

func (s *TaskService) consumeResults() {
	for res := range s.engine.Results() {
		// Detached context: results arrive asynchronously and must be
		// recorded even while the caller's request is long gone.
		s.handleResult(context.Background(), res)
	}
	s.logger.Info("result loop drained")
}

// handleResult records one execution outcome: append history, update the
// task's bookkeeping, and drive completion / retry / permanent failure.
func (s *TaskService) handleResult(ctx context.Context, res engine.Result) {
	t, err := s.tasks.FindByUUID(ctx, res.TaskID)
	if err != nil {
		s.logger.Error("load task for result", "task_uuid", res.TaskID, "error", err)
		return
	}

	rec := &domain.ExecutionRecord{
		TaskUUID:      t.UUID,
		ExecutionTime: res.ExecutedAt,
		Status:        res.Status,
		Duration:      res.Duration,
		Result:        res.Output,
		RetryCount:    t.RetryCount,
	}
	if res.Err != nil {
		msg := res.Err.Error()
		rec.Error = &msg
	}
	if _, err := s.execs.Save(ctx, rec); err != nil {
		s.logger.Error("append execution record", "task_uuid", t.UUID, "error", err)
	}

	if res.Status == domain.ExecutionSuccess {
		s.handleSuccess(ctx, t, res)
		return
	}
	s.handleFailure(ctx, t, res)
}

func (s *TaskService) handleSuccess(ctx context.Context, t *domain.ScheduleTask, res engine.Result) {
	next, err := t.Schedule.NextRun(time.Now(), &res.ExecutedAt)
	if err != nil {
		s.logger.Error("recompute next run", "task_uuid", t.UUID, "error", err)
	}
	t.RecordRun(res.ExecutedAt, next)

	s.emit(ctx, domain.EventExecutionSucceeded, t, map[string]any{
		"duration_ms":     res.Duration.Milliseconds(),
		"execution_count": t.ExecutionCount,
	})

	if t.MaxExecutionsReached() || next == nil {
		if err := s.finishTask(ctx, t, domain.TaskCompleted); err != nil {
			s.logger.Error("complete exhausted task", "task_uuid", t.UUID, "error", err)
		}
		return
	}

	if err := s.tasks.Save(ctx, t); err != nil {
		s.logger.Error("save task after success", "task_uuid", t.UUID, "error", err)
	}
}

func (s *TaskService) handleFailure(ctx context.Context, t *domain.ScheduleTask, res engine.Result) {
	exhausted := t.RecordFailure()

	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	s.emit(ctx, domain.EventExecutionFailed, t, map[string]any{
		"error":       errMsg,
		"status":      string(res.Status),
		"retry_count": t.RetryCount,
		"max_retries": t.Retry.MaxRetries,
	})

	if exhausted {
		if err := s.finishTask(ctx, t, domain.TaskFailed); err != nil {
			s.logger.Error("fail task", "task_uuid", t.UUID, "error", err)
			return
		}
		s.logger.Warn("task permanently failed",
			"task_uuid", t.UUID, "error", errMsg, "retries", t.RetryCount-1)
		s.sendFailureAlert(ctx, t, errMsg)
		return
	}

	if err := s.tasks.Save(ctx, t); err != nil {
		s.logger.Error("save task after failure", "task_uuid", t.UUID, "error", err)
	}

	delay := t.Retry.Delay(t.RetryCount)
	if err := s.engine.RunTaskIn(t.UUID, delay); err != nil {
		s.logger.Error("schedule retry", "task_uuid", t.UUID, "error", err)
		return
	}
	s.logger.Warn("execution failed, will retry",
		"task_uuid", t.UUID,
		"error", errMsg,
		"attempt", t.RetryCount,
		"max_retries", t.Retry.MaxRetries,
		"retry_in", delay,
	)
}

func (s *TaskService) sendFailureAlert(ctx context.Context, t *domain.ScheduleTask, errMsg string) {
	if s.sender == nil || s.alertEmail == "" {
		return
	}
	subject := fmt.Sprintf("Scheduled task failed: %s", t.Name)
	body := fmt.Sprintf(
		"<p>Task <strong>%s</strong> (%s) exhausted its retries and was marked failed.</p><p>Last error: %s</p>",
		t.Name, t.UUID, errMsg,
	)
	if err := s.sender.Send(ctx, s.alertEmail, subject, body); err != nil {
		s.logger.Error("send failure alert", "task_uuid", t.UUID, "error", err)
	}
}

// reconcileLoop periodically repairs drift between persistence and the
// engine: active tasks missing a registration get re-added, registrations
// without a matching active row get removed.
func (s *TaskService) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	s.logger.Info("reconciler started", "interval", s.reconcileInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciler shut down")
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *TaskService) reconcile(ctx context.Context) {
	active, err := s.tasks.FindByStatus(ctx, domain.TaskActive)
	if err != nil {
		s.logger.Error("reconcile: load active tasks", "error", err)
		return
	}

	registered := make(map[string]bool)
	for _, id := range s.engine.ListActive() {
		registered[id] = true
	}

	activeSet := make(map[string]bool, len(active))
	var added, removed int
	for _, t := range active {
		activeSet[t.UUID] = true
		if registered[t.UUID] {
			continue
		}
		if err := s.engine.AddTask(t); err != nil {
			s.logger.Error("reconcile: register task", "task_uuid", t.UUID, "error", err)
			continue
		}
		added++
	}
	for id := range registered {
		if !activeSet[id] {
			s.engine.RemoveTask(id)
			removed++
		}
	}

	if added > 0 || removed > 0 {
		s.logger.Info("reconciled engine registrations", "added", added, "removed", removed)
	}
}
