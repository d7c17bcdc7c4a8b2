package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func cronTask(id string) *domain.ScheduleTask {
	return &domain.ScheduleTask{
		UUID:        id,
		AccountUUID: "acc-1",
		Name:        "Daily review",
		Schedule:    domain.ScheduleConfig{Kind: domain.ScheduleCron, CronExpr: "0 9 * * *"},
		Status:      domain.TaskActive,
		Enabled:     true,
	}
}

func startEngine(t *testing.T, h engine.Handler, timeout time.Duration) *engine.Engine {
	t.Helper()
	e := engine.New(h, testLogger(), timeout)
	if err := e.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	return e
}

func waitResult(t *testing.T, e *engine.Engine) engine.Result {
	t.Helper()
	select {
	case res := <-e.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return engine.Result{}
	}
}

func TestRunTask_ReportsSuccess(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return map[string]any{"delivered": true}, nil
	})
	e := startEngine(t, h, time.Second)
	defer e.Stop()

	if err := e.AddTask(cronTask("task-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.RunTask("task-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	res := waitResult(t, e)
	if res.TaskID != "task-1" || res.Status != domain.ExecutionSuccess {
		t.Fatalf("result = %+v, want success for task-1", res)
	}
	if res.Output["delivered"] != true {
		t.Fatalf("output = %v, want handler output propagated", res.Output)
	}
}

func TestRunTask_ReportsHandlerFailure(t *testing.T) {
	wantErr := errors.New("delivery refused")
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return nil, wantErr
	})
	e := startEngine(t, h, time.Second)
	defer e.Stop()

	if err := e.AddTask(cronTask("task-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.RunTask("task-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	res := waitResult(t, e)
	if res.Status != domain.ExecutionFailure || !errors.Is(res.Err, wantErr) {
		t.Fatalf("result = %+v, want failure wrapping handler error", res)
	}
}

func TestRunTask_TimesOutSlowHandler(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{}, nil
		}
	})
	e := startEngine(t, h, 50*time.Millisecond)
	defer e.Stop()

	if err := e.AddTask(cronTask("task-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.RunTask("task-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	res := waitResult(t, e)
	if res.Status != domain.ExecutionTimeout {
		t.Fatalf("status = %s, want timeout", res.Status)
	}
}

func TestRunTask_ContainsHandlerPanic(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		if ec.TaskID == "bad" {
			panic("nil map write")
		}
		return map[string]any{}, nil
	})
	e := startEngine(t, h, time.Second)
	defer e.Stop()

	if err := e.AddTask(cronTask("bad")); err != nil {
		t.Fatalf("add bad: %v", err)
	}
	if err := e.AddTask(cronTask("good")); err != nil {
		t.Fatalf("add good: %v", err)
	}

	if err := e.RunTask("bad"); err != nil {
		t.Fatalf("run bad: %v", err)
	}
	res := waitResult(t, e)
	if res.Status != domain.ExecutionFailure || res.Err == nil {
		t.Fatalf("panic result = %+v, want failure", res)
	}

	// Other tasks are unaffected.
	if err := e.RunTask("good"); err != nil {
		t.Fatalf("run good: %v", err)
	}
	if res := waitResult(t, e); res.Status != domain.ExecutionSuccess {
		t.Fatalf("good task after panic = %+v, want success", res)
	}
}

func TestOnceSchedule_FiresAtRunAt(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	e := startEngine(t, h, time.Second)
	defer e.Stop()

	task := cronTask("once-1")
	task.Schedule = domain.ScheduleConfig{Kind: domain.ScheduleOnce, RunAt: time.Now().Add(20 * time.Millisecond)}
	if err := e.AddTask(task); err != nil {
		t.Fatalf("add: %v", err)
	}

	res := waitResult(t, e)
	if res.TaskID != "once-1" || res.Status != domain.ExecutionSuccess {
		t.Fatalf("result = %+v, want once-1 fired", res)
	}
}

func TestRunTaskIn_FiresAfterDelay(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	e := startEngine(t, h, time.Second)
	defer e.Stop()

	if err := e.AddTask(cronTask("task-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.RunTaskIn("task-1", 20*time.Millisecond); err != nil {
		t.Fatalf("run in: %v", err)
	}

	if res := waitResult(t, e); res.TaskID != "task-1" {
		t.Fatalf("result = %+v, want delayed firing of task-1", res)
	}
}

func TestPauseResume(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	e := startEngine(t, h, time.Second)
	defer e.Stop()

	if err := e.AddTask(cronTask("task-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := e.PauseTask("task-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if ids := e.ListActive(); slices.Contains(ids, "task-1") {
		t.Fatalf("ListActive = %v, want task-1 hidden while paused", ids)
	}
	if err := e.ResumeTask("task-1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if ids := e.ListActive(); !slices.Contains(ids, "task-1") {
		t.Fatalf("ListActive = %v, want task-1 back after resume", ids)
	}

	if err := e.PauseTask("unknown"); !errors.Is(err, engine.ErrTaskNotRegistered) {
		t.Fatalf("pause unknown = %v, want ErrTaskNotRegistered", err)
	}
}

func TestRemoveTask(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	e := startEngine(t, h, time.Second)
	defer e.Stop()

	if err := e.AddTask(cronTask("task-1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	e.RemoveTask("task-1")
	if err := e.RunTask("task-1"); !errors.Is(err, engine.ErrTaskNotRegistered) {
		t.Fatalf("run removed = %v, want ErrTaskNotRegistered", err)
	}

	// Removing an unknown ID is a no-op.
	e.RemoveTask("task-1")
}

func TestStartOverdueTaskFiresOnce(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	e := engine.New(h, testLogger(), time.Second)

	past := time.Now().Add(-time.Hour)
	task := cronTask("overdue-1")
	task.NextRunAt = &past

	if err := e.Start([]*domain.ScheduleTask{task}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	if res := waitResult(t, e); res.TaskID != "overdue-1" {
		t.Fatalf("result = %+v, want immediate catch-up firing", res)
	}
}

func TestLifecycleGuards(t *testing.T) {
	h := engine.HandlerFunc(func(ctx context.Context, ec engine.ExecutionContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	e := engine.New(h, testLogger(), time.Second)

	if err := e.AddTask(cronTask("task-1")); !errors.Is(err, engine.ErrNotRunning) {
		t.Fatalf("add before start = %v, want ErrNotRunning", err)
	}
	if err := e.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !e.IsRunning() {
		t.Fatal("IsRunning = false after Start")
	}
	if err := e.Start(nil); !errors.Is(err, engine.ErrAlreadyRunning) {
		t.Fatalf("second start = %v, want ErrAlreadyRunning", err)
	}

	e.Stop()
	if e.IsRunning() {
		t.Fatal("IsRunning = true after Stop")
	}
	if _, ok := <-e.Results(); ok {
		t.Fatal("results channel still open after Stop")
	}
}
