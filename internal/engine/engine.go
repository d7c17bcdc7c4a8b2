package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/metrics"
)

const DefaultExecutionTimeout = 60 * time.Second

// ExecutionContext is handed to the handler on every firing.
type ExecutionContext struct {
	TaskID         string
	AccountUUID    string
	SourceModule   domain.SourceModule
	SourceEntityID string
	Payload        map[string]any
	ExecutedAt     time.Time
}

// Result is reported back to the orchestration layer after each execution.
type Result struct {
	TaskID     string
	Status     domain.ExecutionStatus
	Duration   time.Duration
	Output     map[string]any
	Err        error
	ExecutedAt time.Time
}

// Handler runs the actual work of a task. Implementations must honor ctx
// cancellation; the engine cannot forcibly terminate work that ignores it.
type Handler interface {
	Handle(ctx context.Context, ec ExecutionContext) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, ec ExecutionContext) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, ec ExecutionContext) (map[string]any, error) {
	return f(ctx, ec)
}

// registration keeps everything the engine needs to fire a task without
// touching shared aggregate state.
type registration struct {
	ec       ExecutionContext
	schedule domain.ScheduleConfig
	cronID   cron.EntryID // 0 when the trigger is a one-off timer
	timer    *time.Timer  // nil for cron/interval triggers
	paused   bool
}

// Engine registers active tasks with a cron runtime (cron and interval kinds)
// or one-off timers, fires them through the handler with a per-execution
// timeout, and reports outcomes on the results channel. A panic or timeout in
// one task never affects another.
type Engine struct {
	handler Handler
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]*registration
	running bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	results chan Result
}

func New(handler Handler, logger *slog.Logger, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	return &Engine{
		handler: handler,
		logger:  logger.With("component", "engine"),
		timeout: timeout,
		entries: make(map[string]*registration),
		results: make(chan Result, 256),
	}
}

// Start registers the given tasks and begins firing. Tasks whose next run is
// already in the past fire once immediately (at-least-once, no backfill).
func (e *Engine) Start(tasks []*domain.ScheduleTask) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	e.c = cron.New()
	e.running = true
	e.mu.Unlock()

	now := time.Now()
	for _, t := range tasks {
		if err := e.AddTask(t); err != nil {
			e.logger.Error("register task on start", "task_uuid", t.UUID, "error", err)
			continue
		}
		if t.NextRunAt != nil && t.NextRunAt.Before(now) {
			e.logger.Info("task overdue on startup, firing once", "task_uuid", t.UUID, "next_run_at", t.NextRunAt)
			if err := e.RunTask(t.UUID); err != nil {
				e.logger.Error("fire overdue task", "task_uuid", t.UUID, "error", err)
			}
		}
	}

	e.c.Start()
	e.logger.Info("engine started", "tasks", len(tasks), "execution_timeout", e.timeout)
	return nil
}

// Stop halts all triggers, waits for in-flight executions, and closes the
// results channel.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	for _, reg := range e.entries {
		if reg.timer != nil {
			reg.timer.Stop()
		}
	}
	e.entries = make(map[string]*registration)
	c := e.c
	e.c = nil
	e.mu.Unlock()

	<-c.Stop().Done()
	e.cancel()
	e.wg.Wait()
	close(e.results)
	e.logger.Info("engine stopped")
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Results delivers execution outcomes asynchronously. Closed by Stop.
func (e *Engine) Results() <-chan Result { return e.results }

// AddTask registers a trigger for the task derived from its schedule kind.
// Re-adding an existing task replaces its registration.
func (e *Engine) AddTask(t *domain.ScheduleTask) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}

	e.removeLocked(t.UUID)

	reg := &registration{
		ec: ExecutionContext{
			TaskID:         t.UUID,
			AccountUUID:    t.AccountUUID,
			SourceModule:   t.SourceModule,
			SourceEntityID: t.SourceEntityID,
			Payload:        t.Payload,
		},
		schedule: t.Schedule,
	}

	switch t.Schedule.Kind {
	case domain.ScheduleCron:
		sched, err := t.Schedule.CronSchedule()
		if err != nil {
			return err
		}
		reg.cronID = e.c.Schedule(sched, e.job(reg))

	case domain.ScheduleInterval:
		reg.cronID = e.c.Schedule(cron.Every(t.Schedule.Interval), e.job(reg))

	case domain.ScheduleOnce:
		delay := time.Until(t.Schedule.RunAt)
		if delay < 0 {
			delay = 0
		}
		reg.timer = time.AfterFunc(delay, func() { e.fire(reg) })

	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidSchedule, t.Schedule.Kind)
	}

	e.entries[t.UUID] = reg
	metrics.EngineActiveTasks.Set(float64(len(e.entries)))
	return nil
}

func (e *Engine) job(reg *registration) cron.Job {
	return cron.FuncJob(func() { e.fire(reg) })
}

// RemoveTask unregisters the task's trigger. Removing an unknown ID is a no-op.
func (e *Engine) RemoveTask(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(id)
	metrics.EngineActiveTasks.Set(float64(len(e.entries)))
}

func (e *Engine) removeLocked(id string) {
	reg, ok := e.entries[id]
	if !ok {
		return
	}
	if reg.cronID != 0 && e.c != nil {
		e.c.Remove(reg.cronID)
	}
	if reg.timer != nil {
		reg.timer.Stop()
	}
	delete(e.entries, id)
}

// PauseTask suspends the task's trigger but keeps its registration so
// ResumeTask can rebuild it.
func (e *Engine) PauseTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	reg, ok := e.entries[id]
	if !ok {
		return ErrTaskNotRegistered
	}
	if reg.cronID != 0 && e.c != nil {
		e.c.Remove(reg.cronID)
		reg.cronID = 0
	}
	if reg.timer != nil {
		reg.timer.Stop()
		reg.timer = nil
	}
	reg.paused = true
	return nil
}

// ResumeTask re-arms a paused task's trigger.
func (e *Engine) ResumeTask(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	reg, ok := e.entries[id]
	if !ok {
		return ErrTaskNotRegistered
	}
	if !reg.paused {
		return nil
	}

	switch reg.schedule.Kind {
	case domain.ScheduleCron:
		sched, err := reg.schedule.CronSchedule()
		if err != nil {
			return err
		}
		reg.cronID = e.c.Schedule(sched, e.job(reg))
	case domain.ScheduleInterval:
		reg.cronID = e.c.Schedule(cron.Every(reg.schedule.Interval), e.job(reg))
	case domain.ScheduleOnce:
		delay := time.Until(reg.schedule.RunAt)
		if delay < 0 {
			delay = 0
		}
		reg.timer = time.AfterFunc(delay, func() { e.fire(reg) })
	}
	reg.paused = false
	return nil
}

// RunTask fires the task immediately, bypassing its schedule.
func (e *Engine) RunTask(id string) error {
	e.mu.Lock()
	reg, ok := e.entries[id]
	running := e.running
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if !ok {
		return ErrTaskNotRegistered
	}
	go e.fire(reg)
	return nil
}

// RunTaskIn fires the task once after the given delay. Used by the
// orchestration layer to schedule retries with backoff.
func (e *Engine) RunTaskIn(id string, delay time.Duration) error {
	e.mu.Lock()
	reg, ok := e.entries[id]
	running := e.running
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if !ok {
		return ErrTaskNotRegistered
	}
	time.AfterFunc(delay, func() { e.fire(reg) })
	return nil
}

// ListActive returns the IDs of all registered, unpaused tasks.
func (e *Engine) ListActive() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.entries))
	for id, reg := range e.entries {
		if !reg.paused {
			ids = append(ids, id)
		}
	}
	return ids
}

type handlerOutcome struct {
	output map[string]any
	err    error
}

// fire runs one execution in isolation: panics are contained, the handler is
// bounded by the execution timeout, and the outcome lands on the results
// channel without blocking other tasks.
func (e *Engine) fire(reg *registration) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	baseCtx := e.baseCtx
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	start := time.Now()
	ec := reg.ec
	ec.ExecutedAt = start

	ctx, cancel := context.WithTimeout(baseCtx, e.timeout)
	defer cancel()

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := e.handler.Handle(ctx, ec)
		done <- handlerOutcome{output: out, err: err}
	}()

	var res Result
	select {
	case <-ctx.Done():
		// The logical execution is over; whether the underlying work stops
		// depends on the handler honoring ctx.
		res = Result{
			TaskID:     ec.TaskID,
			Status:     domain.ExecutionTimeout,
			Duration:   time.Since(start),
			Err:        fmt.Errorf("execution timed out after %s", e.timeout),
			ExecutedAt: start,
		}
	case o := <-done:
		res = Result{
			TaskID:     ec.TaskID,
			Duration:   time.Since(start),
			Output:     o.output,
			Err:        o.err,
			ExecutedAt: start,
		}
		if o.err != nil {
			res.Status = domain.ExecutionFailure
		} else {
			res.Status = domain.ExecutionSuccess
		}
	}

	metrics.ExecutionDuration.WithLabelValues(string(res.Status)).Observe(res.Duration.Seconds())
	metrics.ExecutionsTotal.WithLabelValues(string(res.Status)).Inc()

	select {
	case e.results <- res:
	case <-baseCtx.Done():
	}
}
