package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/usecase"
)

type TaskHandler struct {
	svc    *usecase.TaskService
	logger *slog.Logger
}

func NewTaskHandler(svc *usecase.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger.With("component", "task_handler")}
}

type scheduleRequest struct {
	Kind            string     `json:"kind"             binding:"required,oneof=cron interval once"`
	CronExpr        string     `json:"cron_expr"        binding:"omitempty,max=256"`
	Timezone        string     `json:"timezone"         binding:"omitempty,max=64"`
	IntervalSeconds int64      `json:"interval_seconds" binding:"omitempty,min=1"`
	RunAt           *time.Time `json:"run_at"`
	StartDate       *time.Time `json:"start_date"`
	EndDate         *time.Time `json:"end_date"`
	MaxExecutions   *int       `json:"max_executions"   binding:"omitempty,min=1"`
}

func (r scheduleRequest) toConfig() domain.ScheduleConfig {
	cfg := domain.ScheduleConfig{
		Kind:          domain.ScheduleKind(r.Kind),
		CronExpr:      r.CronExpr,
		Timezone:      r.Timezone,
		Interval:      time.Duration(r.IntervalSeconds) * time.Second,
		StartDate:     r.StartDate,
		EndDate:       r.EndDate,
		MaxExecutions: r.MaxExecutions,
	}
	if r.RunAt != nil {
		cfg.RunAt = *r.RunAt
	}
	return cfg
}

type retryRequest struct {
	MaxRetries       int    `json:"max_retries"        binding:"min=0,max=20"`
	Backoff          string `json:"backoff"            binding:"omitempty,oneof=exponential linear"`
	BaseDelaySeconds int64  `json:"base_delay_seconds" binding:"omitempty,min=1,max=3600"`
}

type createTaskRequest struct {
	Name           string          `json:"name"             binding:"required,max=256"`
	Description    string          `json:"description"      binding:"omitempty,max=2048"`
	Tags           []string        `json:"tags"`
	Payload        map[string]any  `json:"payload"`
	SourceModule   string          `json:"source_module"    binding:"required,oneof=goal task reminder"`
	SourceEntityID string          `json:"source_entity_id" binding:"required,max=256"`
	Schedule       scheduleRequest `json:"schedule"         binding:"required"`
	Retry          *retryRequest   `json:"retry"`
}

type taskResponse struct {
	UUID           string     `json:"uuid"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	SourceModule   string     `json:"source_module"`
	SourceEntityID string     `json:"source_entity_id"`
	Status         string     `json:"status"`
	Enabled        bool       `json:"enabled"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	ExecutionCount int        `json:"execution_count"`
	RetryCount     int        `json:"retry_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toTaskResponse(t *domain.ScheduleTask) taskResponse {
	return taskResponse{
		UUID:           t.UUID,
		Name:           t.Name,
		Description:    t.Description,
		Tags:           t.Tags,
		SourceModule:   string(t.SourceModule),
		SourceEntityID: t.SourceEntityID,
		Status:         string(t.Status),
		Enabled:        t.Enabled,
		NextRunAt:      t.NextRunAt,
		LastRunAt:      t.LastRunAt,
		ExecutionCount: t.ExecutionCount,
		RetryCount:     t.RetryCount,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (h *TaskHandler) Create(ctx *gin.Context) {
	var req createTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := usecase.CreateTaskInput{
		AccountUUID:    ctx.GetString("accountUUID"),
		Name:           req.Name,
		Description:    req.Description,
		Tags:           req.Tags,
		Payload:        req.Payload,
		SourceModule:   domain.SourceModule(req.SourceModule),
		SourceEntityID: req.SourceEntityID,
		Schedule:       req.Schedule.toConfig(),
	}
	if req.Retry != nil {
		retry := domain.DefaultRetryPolicy()
		retry.MaxRetries = req.Retry.MaxRetries
		if req.Retry.Backoff != "" {
			retry.Backoff = domain.Backoff(req.Retry.Backoff)
		}
		if req.Retry.BaseDelaySeconds > 0 {
			retry.BaseDelay = time.Duration(req.Retry.BaseDelaySeconds) * time.Second
		}
		input.Retry = &retry
	}

	t, err := h.svc.CreateTask(ctx.Request.Context(), input)
	if err != nil {
		var creationErr *domain.CreationError
		switch {
		case errors.As(err, &creationErr) && creationErr.Step == "validate":
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("create task", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusCreated, toTaskResponse(t))
}

func (h *TaskHandler) List(ctx *gin.Context) {
	tasks, err := h.svc.GetTasksByAccount(ctx.Request.Context(), ctx.GetString("accountUUID"))
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		items[i] = toTaskResponse(t)
	}
	ctx.JSON(http.StatusOK, gin.H{"tasks": items})
}

func (h *TaskHandler) GetByUUID(ctx *gin.Context) {
	id := ctx.Param("id")

	t, err := h.svc.GetTask(ctx.Request.Context(), id, ctx.GetString("accountUUID"))
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.Error("get task", "task_uuid", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

func (h *TaskHandler) Pause(ctx *gin.Context) {
	h.lifecycle(ctx, h.svc.PauseTask)
}

func (h *TaskHandler) Resume(ctx *gin.Context) {
	h.lifecycle(ctx, h.svc.ResumeTask)
}

func (h *TaskHandler) Cancel(ctx *gin.Context) {
	h.lifecycle(ctx, h.svc.CancelTask)
}

func (h *TaskHandler) Delete(ctx *gin.Context) {
	h.lifecycle(ctx, h.svc.DeleteTask)
}

func (h *TaskHandler) RunNow(ctx *gin.Context) {
	h.lifecycle(ctx, h.svc.RunTaskNow)
}

func (h *TaskHandler) lifecycle(ctx *gin.Context, op func(ctx context.Context, taskUUID, accountUUID string) error) {
	id := ctx.Param("id")

	err := op(ctx.Request.Context(), id, ctx.GetString("accountUUID"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
		case errors.Is(err, domain.ErrInvalidTransition):
			ctx.JSON(http.StatusConflict, gin.H{"error": errInvalidTransition})
		default:
			h.logger.Error("task lifecycle op", "task_uuid", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *TaskHandler) UpdateSchedule(ctx *gin.Context) {
	id := ctx.Param("id")

	var req scheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.svc.UpdateScheduleConfig(ctx.Request.Context(), id, ctx.GetString("accountUUID"), req.toConfig())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
		case errors.Is(err, domain.ErrInvalidCronExpr), errors.Is(err, domain.ErrInvalidSchedule):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidSchedule})
		case errors.Is(err, domain.ErrInvalidTransition):
			ctx.JSON(http.StatusConflict, gin.H{"error": errInvalidTransition})
		default:
			h.logger.Error("update schedule", "task_uuid", id, "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

type updateMetadataRequest struct {
	Name        *string        `json:"name"        binding:"omitempty,max=256"`
	Description *string        `json:"description" binding:"omitempty,max=2048"`
	Tags        []string       `json:"tags"`
	Payload     map[string]any `json:"payload"`
}

func (h *TaskHandler) UpdateMetadata(ctx *gin.Context) {
	id := ctx.Param("id")

	var req updateMetadataRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.svc.UpdateTaskMetadata(ctx.Request.Context(), id, ctx.GetString("accountUUID"), usecase.UpdateMetadataInput{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Payload:     req.Payload,
	})
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.Error("update metadata", "task_uuid", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, toTaskResponse(t))
}

type executionResponse struct {
	UUID          string         `json:"uuid"`
	ExecutionTime time.Time      `json:"execution_time"`
	Status        string         `json:"status"`
	DurationMS    int64          `json:"duration_ms"`
	Result        map[string]any `json:"result,omitempty"`
	Error         *string        `json:"error,omitempty"`
	RetryCount    int            `json:"retry_count"`
}

func (h *TaskHandler) ListHistory(ctx *gin.Context) {
	id := ctx.Param("id")
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	records, err := h.svc.GetExecutionHistory(ctx.Request.Context(), id, ctx.GetString("accountUUID"), limit)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
			return
		}
		h.logger.Error("list history", "task_uuid", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]executionResponse, len(records))
	for i, rec := range records {
		items[i] = executionResponse{
			UUID:          rec.UUID,
			ExecutionTime: rec.ExecutionTime,
			Status:        string(rec.Status),
			DurationMS:    rec.Duration.Milliseconds(),
			Result:        rec.Result,
			Error:         rec.Error,
			RetryCount:    rec.RetryCount,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"executions": items})
}
