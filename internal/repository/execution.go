package repository

import (
	"context"

	"github.com/stridehq/stride-scheduler/internal/domain"
)

type ExecutionRepository interface {
	// Save appends one execution record. Records are append-only: there is no
	// update path once a terminal status is written.
	Save(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionRecord, error)

	// FindByTaskUUID returns all records for a task, ordered by
	// execution_time DESC.
	FindByTaskUUID(ctx context.Context, taskUUID string, limit int) ([]*domain.ExecutionRecord, error)
}
