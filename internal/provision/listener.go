package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/event"
	"github.com/stridehq/stride-scheduler/internal/metrics"
	"github.com/stridehq/stride-scheduler/internal/usecase"
)

// Listener reacts to collaborating modules' created/deleted events by
// provisioning or tearing down schedule tasks. Each event is handled in
// isolation: a returned error lands on the bus's dead-letter channel and
// never disables the listener for subsequent events.
type Listener struct {
	registry *Registry
	service  *usecase.TaskService
	logger   *slog.Logger
}

func NewListener(registry *Registry, service *usecase.TaskService, logger *slog.Logger) *Listener {
	return &Listener{
		registry: registry,
		service:  service,
		logger:   logger.With("component", "provisioning"),
	}
}

// Register subscribes the listener to every source module's created and
// deleted events.
func (l *Listener) Register(bus event.Bus) {
	for _, module := range domain.SourceModules() {
		bus.Subscribe(module.CreatedEvent(), l.created(module))
		bus.Subscribe(module.DeletedEvent(), l.deleted(module))
	}
}

func (l *Listener) created(module domain.SourceModule) event.Handler {
	return func(ctx context.Context, ev event.Event) error {
		strategy, err := l.registry.For(module)
		if err != nil {
			l.logger.Error("provisioning skipped", "event_type", ev.Type, "error", err)
			return err
		}

		entity, ok := ev.Payload["entity"].(map[string]any)
		if !ok {
			return fmt.Errorf("%s event %s carries no entity payload", ev.Type, ev.AggregateID)
		}

		draft, err := strategy.Draft(entity)
		if err != nil {
			if errors.Is(err, domain.ErrNoScheduleRequired) {
				// Documented no-op, not a failure.
				l.logger.Info("entity requires no schedule",
					"event_type", ev.Type, "aggregate_id", ev.AggregateID, "reason", err)
				metrics.ProvisioningSkippedTotal.WithLabelValues(string(module), "no_schedule").Inc()
				return nil
			}
			return fmt.Errorf("draft task for %s: %w", ev.Type, err)
		}

		draft.AccountUUID = ev.AccountUUID
		draft.SourceModule = module

		// Duplicate "created" events must not provision a second active task
		// for the same source entity.
		existing, err := l.service.GetTasksBySource(ctx, module, draft.SourceEntityID)
		if err != nil {
			return fmt.Errorf("idempotency check for %s: %w", ev.Type, err)
		}
		for _, t := range existing {
			if t.AccountUUID == ev.AccountUUID && !t.Status.Terminal() {
				l.logger.Warn("duplicate created event, task already provisioned",
					"event_type", ev.Type, "source_entity_id", draft.SourceEntityID, "task_uuid", t.UUID)
				metrics.ProvisioningSkippedTotal.WithLabelValues(string(module), "duplicate").Inc()
				return nil
			}
		}

		created, err := l.service.CreateTask(ctx, *draft)
		if err != nil {
			return fmt.Errorf("provision task for %s: %w", ev.Type, err)
		}

		metrics.TasksProvisionedTotal.WithLabelValues(string(module), "created").Inc()
		l.logger.Info("task provisioned",
			"event_type", ev.Type,
			"task_uuid", created.UUID,
			"source_entity_id", created.SourceEntityID,
			"next_run_at", created.NextRunAt,
		)
		return nil
	}
}

func (l *Listener) deleted(module domain.SourceModule) event.Handler {
	return func(ctx context.Context, ev event.Event) error {
		entityID := str(ev.Payload, "entityId")
		if entityID == "" {
			return fmt.Errorf("%s event carries no entityId", ev.Type)
		}

		tasks, err := l.service.GetTasksBySource(ctx, module, entityID)
		if err != nil {
			return fmt.Errorf("look up tasks for %s: %w", ev.Type, err)
		}
		if len(tasks) == 0 {
			return nil
		}

		// Ownership is verified for the whole batch before anything is
		// deleted: a cross-account event deletes nothing.
		for _, t := range tasks {
			if t.AccountUUID != ev.AccountUUID {
				return fmt.Errorf("%s event for entity %s from account %s: %w",
					ev.Type, entityID, ev.AccountUUID, domain.ErrAccountMismatch)
			}
		}

		for _, t := range tasks {
			if err := l.service.DeleteTask(ctx, t.UUID, ev.AccountUUID); err != nil {
				return fmt.Errorf("deprovision task %s: %w", t.UUID, err)
			}
			metrics.TasksProvisionedTotal.WithLabelValues(string(module), "deleted").Inc()
		}

		l.logger.Info("tasks deprovisioned",
			"event_type", ev.Type, "source_entity_id", entityID, "count", len(tasks))
		return nil
	}
}
