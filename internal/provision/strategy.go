package provision

import (
	"fmt"
	"time"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/usecase"
)

// Strategy converts one source module's "entity created" payload into a task
// draft. Returning domain.ErrNoScheduleRequired is a documented no-op, not a
// failure: the entity simply carries no schedule-relevant configuration.
type Strategy interface {
	Module() domain.SourceModule
	Draft(entity map[string]any) (*usecase.CreateTaskInput, error)
}

// Registry holds one strategy per source module. It is built once at startup
// over the closed module set, so an unsupported module fails fast instead of
// falling through a runtime default branch.
type Registry struct {
	strategies map[domain.SourceModule]Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[domain.SourceModule]Strategy, len(strategies))}
	for _, s := range strategies {
		r.strategies[s.Module()] = s
	}
	return r
}

func (r *Registry) For(module domain.SourceModule) (Strategy, error) {
	s, ok := r.strategies[module]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrStrategyNotFound, module)
	}
	return s, nil
}

// payload field accessors; upstream events arrive as loosely typed maps.

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func boolean(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func sub(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func integer(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func timestamp(m map[string]any, key string) (time.Time, bool) {
	switch v := m[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
