package provision

import (
	"fmt"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/usecase"
)

// GoalStrategy provisions recurring check-in tasks for goals with reminders
// enabled. The goal's time horizon decides the cadence: short horizons get
// nudged more often.
type GoalStrategy struct{}

func (GoalStrategy) Module() domain.SourceModule { return domain.SourceGoal }

func (GoalStrategy) Draft(entity map[string]any) (*usecase.CreateTaskInput, error) {
	reminders := sub(entity, "reminders")
	if reminders == nil || !boolean(reminders, "enabled") {
		return nil, fmt.Errorf("goal %s: %w", str(entity, "uuid"), domain.ErrNoScheduleRequired)
	}

	var cronExpr string
	horizon := str(entity, "timeHorizon")
	switch horizon {
	case "week":
		cronExpr = "0 9,18 * * *" // twice daily
	case "month":
		cronExpr = "0 9 * * *" // daily
	case "quarter", "year":
		cronExpr = "0 9 * * 1" // weekly
	default:
		cronExpr = "0 9 * * *"
	}

	title := str(entity, "title")
	return &usecase.CreateTaskInput{
		Name:        fmt.Sprintf("Goal check-in: %s", title),
		Description: fmt.Sprintf("Recurring progress reminder for goal %q (%s horizon)", title, horizon),
		Tags:        []string{"goal", "check-in"},
		Payload: map[string]any{
			"goalUuid":    str(entity, "uuid"),
			"title":       title,
			"timeHorizon": horizon,
		},
		SourceEntityID: str(entity, "uuid"),
		Schedule: domain.ScheduleConfig{
			Kind:     domain.ScheduleCron,
			CronExpr: cronExpr,
			Timezone: str(entity, "timezone"),
		},
	}, nil
}
