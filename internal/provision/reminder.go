package provision

import (
	"fmt"
	"strings"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/usecase"
)

// ReminderStrategy provisions tasks for the standalone reminder module:
// one-off for single reminders, cron for daily/weekly/monthly recurrence.
type ReminderStrategy struct{}

func (ReminderStrategy) Module() domain.SourceModule { return domain.SourceReminder }

func (ReminderStrategy) Draft(entity map[string]any) (*usecase.CreateTaskInput, error) {
	recurrence := str(entity, "recurrence")
	if recurrence == "" {
		return nil, fmt.Errorf("reminder %s: %w", str(entity, "uuid"), domain.ErrNoScheduleRequired)
	}

	message := str(entity, "message")
	input := &usecase.CreateTaskInput{
		Name:        fmt.Sprintf("Reminder: %s", message),
		Description: fmt.Sprintf("%s reminder", recurrence),
		Tags:        []string{"reminder", recurrence},
		Payload: map[string]any{
			"reminderUuid": str(entity, "uuid"),
			"message":      message,
		},
		SourceEntityID: str(entity, "uuid"),
	}

	if recurrence == "once" {
		at, ok := timestamp(entity, "remindAt")
		if !ok {
			return nil, fmt.Errorf("reminder %s has no date: %w", str(entity, "uuid"), domain.ErrNoScheduleRequired)
		}
		input.Schedule = domain.ScheduleConfig{Kind: domain.ScheduleOnce, RunAt: at}
		return input, nil
	}

	hour, minute, err := parseTimeOfDay(str(entity, "timeOfDay"))
	if err != nil {
		return nil, fmt.Errorf("reminder %s: %w", str(entity, "uuid"), domain.ErrNoScheduleRequired)
	}

	var cronExpr string
	switch recurrence {
	case "daily":
		cronExpr = fmt.Sprintf("%d %d * * *", minute, hour)
	case "weekly":
		cronExpr = fmt.Sprintf("%d %d * * %d", minute, hour, integer(entity, "weekday"))
	case "monthly":
		day := integer(entity, "dayOfMonth")
		if day < 1 || day > 31 {
			day = 1
		}
		cronExpr = fmt.Sprintf("%d %d %d * *", minute, hour, day)
	default:
		return nil, fmt.Errorf("reminder %s has unknown recurrence %q: %w",
			str(entity, "uuid"), recurrence, domain.ErrNoScheduleRequired)
	}

	input.Schedule = domain.ScheduleConfig{
		Kind:     domain.ScheduleCron,
		CronExpr: cronExpr,
		Timezone: str(entity, "timezone"),
	}
	return input, nil
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time of day %q is not HH:MM", s)
	}
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("time of day %q is not HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", s)
	}
	return hour, minute, nil
}
