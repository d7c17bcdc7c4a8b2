package provision_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stridehq/stride-scheduler/internal/domain"
	"github.com/stridehq/stride-scheduler/internal/provision"
)

func TestGoalDraft_CadenceFollowsTimeHorizon(t *testing.T) {
	cases := []struct {
		horizon string
		want    string
	}{
		{"week", "0 9,18 * * *"},
		{"month", "0 9 * * *"},
		{"quarter", "0 9 * * 1"},
		{"year", "0 9 * * 1"},
		{"", "0 9 * * *"},
	}
	for _, tc := range cases {
		t.Run("horizon "+tc.horizon, func(t *testing.T) {
			entity := goalEntity()
			entity["timeHorizon"] = tc.horizon

			draft, err := provision.GoalStrategy{}.Draft(entity)
			if err != nil {
				t.Fatalf("draft: %v", err)
			}
			if draft.Schedule.CronExpr != tc.want {
				t.Fatalf("cron = %q, want %q", draft.Schedule.CronExpr, tc.want)
			}
		})
	}
}

func TestGoalDraft_NoRemindersNoSchedule(t *testing.T) {
	entity := goalEntity()
	delete(entity, "reminders")

	if _, err := (provision.GoalStrategy{}).Draft(entity); !errors.Is(err, domain.ErrNoScheduleRequired) {
		t.Fatalf("draft = %v, want ErrNoScheduleRequired", err)
	}
}

func TestTaskDraft_OneOffBeforeDueDate(t *testing.T) {
	due := time.Date(2026, 9, 15, 17, 0, 0, 0, time.UTC)
	entity := map[string]any{
		"uuid":     "task-9",
		"title":    "File taxes",
		"dueAt":    due.Format(time.RFC3339),
		"reminder": map[string]any{"enabled": true, "offsetMinutes": 30},
	}

	draft, err := provision.TaskStrategy{}.Draft(entity)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.Schedule.Kind != domain.ScheduleOnce {
		t.Fatalf("kind = %s, want once", draft.Schedule.Kind)
	}
	want := due.Add(-30 * time.Minute)
	if !draft.Schedule.RunAt.Equal(want) {
		t.Fatalf("run at = %v, want %v (due minus offset)", draft.Schedule.RunAt, want)
	}
	if draft.SourceEntityID != "task-9" {
		t.Fatalf("source entity = %s, want task-9", draft.SourceEntityID)
	}
}

func TestTaskDraft_NoDueDateNoSchedule(t *testing.T) {
	entity := map[string]any{
		"uuid":     "task-9",
		"title":    "File taxes",
		"reminder": map[string]any{"enabled": true},
	}
	if _, err := (provision.TaskStrategy{}).Draft(entity); !errors.Is(err, domain.ErrNoScheduleRequired) {
		t.Fatalf("draft = %v, want ErrNoScheduleRequired", err)
	}
}

func TestReminderDraft_RecurrenceToCron(t *testing.T) {
	base := map[string]any{
		"uuid":      "rem-1",
		"message":   "Stand up",
		"timeOfDay": "08:30",
		"timezone":  "Asia/Tokyo",
	}

	cases := []struct {
		name   string
		mutate func(map[string]any)
		want   string
	}{
		{"daily", func(e map[string]any) { e["recurrence"] = "daily" }, "30 8 * * *"},
		{"weekly", func(e map[string]any) { e["recurrence"] = "weekly"; e["weekday"] = 1 }, "30 8 * * 1"},
		{"monthly", func(e map[string]any) { e["recurrence"] = "monthly"; e["dayOfMonth"] = 15 }, "30 8 15 * *"},
		{"monthly bad day clamps", func(e map[string]any) { e["recurrence"] = "monthly"; e["dayOfMonth"] = 99 }, "30 8 1 * *"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entity := map[string]any{}
			for k, v := range base {
				entity[k] = v
			}
			tc.mutate(entity)

			draft, err := provision.ReminderStrategy{}.Draft(entity)
			if err != nil {
				t.Fatalf("draft: %v", err)
			}
			if draft.Schedule.CronExpr != tc.want {
				t.Fatalf("cron = %q, want %q", draft.Schedule.CronExpr, tc.want)
			}
			if draft.Schedule.Timezone != "Asia/Tokyo" {
				t.Fatalf("timezone = %q, want carried over", draft.Schedule.Timezone)
			}
		})
	}
}

func TestReminderDraft_Once(t *testing.T) {
	at := time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC)
	entity := map[string]any{
		"uuid":       "rem-2",
		"message":    "Call mom",
		"recurrence": "once",
		"remindAt":   at.Format(time.RFC3339),
	}

	draft, err := provision.ReminderStrategy{}.Draft(entity)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.Schedule.Kind != domain.ScheduleOnce || !draft.Schedule.RunAt.Equal(at) {
		t.Fatalf("schedule = %+v, want one-off at %v", draft.Schedule, at)
	}
}

func TestReminderDraft_BadTimeOfDay(t *testing.T) {
	entity := map[string]any{
		"uuid":       "rem-3",
		"message":    "Stretch",
		"recurrence": "daily",
		"timeOfDay":  "25:99",
	}
	if _, err := (provision.ReminderStrategy{}).Draft(entity); !errors.Is(err, domain.ErrNoScheduleRequired) {
		t.Fatalf("draft = %v, want ErrNoScheduleRequired", err)
	}
}
