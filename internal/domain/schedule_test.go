package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stridehq/stride-scheduler/internal/domain"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestNextRun_CronDailyAtNine(t *testing.T) {
	cfg := domain.ScheduleConfig{Kind: domain.ScheduleCron, CronExpr: "0 9 * * *"}

	// Monday 10:00 — past today's 09:00, so the next fire is Tuesday 09:00.
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	next, err := cfg.NextRun(now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	if next == nil || !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRun_CronRespectsTimezoneAcrossDST(t *testing.T) {
	loc := mustLocation(t, "America/New_York")
	cfg := domain.ScheduleConfig{
		Kind:     domain.ScheduleCron,
		CronExpr: "0 9 * * *",
		Timezone: "America/New_York",
	}

	// DST starts 2024-03-10 at 02:00 local. 09:00 local that day is EDT
	// (UTC-4), so the wall-clock time must hold even though the offset moved.
	now := time.Date(2024, 3, 10, 0, 30, 0, 0, loc)

	next, err := cfg.NextRun(now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 3, 10, 9, 0, 0, 0, loc)
	if next == nil || !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
	if next.UTC().Hour() != 13 {
		t.Fatalf("next in UTC = %v, want 13:00Z (EDT offset)", next.UTC())
	}
}

func TestNextRun_CronPastEndDateExhausts(t *testing.T) {
	end := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	cfg := domain.ScheduleConfig{
		Kind:     domain.ScheduleCron,
		CronExpr: "0 9 * * *",
		EndDate:  &end,
	}

	now := time.Date(2024, 3, 4, 13, 0, 0, 0, time.UTC)

	next, err := cfg.NextRun(now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != nil {
		t.Fatalf("next = %v, want nil (schedule exhausted)", next)
	}
}

func TestNextRun_CronHonorsStartDate(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := domain.ScheduleConfig{
		Kind:      domain.ScheduleCron,
		CronExpr:  "0 9 * * *",
		StartDate: &start,
	}

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	next, err := cfg.NextRun(now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if next == nil || !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRun_IntervalFirstRunIsNow(t *testing.T) {
	cfg := domain.ScheduleConfig{Kind: domain.ScheduleInterval, Interval: time.Hour}
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	next, err := cfg.NextRun(now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next == nil || !next.Equal(now) {
		t.Fatalf("next = %v, want %v (immediate first run)", next, now)
	}
}

func TestNextRun_IntervalAdvancesFromLastRun(t *testing.T) {
	cfg := domain.ScheduleConfig{Kind: domain.ScheduleInterval, Interval: time.Hour}
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	lastRun := now.Add(-30 * time.Minute)

	next, err := cfg.NextRun(now, &lastRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := lastRun.Add(time.Hour)
	if next == nil || !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRun_IntervalCatchesUpAfterLateExecution(t *testing.T) {
	cfg := domain.ScheduleConfig{Kind: domain.ScheduleInterval, Interval: time.Hour}
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	lastRun := now.Add(-3 * time.Hour) // two periods missed

	next, err := cfg.NextRun(now, &lastRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// No backfill of missed periods: catch up to now, not lastRun+interval.
	if next == nil || !next.Equal(now) {
		t.Fatalf("next = %v, want %v", next, now)
	}
}

func TestNextRun_OnceInFuture(t *testing.T) {
	runAt := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	cfg := domain.ScheduleConfig{Kind: domain.ScheduleOnce, RunAt: runAt}
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	next, err := cfg.NextRun(now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next == nil || !next.Equal(runAt) {
		t.Fatalf("next = %v, want %v", next, runAt)
	}
}

func TestNextRun_OncePastDateExhausts(t *testing.T) {
	runAt := time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC)
	cfg := domain.ScheduleConfig{Kind: domain.ScheduleOnce, RunAt: runAt}
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	next, err := cfg.NextRun(now, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != nil {
		t.Fatalf("next = %v, want nil (one-off already passed)", next)
	}
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfg  domain.ScheduleConfig
		want error
	}{
		{"bad cron", domain.ScheduleConfig{Kind: domain.ScheduleCron, CronExpr: "not a cron"}, domain.ErrInvalidCronExpr},
		{"zero interval", domain.ScheduleConfig{Kind: domain.ScheduleInterval}, domain.ErrInvalidSchedule},
		{"zero one-off date", domain.ScheduleConfig{Kind: domain.ScheduleOnce}, domain.ErrInvalidSchedule},
		{"unknown kind", domain.ScheduleConfig{Kind: "weekly"}, domain.ErrInvalidSchedule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}

	zero := 0
	cfg := domain.ScheduleConfig{Kind: domain.ScheduleInterval, Interval: time.Hour, MaxExecutions: &zero}
	if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidSchedule) {
		t.Fatalf("Validate() with zero max executions = %v, want %v", err, domain.ErrInvalidSchedule)
	}
}

func TestValidate_AcceptsTimezonePrefixedCron(t *testing.T) {
	cfg := domain.ScheduleConfig{
		Kind:     domain.ScheduleCron,
		CronExpr: "30 8 * * 1-5",
		Timezone: "Asia/Tokyo",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
