package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleOnce     ScheduleKind = "once"
)

// ScheduleConfig encodes when a task fires. Exactly one kind is set; the value
// is immutable and replaced wholesale on update.
type ScheduleConfig struct {
	Kind ScheduleKind

	// cron kind
	CronExpr string
	Timezone string // IANA name, empty means UTC

	// interval kind
	Interval time.Duration

	// once kind
	RunAt time.Time

	// optional bounds, any kind
	StartDate     *time.Time
	EndDate       *time.Time
	MaxExecutions *int
}

func (c ScheduleConfig) Validate() error {
	switch c.Kind {
	case ScheduleCron:
		if _, err := cron.ParseStandard(c.cronSpec()); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidCronExpr, c.CronExpr)
		}
	case ScheduleInterval:
		if c.Interval <= 0 {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
		}
	case ScheduleOnce:
		if c.RunAt.IsZero() {
			return fmt.Errorf("%w: one-off date is required", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, c.Kind)
	}
	if c.MaxExecutions != nil && *c.MaxExecutions <= 0 {
		return fmt.Errorf("%w: max executions must be positive", ErrInvalidSchedule)
	}
	return nil
}

// cronSpec prefixes the expression with CRON_TZ so robfig/cron evaluates it in
// the configured location, including DST transitions.
func (c ScheduleConfig) cronSpec() string {
	if c.Timezone == "" {
		return c.CronExpr
	}
	return fmt.Sprintf("CRON_TZ=%s %s", c.Timezone, c.CronExpr)
}

// NextRun computes the next fire time on or after now. A nil result means the
// schedule is exhausted and the task should complete. MaxExecutions is
// enforced by the orchestration layer, not here.
func (c ScheduleConfig) NextRun(now time.Time, lastRun *time.Time) (*time.Time, error) {
	from := now
	if c.StartDate != nil && c.StartDate.After(from) {
		from = *c.StartDate
	}

	switch c.Kind {
	case ScheduleCron:
		sched, err := cron.ParseStandard(c.cronSpec())
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCronExpr, c.CronExpr)
		}
		next := sched.Next(from)
		if c.EndDate != nil && next.After(*c.EndDate) {
			return nil, nil
		}
		return &next, nil

	case ScheduleInterval:
		next := from
		if lastRun != nil {
			if catchUp := lastRun.Add(c.Interval); catchUp.After(from) {
				next = catchUp
			}
		}
		if c.EndDate != nil && next.After(*c.EndDate) {
			return nil, nil
		}
		return &next, nil

	case ScheduleOnce:
		if !c.RunAt.After(now) {
			return nil, nil
		}
		runAt := c.RunAt
		return &runAt, nil
	}

	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, c.Kind)
}

// CronSchedule returns the parsed cron schedule for engine registration.
// Only valid for the cron kind.
func (c ScheduleConfig) CronSchedule() (cron.Schedule, error) {
	sched, err := cron.ParseStandard(c.cronSpec())
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCronExpr, c.CronExpr)
	}
	return sched, nil
}
