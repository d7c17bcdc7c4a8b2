package domain

// SourceModule identifies the collaborating module a ScheduleTask was
// provisioned from. The set is closed: provisioning strategies are registered
// per module at startup and an unknown module fails fast.
type SourceModule string

const (
	SourceGoal     SourceModule = "goal"
	SourceTask     SourceModule = "task"
	SourceReminder SourceModule = "reminder"
)

func SourceModules() []SourceModule {
	return []SourceModule{SourceGoal, SourceTask, SourceReminder}
}

func (m SourceModule) Valid() bool {
	switch m {
	case SourceGoal, SourceTask, SourceReminder:
		return true
	}
	return false
}

// CreatedEvent is the upstream event type announcing a new entity.
func (m SourceModule) CreatedEvent() string { return string(m) + ".created" }

// DeletedEvent is the upstream event type announcing an entity removal.
func (m SourceModule) DeletedEvent() string { return string(m) + ".deleted" }
