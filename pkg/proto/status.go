package proto

// AgentStatus is the externally visible state of an agent.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusThinking  AgentStatus = "thinking"
	StatusWorking   AgentStatus = "working"
	StatusCompleted AgentStatus = "completed"
	StatusError     AgentStatus = "error"
	StatusPaused    AgentStatus = "paused"
)

func (s AgentStatus) String() string { return string(s) }

// IsBusy reports whether the agent is in the middle of a task.
func (s AgentStatus) IsBusy() bool {
	return s == StatusThinking || s == StatusWorking
}

// TaskStatus tracks a single task from creation to its terminal outcome.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Priority is advisory; nothing preempts on it.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidTaskTransitions lists the allowed task status moves.
var ValidTaskTransitions = map[TaskStatus][]TaskStatus{ //nolint:gochecknoglobals
	TaskPending:    {TaskInProgress, TaskFailed},
	TaskInProgress: {TaskCompleted, TaskFailed},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range ValidTaskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
