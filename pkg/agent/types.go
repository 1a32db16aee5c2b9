package agent

import (
	"context"
	"errors"
	"time"

	"storepilot/pkg/proto"
)

// Type tags an agent. The set is closed.
type Type string

const (
	TypeTrendAnalyzer  Type = "trend_analyzer"
	TypeProductScout   Type = "product_scout"
	TypeContentWriter  Type = "content_writer"
	TypePriceOptimizer Type = "price_optimizer"
	TypeAutoPilot      Type = "autopilot"
)

// AllTypes lists every agent type in registry order.
//
//nolint:gochecknoglobals
var AllTypes = []Type{
	TypeTrendAnalyzer,
	TypeProductScout,
	TypeContentWriter,
	TypePriceOptimizer,
	TypeAutoPilot,
}

// Valid reports whether t is a known agent type.
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MaxConcurrentTasks is the per-agent task limit.
const MaxConcurrentTasks = 1

const (
	// DefaultMessageLogSize bounds the per-agent message log.
	DefaultMessageLogSize = 100
	// DefaultThinkDelay is the pacing delay applied by Runtime.Think.
	DefaultThinkDelay = 500 * time.Millisecond
)

var (
	// ErrAgentPaused is returned by Execute while the agent is paused.
	ErrAgentPaused = errors.New("agent is paused")
	// ErrUnknownAction is returned by performers for a request type they do not handle.
	ErrUnknownAction = errors.New("unknown action")
	// ErrPerformerPanic wraps a panic recovered from a Performer.
	ErrPerformerPanic = errors.New("performer panicked")
)

// Request asks an agent to perform one operation.
type Request struct {
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Priority    proto.Priority `json:"priority,omitempty"`
	Input       any            `json:"input,omitempty"`
}

// Task is one bounded unit of work.
type Task struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Description string           `json:"description"`
	Priority    proto.Priority   `json:"priority"`
	Status      proto.TaskStatus `json:"status"`
	Progress    int              `json:"progress"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	Result      any              `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Duration returns the wall-clock time between start and completion.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Stats are recomputed after every task.
type Stats struct {
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	AvgTaskTime    float64 `json:"avg_task_time_ms"`
	SuccessRate    float64 `json:"success_rate"`
}

// record folds one finished task of duration d into the stats.
func (s *Stats) record(success bool, d time.Duration) {
	if success {
		s.TasksCompleted++
	} else {
		s.TasksFailed++
	}
	n := float64(s.TasksCompleted + s.TasksFailed)
	ms := float64(d) / float64(time.Millisecond)
	s.AvgTaskTime = (s.AvgTaskTime*(n-1) + ms) / n
	s.SuccessRate = float64(s.TasksCompleted) / n * 100
}

// State is a point-in-time copy of an agent.
type State struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	Name         string            `json:"name"`
	Capabilities []string          `json:"capabilities"`
	Status       proto.AgentStatus `json:"status"`
	CurrentTask  *Task             `json:"current_task,omitempty"`
	TaskHistory  []Task            `json:"task_history"`
	Stats        Stats             `json:"stats"`
}

// Performer carries the agent-specific strategy.
type Performer interface {
	Perform(ctx context.Context, rt *Runtime, req Request) (any, error)
}

// PerformerFunc adapts a function to Performer.
type PerformerFunc func(ctx context.Context, rt *Runtime, req Request) (any, error)

// Perform calls f.
func (f PerformerFunc) Perform(ctx context.Context, rt *Runtime, req Request) (any, error) {
	return f(ctx, rt, req)
}

// MessageHandler is implemented by performers that react to routed messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, rt *Runtime, msg *proto.Message) error
}
