// Package events carries the observational event stream: typed events and an
// in-process bus that fans them out to subscribers in emission order.
package events

import "time"

// Kind names what happened.
type Kind string

const (
	KindStatusChange  Kind = "status_change"
	KindTaskStarted   Kind = "task_started"
	KindTaskProgress  Kind = "task_progress"
	KindTaskCompleted Kind = "task_completed"
	KindTaskFailed    Kind = "task_failed"
	KindMessage       Kind = "message"
	KindDecision      Kind = "decision"

	KindWorkflowStarted       Kind = "workflow:started"
	KindWorkflowStepCompleted Kind = "workflow:step_completed"
	KindWorkflowCompleted     Kind = "workflow:completed"
	KindWorkflowFailed        Kind = "workflow:failed"

	KindAutoPilotStarted          Kind = "autopilot:started"
	KindAutoPilotStopped          Kind = "autopilot:stopped"
	KindAutoPilotScanStarted      Kind = "autopilot:scan_started"
	KindAutoPilotScanCompleted    Kind = "autopilot:scan_completed"
	KindAutoPilotError            Kind = "autopilot:error"
	KindAutoPilotPerformanceCheck Kind = "autopilot:performance_check"
	KindAutoPilotPriceUpdate      Kind = "autopilot:price_update"
)

// Event is one observation. Nothing in the core reads events back except the
// AutoPilot's own subscription.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// New stamps an event with the current time.
func New(kind Kind, agentID string, payload any) Event {
	return Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
		Payload:   payload,
	}
}

// StatusChange is the payload of KindStatusChange.
type StatusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TaskProgress is the payload of KindTaskProgress.
type TaskProgress struct {
	TaskID   string `json:"task_id"`
	Progress int    `json:"progress"`
	Note     string `json:"note,omitempty"`
}
