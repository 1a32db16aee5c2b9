// Package workflow chains agent invocations into sequential pipelines where
// each step's output becomes the next step's input.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"storepilot/pkg/agent"
)

// Status of a workflow.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// StepStatus of a single step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

var (
	// ErrWorkflowNotFound is returned for an unknown workflow id.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrNoInitialInput is returned by Create when the first step has no input.
	ErrNoInitialInput = errors.New("first workflow step needs explicit input")
	// ErrWorkflowNotRunnable is returned by Execute for a workflow that is
	// running or already finished.
	ErrWorkflowNotRunnable = errors.New("workflow is not runnable")
)

// StepSpec declares one step. A nil Input means the previous step's output.
type StepSpec struct {
	Agent  agent.Type
	Action string
	Input  any
}

// Step is the runtime record of a StepSpec.
type Step struct {
	Agent    agent.Type    `json:"agent"`
	Action   string        `json:"action"`
	Input    any           `json:"input,omitempty"`
	Output   any           `json:"output,omitempty"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	explicit bool
}

// Workflow is one chained run.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Steps       []Step    `json:"steps"`
	Status      Status    `json:"status"`
	CurrentStep int       `json:"current_step"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Result      any       `json:"result,omitempty"`
}

func (w *Workflow) clone() Workflow {
	c := *w
	c.Steps = append([]Step(nil), w.Steps...)
	return c
}

// StepError reports which step aborted a workflow. It unwraps to the error
// returned by the agent.
type StepError struct {
	WorkflowID string
	Index      int
	Agent      agent.Type
	Action     string
	Err        error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("workflow %s step %d (%s/%s) failed: %v", e.WorkflowID, e.Index, e.Agent, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepCompletedPayload is the payload of workflow:step_completed.
type StepCompletedPayload struct {
	WorkflowID string        `json:"workflow_id"`
	Name       string        `json:"name"`
	Index      int           `json:"index"`
	Agent      agent.Type    `json:"agent"`
	Action     string        `json:"action"`
	Duration   time.Duration `json:"duration"`
}

// Progress is the payload of workflow:started, workflow:completed and
// workflow:failed.
type Progress struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	Steps      int    `json:"steps"`
	Error      string `json:"error,omitempty"`
}
