package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storepilot/pkg/agent"
	"storepilot/pkg/events"
	"storepilot/pkg/logx"
)

// Executor runs a request on the agent of the given type.
type Executor interface {
	Execute(ctx context.Context, typ agent.Type, req agent.Request) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, typ agent.Type, req agent.Request) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, typ agent.Type, req agent.Request) (any, error) {
	return f(ctx, typ, req)
}

// Engine stores workflow records and runs them.
type Engine struct {
	exec   Executor
	bus    *events.Bus
	logger *logx.Logger

	mu        sync.Mutex
	workflows map[string]*Workflow
}

// NewEngine creates an engine that publishes workflow events on bus.
func NewEngine(exec Executor, bus *events.Bus) *Engine {
	return &Engine{
		exec:      exec,
		bus:       bus,
		logger:    logx.NewLogger("workflow"),
		workflows: make(map[string]*Workflow),
	}
}

// Create records a workflow with every step pending.
func (e *Engine) Create(name, description string, specs []StepSpec) (Workflow, error) {
	if len(specs) == 0 {
		return Workflow{}, fmt.Errorf("workflow %q has no steps", name)
	}
	if specs[0].Input == nil {
		return Workflow{}, ErrNoInitialInput
	}

	wf := &Workflow{
		ID:          "wf_" + uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      StatusIdle,
		Steps:       make([]Step, len(specs)),
	}
	for i, s := range specs {
		if !s.Agent.Valid() {
			return Workflow{}, fmt.Errorf("workflow %q step %d: unknown agent type %q", name, i, s.Agent)
		}
		wf.Steps[i] = Step{
			Agent:    s.Agent,
			Action:   s.Action,
			Input:    s.Input,
			Status:   StepPending,
			explicit: s.Input != nil,
		}
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()
	return wf.clone(), nil
}

// Execute runs every step in order and returns the last step's output. The
// first failing step aborts the run; its error comes back as a *StepError.
func (e *Engine) Execute(ctx context.Context, id string) (any, error) {
	e.mu.Lock()
	wf, ok := e.workflows[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if wf.Status != StatusIdle && wf.Status != StatusPaused {
		status := wf.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrWorkflowNotRunnable, id, status)
	}
	wf.Status = StatusRunning
	wf.StartedAt = time.Now().UTC()
	name, steps := wf.Name, len(wf.Steps)
	e.mu.Unlock()

	e.logger.Info("workflow %s (%s) started with %d steps", name, id, steps)
	e.publish(events.KindWorkflowStarted, Progress{WorkflowID: id, Name: name, Steps: steps})

	var prev any
	for i := 0; i < steps; i++ {
		e.mu.Lock()
		wf.CurrentStep = i
		step := &wf.Steps[i]
		if !step.explicit {
			step.Input = prev
		}
		step.Status = StepRunning
		typ, action, input := step.Agent, step.Action, step.Input
		e.mu.Unlock()

		started := time.Now()
		out, err := e.exec.Execute(ctx, typ, agent.Request{
			Type:        action,
			Description: fmt.Sprintf("%s step %d: %s", name, i+1, action),
			Input:       input,
		})
		elapsed := time.Since(started)

		e.mu.Lock()
		step.Duration = elapsed
		if err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			wf.Status = StatusFailed
			wf.CompletedAt = time.Now().UTC()
			e.mu.Unlock()

			serr := &StepError{WorkflowID: id, Index: i, Agent: typ, Action: action, Err: err}
			e.logger.Warn("%v", serr)
			e.publish(events.KindWorkflowFailed, Progress{WorkflowID: id, Name: name, Steps: steps, Error: err.Error()})
			return nil, serr
		}
		step.Status = StepCompleted
		step.Output = out
		e.mu.Unlock()

		prev = out
		e.publish(events.KindWorkflowStepCompleted, StepCompletedPayload{
			WorkflowID: id, Name: name, Index: i, Agent: typ, Action: action, Duration: elapsed,
		})
	}

	e.mu.Lock()
	wf.Status = StatusCompleted
	wf.CompletedAt = time.Now().UTC()
	wf.Result = prev
	e.mu.Unlock()

	e.logger.Info("workflow %s (%s) completed", name, id)
	e.publish(events.KindWorkflowCompleted, Progress{WorkflowID: id, Name: name, Steps: steps})
	return prev, nil
}

// Run creates and executes a workflow in one call.
func (e *Engine) Run(ctx context.Context, name, description string, specs []StepSpec) (any, error) {
	wf, err := e.Create(name, description, specs)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, wf.ID)
}

// Get returns a copy of the workflow.
func (e *Engine) Get(id string) (Workflow, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	if !ok {
		return Workflow{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf.clone(), nil
}

// List returns copies of every workflow, oldest first.
func (e *Engine) List() []Workflow {
	e.mu.Lock()
	out := make([]Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		out = append(out, wf.clone())
	}
	e.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out
}

// Remove forgets a finished workflow. Running workflows are kept.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if wf.Status == StatusRunning {
		return fmt.Errorf("%w: %s is running", ErrWorkflowNotRunnable, id)
	}
	delete(e.workflows, id)
	return nil
}

func (e *Engine) publish(kind events.Kind, payload any) {
	if e.bus != nil {
		e.bus.Publish(events.New(kind, "", payload))
	}
}
