package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storepilot/pkg/events"
	"storepilot/pkg/logx"
	"storepilot/pkg/proto"
)

// Config describes one agent instance.
type Config struct {
	ID           string
	Type         Type
	Name         string
	Capabilities []string

	// Timeout bounds each task through the context handed to the Performer.
	// Zero disables it.
	Timeout time.Duration
	// ThinkDelay is the pause applied by Runtime.Think. Negative means none.
	ThinkDelay time.Duration
	// MessageLogSize bounds the message log; zero means DefaultMessageLogSize.
	MessageLogSize int
}

// Agent runs one task at a time through its Performer.
type Agent struct {
	cfg       Config
	performer Performer
	bus       *events.Bus
	logger    *logx.Logger

	sem chan struct{}

	mu       sync.Mutex
	status   proto.AgentStatus
	current  *Task
	history  []Task
	messages []*proto.Message
	stats    Stats
}

// New creates an idle agent. ID defaults to the type tag.
func New(cfg Config, performer Performer) *Agent {
	if cfg.ID == "" {
		cfg.ID = string(cfg.Type)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.MessageLogSize <= 0 {
		cfg.MessageLogSize = DefaultMessageLogSize
	}
	if cfg.ThinkDelay == 0 {
		cfg.ThinkDelay = DefaultThinkDelay
	}
	cfg.Capabilities = append([]string(nil), cfg.Capabilities...)

	return &Agent{
		cfg:       cfg,
		performer: performer,
		bus:       events.NewBus(cfg.ID),
		logger:    logx.NewLogger(cfg.ID),
		sem:       make(chan struct{}, MaxConcurrentTasks),
		status:    proto.StatusIdle,
		stats:     Stats{SuccessRate: 100},
	}
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.cfg.ID }

// Type returns the agent type.
func (a *Agent) Type() Type { return a.cfg.Type }

// Name returns the display name.
func (a *Agent) Name() string { return a.cfg.Name }

// Events returns the agent's own bus.
func (a *Agent) Events() *events.Bus { return a.bus }

// Status returns the externally visible status.
func (a *Agent) Status() proto.AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Execute runs req as a new Task. Calls are serialized; a caller waiting for
// the slot gives up when ctx is done. Performer errors are returned unchanged.
func (a *Agent) Execute(ctx context.Context, req Request) (any, error) {
	if a.Status() == proto.StatusPaused {
		return nil, ErrAgentPaused
	}

	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire task slot on %s: %w", a.cfg.ID, ctx.Err())
	}
	defer func() { <-a.sem }()

	task, err := a.startTask(req)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	a.logger.Debug("task %s (%s) started", task.ID, task.Type)
	rt := &Runtime{agent: a, taskID: task.ID}
	result, perr := a.perform(runCtx, rt, req)
	a.finishTask(result, perr)

	if perr != nil {
		a.logger.Warn("task %s (%s) failed: %v", task.ID, task.Type, perr)
		return nil, perr
	}
	a.logger.Debug("task %s (%s) completed", task.ID, task.Type)
	return result, nil
}

// perform converts a Performer panic into a task failure.
func (a *Agent) perform(ctx context.Context, rt *Runtime, req Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrPerformerPanic, r)
		}
	}()
	return a.performer.Perform(ctx, rt, req)
}

func (a *Agent) startTask(req Request) (Task, error) {
	now := time.Now().UTC()
	priority := req.Priority
	if priority == "" {
		priority = proto.PriorityMedium
	}
	description := req.Description
	if description == "" {
		description = req.Type
	}

	a.mu.Lock()
	if a.status == proto.StatusPaused {
		a.mu.Unlock()
		return Task{}, ErrAgentPaused
	}
	task := &Task{
		ID:          "task_" + uuid.NewString(),
		Type:        req.Type,
		Description: description,
		Priority:    priority,
		Status:      proto.TaskPending,
		CreatedAt:   now,
	}
	task.Status = proto.TaskInProgress
	task.StartedAt = now
	a.current = task
	snapshot := *task
	change := a.setStatusLocked(proto.StatusWorking)
	a.mu.Unlock()

	a.publishChange(change)
	a.bus.Publish(events.New(events.KindTaskStarted, a.cfg.ID, snapshot))
	return snapshot, nil
}

func (a *Agent) finishTask(result any, perr error) {
	now := time.Now().UTC()

	a.mu.Lock()
	task := a.current
	a.current = nil
	task.CompletedAt = now
	next := proto.StatusIdle
	kind := events.KindTaskCompleted
	if perr != nil {
		task.Status = proto.TaskFailed
		task.Error = perr.Error()
		next = proto.StatusError
		kind = events.KindTaskFailed
	} else {
		task.Status = proto.TaskCompleted
		task.Progress = 100
		task.Result = result
	}
	archived := *task
	a.history = append(a.history, archived)
	a.stats.record(perr == nil, archived.Duration())

	var change *statusChange
	if a.status != proto.StatusPaused {
		change = a.setStatusLocked(next)
	}
	a.mu.Unlock()

	a.bus.Publish(events.New(kind, a.cfg.ID, archived))
	a.publishChange(change)
}

// Pause forces the paused status. An in-flight task still finishes and is
// recorded, but new Execute calls fail with ErrAgentPaused.
func (a *Agent) Pause() {
	a.mu.Lock()
	change := a.setStatusLocked(proto.StatusPaused)
	a.mu.Unlock()
	a.publishChange(change)
}

// Resume forces the idle status.
func (a *Agent) Resume() {
	a.mu.Lock()
	change := a.setStatusLocked(proto.StatusIdle)
	a.mu.Unlock()
	a.publishChange(change)
}

// Receive hands a routed message to the performer when it handles messages.
func (a *Agent) Receive(ctx context.Context, msg *proto.Message) error {
	handler, ok := a.performer.(MessageHandler)
	if !ok {
		a.logger.Debug("dropping %s message from %s: no handler", msg.Type, msg.From)
		return nil
	}
	if err := handler.HandleMessage(ctx, &Runtime{agent: a}, msg); err != nil {
		return fmt.Errorf("failed to handle message %s on %s: %w", msg.ID, a.cfg.ID, err)
	}
	return nil
}

// Send emits a message from this agent, records it in the message log and
// publishes it as a message event.
func (a *Agent) Send(to string, msgType proto.MsgType, content string, data map[string]any) *proto.Message {
	msg := proto.NewMessage(msgType, a.cfg.ID, to, content)
	if data != nil {
		msg.WithData(data)
	}

	a.mu.Lock()
	a.messages = append(a.messages, msg)
	if over := len(a.messages) - a.cfg.MessageLogSize; over > 0 {
		a.messages = append([]*proto.Message(nil), a.messages[over:]...)
	}
	a.mu.Unlock()

	a.bus.Publish(events.New(events.KindMessage, a.cfg.ID, msg.Clone()))
	return msg
}

// State returns a snapshot that shares nothing with the agent.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := State{
		ID:           a.cfg.ID,
		Type:         a.cfg.Type,
		Name:         a.cfg.Name,
		Capabilities: append([]string(nil), a.cfg.Capabilities...),
		Status:       a.status,
		TaskHistory:  append([]Task(nil), a.history...),
		Stats:        a.stats,
	}
	if a.current != nil {
		cur := *a.current
		st.CurrentTask = &cur
	}
	return st
}

// History returns copies of the archived tasks.
func (a *Agent) History() []Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Task(nil), a.history...)
}

// Messages returns copies of the retained outgoing messages, oldest first.
func (a *Agent) Messages() []*proto.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*proto.Message, len(a.messages))
	for i, m := range a.messages {
		out[i] = m.Clone()
	}
	return out
}

// Stats returns the current stats.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

type statusChange struct {
	from, to proto.AgentStatus
}

// setStatusLocked must be called with a.mu held.
func (a *Agent) setStatusLocked(next proto.AgentStatus) *statusChange {
	if a.status == next {
		return nil
	}
	change := &statusChange{from: a.status, to: next}
	a.status = next
	return change
}

func (a *Agent) publishChange(change *statusChange) {
	if change == nil {
		return
	}
	a.bus.Publish(events.New(events.KindStatusChange, a.cfg.ID, events.StatusChange{
		From: change.from.String(),
		To:   change.to.String(),
	}))
}
