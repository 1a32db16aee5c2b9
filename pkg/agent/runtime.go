package agent

import (
	"context"
	"time"

	"storepilot/pkg/events"
	"storepilot/pkg/proto"
)

// Runtime is the narrow view of an Agent handed to its Performer.
type Runtime struct {
	agent  *Agent
	taskID string
}

// AgentID returns the id of the agent running the task.
func (rt *Runtime) AgentID() string { return rt.agent.cfg.ID }

// Progress records task progress. Values are clamped to [0,100] and never
// move backwards.
func (rt *Runtime) Progress(pct int, note string) {
	if rt.taskID == "" {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	a := rt.agent
	a.mu.Lock()
	if a.current == nil || a.current.ID != rt.taskID || pct <= a.current.Progress {
		a.mu.Unlock()
		return
	}
	a.current.Progress = pct
	a.mu.Unlock()

	a.bus.Publish(events.New(events.KindTaskProgress, a.cfg.ID, events.TaskProgress{
		TaskID:   rt.taskID,
		Progress: pct,
		Note:     note,
	}))
}

// Think flips the agent to thinking, emits thought as an info message and
// waits the pacing delay before switching back to working.
func (rt *Runtime) Think(ctx context.Context, thought string) error {
	a := rt.agent
	a.mu.Lock()
	var change *statusChange
	if a.status != proto.StatusPaused {
		change = a.setStatusLocked(proto.StatusThinking)
	}
	a.mu.Unlock()
	a.publishChange(change)

	a.Send(proto.TargetUser, proto.MsgTypeInfo, thought, nil)

	err := Sleep(ctx, a.cfg.ThinkDelay)

	a.mu.Lock()
	change = nil
	if a.status == proto.StatusThinking {
		next := proto.StatusWorking
		if a.current == nil {
			next = proto.StatusIdle
		}
		change = a.setStatusLocked(next)
	}
	a.mu.Unlock()
	a.publishChange(change)
	return err
}

// Send emits a message from the agent.
func (rt *Runtime) Send(to string, msgType proto.MsgType, content string, data map[string]any) *proto.Message {
	return rt.agent.Send(to, msgType, content, data)
}

// Sleep waits d or until ctx is done. Non-positive d returns immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
