// Package agent implements the single-task execution unit shared by every
// storepilot agent type.
//
// An Agent owns a status state machine, at most one in-flight Task, an
// append-only task history, rolling stats and a bounded log of the messages
// it emitted. Agent-specific behavior is plugged in through a Performer; the
// Agent only handles bookkeeping and event emission around it.
//
// All status changes, task lifecycle transitions and outgoing messages are
// published on the agent's own events.Bus.
package agent
