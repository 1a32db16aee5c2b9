// Package dispatch routes messages between agents.
//
// Delivery is synchronous and ordered. A message emitted while another is
// being delivered is queued and routed once the current delivery finishes,
// so a chain of replies is processed breadth-first instead of growing the
// call stack.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storepilot/pkg/events"
	"storepilot/pkg/logx"
	"storepilot/pkg/proto"
)

var (
	// ErrUnknownRecipient is returned when a message names an unregistered agent.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrDuplicateAgent is returned when an id is registered twice.
	ErrDuplicateAgent = errors.New("agent already registered")
)

// Recipient is anything that can take a routed message.
type Recipient interface {
	ID() string
	Receive(ctx context.Context, msg *proto.Message) error
}

// Source is a recipient that also emits messages on its own bus.
type Source interface {
	Recipient
	Events() *events.Bus
}

// Stats counts router activity.
type Stats struct {
	Routed    int `json:"routed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

type envelope struct {
	ctx context.Context //nolint:containedctx // carried with the queued message
	msg *proto.Message
}

// Router delivers messages to registered recipients.
type Router struct {
	logger *logx.Logger

	mu       sync.Mutex
	agents   map[string]Recipient
	order    []string
	queue    []envelope
	draining bool
	stats    Stats
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		logger: logx.NewLogger("router"),
		agents: make(map[string]Recipient),
	}
}

// Register adds r. Broadcasts reach recipients in registration order.
func (r *Router) Register(rc Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := rc.ID()
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}
	r.agents[id] = rc
	r.order = append(r.order, id)
	return nil
}

// Attach registers src and routes every message it publishes. The returned
// func stops routing its messages.
func (r *Router) Attach(src Source) (func(), error) {
	if err := r.Register(src); err != nil {
		return nil, err
	}
	return src.Events().Subscribe(func(e events.Event) {
		if e.Kind != events.KindMessage {
			return
		}
		msg, ok := e.Payload.(*proto.Message)
		if !ok {
			return
		}
		if err := r.Route(context.Background(), msg); err != nil {
			r.logger.Warn("dropping message %s from %s: %v", msg.ID, msg.From, err)
		}
	}), nil
}

// Route delivers msg according to its target: every registered agent but
// the sender for "all", nobody for "user", otherwise the named agent.
// Handler errors are logged and counted; they do not stop delivery.
func (r *Router) Route(ctx context.Context, msg *proto.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("failed to route message: %w", err)
	}

	r.mu.Lock()
	if !msg.IsBroadcast() && !msg.IsForUser() {
		if _, ok := r.agents[msg.To]; !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, msg.To)
		}
	}
	r.stats.Routed++
	r.queue = append(r.queue, envelope{ctx: ctx, msg: msg})
	if r.draining {
		r.mu.Unlock()
		return nil
	}
	r.draining = true

	for len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		targets := r.targetsLocked(next.msg)
		r.mu.Unlock()

		delivered, failed := r.deliver(next, targets)

		r.mu.Lock()
		r.stats.Delivered += delivered
		r.stats.Failed += failed
	}
	r.draining = false
	r.mu.Unlock()
	return nil
}

func (r *Router) targetsLocked(msg *proto.Message) []Recipient {
	switch {
	case msg.IsForUser():
		return nil
	case msg.IsBroadcast():
		out := make([]Recipient, 0, len(r.order))
		for _, id := range r.order {
			if id != msg.From {
				out = append(out, r.agents[id])
			}
		}
		return out
	default:
		return []Recipient{r.agents[msg.To]}
	}
}

func (r *Router) deliver(env envelope, targets []Recipient) (delivered, failed int) {
	for _, rc := range targets {
		if err := rc.Receive(env.ctx, env.msg.Clone()); err != nil {
			r.logger.Warn("delivery of %s to %s failed: %v", env.msg.ID, rc.ID(), err)
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

// Agents returns registered ids in registration order.
func (r *Router) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Stats returns a copy of the counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
