package autopilot

import (
	"context"
	"fmt"

	"storepilot/pkg/agent"
)

// Actions understood by the autopilot agent.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionScan   = "scan"
	ActionStatus = "status"
)

// Performer exposes the controller as the autopilot agent's strategy, so
// start and stop show up as tasks like any other agent work.
type Performer struct {
	ctl *Controller
}

// NewPerformer wraps ctl.
func NewPerformer(ctl *Controller) *Performer { return &Performer{ctl: ctl} }

// Perform implements agent.Performer.
func (p *Performer) Perform(ctx context.Context, rt *agent.Runtime, req agent.Request) (any, error) {
	switch req.Type {
	case ActionStart:
		cfg, ok := req.Input.(Config)
		if !ok {
			if ptr, isPtr := req.Input.(*Config); isPtr && ptr != nil {
				cfg, ok = *ptr, true
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: start needs a Config, got %T", ErrInvalidConfig, req.Input)
		}
		rt.Progress(10, "validating configuration")
		if err := p.ctl.Start(ctx, cfg); err != nil {
			return nil, err
		}
		return p.ctl.Status(), nil
	case ActionStop:
		return p.ctl.Stop(), nil
	case ActionScan:
		p.ctl.Scan(ctx)
		return p.ctl.Status(), nil
	case ActionStatus:
		return p.ctl.Status(), nil
	default:
		return nil, fmt.Errorf("%w %q for %s", agent.ErrUnknownAction, req.Type, agent.TypeAutoPilot)
	}
}
