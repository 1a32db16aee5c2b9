// Package orchestrator owns one agent per type, fans their events into a
// single stream and exposes the high-level store operations, the named
// workflows and the AutoPilot lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storepilot/pkg/agent"
	"storepilot/pkg/agents"
	"storepilot/pkg/autopilot"
	"storepilot/pkg/catalog"
	"storepilot/pkg/clock"
	"storepilot/pkg/copywriter"
	"storepilot/pkg/dispatch"
	"storepilot/pkg/events"
	"storepilot/pkg/logx"
	"storepilot/pkg/proto"
	"storepilot/pkg/workflow"
)

// ErrUnknownAgent is returned for an agent type that is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

type options struct {
	deps       agents.Deps
	timeout    time.Duration
	thinkDelay time.Duration
	clock      clock.Clock
	perf       autopilot.PerformanceSource
	sink       autopilot.DecisionSink
}

// Option configures an Orchestrator.
type Option func(*options)

// WithWriter sets the listing copy backend used by the content writer.
func WithWriter(w copywriter.Writer) Option { return func(o *options) { o.deps.Writer = w } }

// WithPace sets the simulated external call latency. Negative disables it.
func WithPace(d time.Duration) Option { return func(o *options) { o.deps.Pace = d } }

// WithThinkDelay sets the agents' think pause. Negative disables it.
func WithThinkDelay(d time.Duration) Option { return func(o *options) { o.thinkDelay = d } }

// WithTaskTimeout bounds every agent task.
func WithTaskTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithClock drives the AutoPilot timers from c.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithPerformanceSource replaces the simulated storefront metrics.
func WithPerformanceSource(p autopilot.PerformanceSource) Option {
	return func(o *options) { o.perf = p }
}

// WithDecisionSink mirrors AutoPilot decisions to s.
func WithDecisionSink(s autopilot.DecisionSink) Option { return func(o *options) { o.sink = s } }

// Orchestrator is the composition of agents, router, workflow engine and
// AutoPilot controller. The agent set is fixed after New.
type Orchestrator struct {
	agents map[agent.Type]*agent.Agent
	order  []agent.Type

	bus       *events.Bus
	router    *dispatch.Router
	engine    *workflow.Engine
	autopilot *autopilot.Controller
	logger    *logx.Logger

	unsubs []func()
}

// New builds and wires every agent.
func New(opts ...Option) (*Orchestrator, error) {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.deps.Writer == nil {
		cfg.deps.Writer = copywriter.NewTemplateWriter()
	}

	o := &Orchestrator{
		agents: make(map[agent.Type]*agent.Agent, len(agent.AllTypes)),
		bus:    events.NewBus("orchestrator"),
		router: dispatch.NewRouter(),
		logger: logx.NewLogger("orchestrator"),
	}
	o.engine = workflow.NewEngine(o, o.bus)

	apOpts := []autopilot.Option{autopilot.WithAgentID(string(agent.TypeAutoPilot))}
	if cfg.clock != nil {
		apOpts = append(apOpts, autopilot.WithClock(cfg.clock))
	}
	if cfg.perf != nil {
		apOpts = append(apOpts, autopilot.WithPerformanceSource(cfg.perf))
	}
	if cfg.sink != nil {
		apOpts = append(apOpts, autopilot.WithDecisionSink(cfg.sink))
	}
	o.autopilot = autopilot.New(o, o.bus, apOpts...)

	for _, typ := range agent.AllTypes {
		var (
			name         string
			capabilities []string
			performer    agent.Performer
		)
		if typ == agent.TypeAutoPilot {
			name = "AutoPilot"
			capabilities = []string{autopilot.ActionStart, autopilot.ActionStop, autopilot.ActionScan, autopilot.ActionStatus}
			performer = autopilot.NewPerformer(o.autopilot)
		} else {
			def, ok := agents.Registry[typ]
			if !ok {
				o.Close()
				return nil, fmt.Errorf("%w: no definition for %s", ErrUnknownAgent, typ)
			}
			name, capabilities, performer = def.Name, def.Capabilities, def.New(cfg.deps)
		}

		a := agent.New(agent.Config{
			Type:         typ,
			Name:         name,
			Capabilities: capabilities,
			Timeout:      cfg.timeout,
			ThinkDelay:   cfg.thinkDelay,
		}, performer)

		detach, err := o.router.Attach(a)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("failed to attach %s: %w", typ, err)
		}
		o.unsubs = append(o.unsubs, detach, o.bus.Forward(a.Events()))
		o.agents[typ] = a
		o.order = append(o.order, typ)
	}
	if err := o.router.Register(o); err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to register orchestrator: %w", err)
	}
	o.unsubs = append(o.unsubs, o.bus.Subscribe(o.autopilot.Observe))

	o.logger.Info("initialized %d agents", len(o.order))
	return o, nil
}

// Close stops the AutoPilot, waits for its in-flight jobs and detaches
// every subscription made by New.
func (o *Orchestrator) Close() {
	if o.autopilot != nil {
		o.autopilot.Stop()
		o.autopilot.Wait()
	}
	for _, u := range o.unsubs {
		u()
	}
	o.unsubs = nil
}

// Agent returns the agent of type typ.
func (o *Orchestrator) Agent(typ agent.Type) (*agent.Agent, error) {
	a, ok := o.agents[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, typ)
	}
	return a, nil
}

// AgentStates returns a snapshot of every agent in registry order.
func (o *Orchestrator) AgentStates() []agent.State {
	out := make([]agent.State, 0, len(o.order))
	for _, typ := range o.order {
		out = append(out, o.agents[typ].State())
	}
	return out
}

// Events is the aggregated stream.
func (o *Orchestrator) Events() *events.Bus { return o.bus }

// On subscribes h to the aggregated stream.
func (o *Orchestrator) On(h events.Handler) func() { return o.bus.Subscribe(h) }

// Router returns the message router.
func (o *Orchestrator) Router() *dispatch.Router { return o.router }

// AutoPilot returns the AutoPilot controller.
func (o *Orchestrator) AutoPilot() *autopilot.Controller { return o.autopilot }

// Workflows returns the workflow engine.
func (o *Orchestrator) Workflows() *workflow.Engine { return o.engine }

// SendToAgent routes a request message from the orchestrator to the agent
// of type typ.
func (o *Orchestrator) SendToAgent(ctx context.Context, typ agent.Type, content string, data map[string]any) (*proto.Message, error) {
	a, err := o.Agent(typ)
	if err != nil {
		return nil, err
	}
	msg := proto.NewMessage(proto.MsgTypeRequest, proto.SenderOrchestrator, a.ID(), content).WithData(data)
	if err := o.router.Route(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to send to %s: %w", typ, err)
	}
	return msg, nil
}

// ID makes the orchestrator a router recipient, so agents can reply to it.
func (o *Orchestrator) ID() string { return proto.SenderOrchestrator }

// Receive accepts replies addressed to the orchestrator. They already reach
// subscribers as message events, so nothing else happens here.
func (o *Orchestrator) Receive(_ context.Context, msg *proto.Message) error {
	o.logger.Debug("%s from %s: %s", msg.Type, msg.From, msg.Content)
	return nil
}

// Execute runs req on the agent of type typ. Agent errors are returned as is.
func (o *Orchestrator) Execute(ctx context.Context, typ agent.Type, req agent.Request) (any, error) {
	a, err := o.Agent(typ)
	if err != nil {
		return nil, err
	}
	return a.Execute(ctx, req)
}

func as[T any](out any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T, want %T", out, zero)
	}
	return v, nil
}

// AnalyzeTrends asks the trend analyzer for a niche report.
func (o *Orchestrator) AnalyzeTrends(ctx context.Context, niche string) (catalog.TrendReport, error) {
	return as[catalog.TrendReport](o.Execute(ctx, agent.TypeTrendAnalyzer, agent.Request{
		Type:        agents.ActionAnalyzeTrends,
		Description: "Analyze trends for " + niche,
		Input:       niche,
	}))
}

// ScoutProducts asks the scout for candidates matching query.
func (o *Orchestrator) ScoutProducts(ctx context.Context, query string, opts catalog.ScoutOptions) ([]catalog.Product, error) {
	return as[[]catalog.Product](o.Execute(ctx, agent.TypeProductScout, agent.Request{
		Type:        agents.ActionScoutProducts,
		Description: "Scout products for " + query,
		Input:       catalog.ScoutQuery{Query: query, Options: opts},
	}))
}

// GenerateContent asks the content writer for listing copy.
func (o *Orchestrator) GenerateContent(ctx context.Context, p catalog.Product, opts catalog.ContentOptions) (catalog.ListingContent, error) {
	return as[catalog.ListingContent](o.Execute(ctx, agent.TypeContentWriter, agent.Request{
		Type:        agents.ActionGenerateContent,
		Description: "Write listing for " + p.Title,
		Input:       catalog.ContentRequest{Product: p, Options: opts},
	}))
}

// OptimizePrice asks the price optimizer for a recommendation.
func (o *Orchestrator) OptimizePrice(ctx context.Context, p catalog.Product) (catalog.PriceRecommendation, error) {
	return as[catalog.PriceRecommendation](o.Execute(ctx, agent.TypePriceOptimizer, agent.Request{
		Type:        agents.ActionOptimizePrice,
		Description: "Price " + p.Title,
		Input:       p,
	}))
}

// StartAutoPilot starts the controller as a task of the autopilot agent and
// returns once the initial scan is done.
func (o *Orchestrator) StartAutoPilot(ctx context.Context, cfg autopilot.Config) (autopilot.Status, error) {
	return as[autopilot.Status](o.Execute(ctx, agent.TypeAutoPilot, agent.Request{
		Type:        autopilot.ActionStart,
		Description: fmt.Sprintf("Start AutoPilot (%s)", cfg.Mode),
		Input:       cfg,
	}))
}

// StopAutoPilot cancels future AutoPilot ticks. It reports whether the
// controller was running.
func (o *Orchestrator) StopAutoPilot() bool { return o.autopilot.Stop() }
