package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storepilot/pkg/catalog"
	"storepilot/pkg/clock"
	"storepilot/pkg/events"
	"storepilot/pkg/logx"
)

// ErrAlreadyRunning is returned by Start while a run is active.
var ErrAlreadyRunning = errors.New("autopilot is already running")

// Operations are the agent calls the controller drives.
type Operations interface {
	AnalyzeTrends(ctx context.Context, niche string) (catalog.TrendReport, error)
	ScoutProducts(ctx context.Context, query string, opts catalog.ScoutOptions) ([]catalog.Product, error)
	GenerateContent(ctx context.Context, p catalog.Product, opts catalog.ContentOptions) (catalog.ListingContent, error)
	OptimizePrice(ctx context.Context, p catalog.Product) (catalog.PriceRecommendation, error)
}

// TopOpportunities is how many opportunities per niche get scouted.
const TopOpportunities = 3

// maxErrors bounds the error list shown on the status snapshot.
const maxErrors = 100

// Stats are the running counters of the controller.
type Stats struct {
	ScansCompleted    int       `json:"scans_completed"`
	ProductsScanned   int       `json:"products_scanned"`
	ProductsPublished int       `json:"products_published"`
	ProductsRemoved   int       `json:"products_removed"`
	PriceChanges      int       `json:"price_changes"`
	ContentUpdates    int       `json:"content_updates"`
	Restocks          int       `json:"restocks"`
	PriceUpdates      int       `json:"price_updates"`
	PerformanceChecks int       `json:"performance_checks"`
	AgentFailures     int       `json:"agent_failures"`
	LastScan          time.Time `json:"last_scan,omitempty"`
	NextScan          time.Time `json:"next_scan,omitempty"`
}

// ScanError is one caught failure.
type ScanError struct {
	Time    time.Time `json:"time"`
	Scope   string    `json:"scope"`
	Message string    `json:"message"`
}

// Status is a point-in-time copy of the controller.
type Status struct {
	Running          bool        `json:"running"`
	Mode             Mode        `json:"mode,omitempty"`
	Niches           []string    `json:"niches,omitempty"`
	Stats            Stats       `json:"stats"`
	Errors           []ScanError `json:"errors"`
	PendingDecisions int         `json:"pending_decisions"`
	TotalDecisions   int         `json:"total_decisions"`
	Published        int         `json:"published"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithPerformanceSource replaces the simulated storefront metrics.
func WithPerformanceSource(p PerformanceSource) Option {
	return func(ctl *Controller) { ctl.perf = p }
}

// WithDecisionSink mirrors decisions to s.
func WithDecisionSink(s DecisionSink) Option { return func(ctl *Controller) { ctl.sink = s } }

// WithAgentID sets the id stamped on published events.
func WithAgentID(id string) Option { return func(ctl *Controller) { ctl.agentID = id } }

// Controller is the AutoPilot state machine.
type Controller struct {
	ops     Operations
	bus     *events.Bus
	clock   clock.Clock
	perf    PerformanceSource
	sink    DecisionSink
	agentID string
	logger  *logx.Logger

	scanMu  sync.Mutex
	priceMu sync.Mutex
	perfMu  sync.Mutex
	jobs    sync.WaitGroup

	mu             sync.Mutex
	running        bool
	cfg            Config
	stopCh         chan struct{}
	loopDone       chan struct{}
	tickers        []clock.Ticker
	decisions      []*decisionRecord
	published      map[string]*catalog.Listing
	publishedOrder []string
	reserved       map[string]bool
	stats          Stats
	errs           []ScanError
	day            string
	publishedToday int
}

// New creates a stopped controller publishing on bus.
func New(ops Operations, bus *events.Bus, opts ...Option) *Controller {
	c := &Controller{
		ops:       ops,
		bus:       bus,
		clock:     clock.Real{},
		perf:      SimulatedPerformance{},
		agentID:   "autopilot",
		logger:    logx.NewLogger("autopilot"),
		published: make(map[string]*catalog.Listing),
		reserved:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartedEvent is the payload of autopilot:started.
type StartedEvent struct {
	Mode      Mode      `json:"mode"`
	Niches    []string  `json:"niches"`
	Intervals Intervals `json:"intervals"`
}

// Start validates cfg, installs the mode's timers and runs one scan before
// returning. Scan failures are recorded on the status, not returned.
func (c *Controller) Start(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	iv := cfg.Mode.Intervals()
	trend := c.clock.NewTicker(iv.TrendScan)
	price := c.clock.NewTicker(iv.PriceUpdate)
	perf := c.clock.NewTicker(iv.PerformanceCheck)
	stop, done := make(chan struct{}), make(chan struct{})

	c.running = true
	c.cfg = cfg.clone()
	c.tickers = []clock.Ticker{trend, price, perf}
	c.stopCh, c.loopDone = stop, done
	c.stats.NextScan = c.clock.Now().Add(iv.TrendScan)
	c.mu.Unlock()

	c.logger.Info("started in %s mode for %d niches", cfg.Mode, len(cfg.Niches))
	c.publish(events.KindAutoPilotStarted, StartedEvent{Mode: cfg.Mode, Niches: cfg.clone().Niches, Intervals: iv})

	go c.loop(context.WithoutCancel(ctx), stop, done, trend, price, perf)

	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	c.runScan(ctx)
	return nil
}

func (c *Controller) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}, trend, price, perf clock.Ticker) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-trend.C():
			c.spawn(&c.scanMu, func() { c.runScan(ctx) })
		case <-price.C():
			c.spawn(&c.priceMu, func() { c.runPriceUpdate(ctx) })
		case <-perf.C():
			c.spawn(&c.perfMu, func() { c.runPerformanceCheck(ctx) })
		}
	}
}

// spawn runs job unless the controller stopped or the same job is still
// running from an earlier tick.
func (c *Controller) spawn(mu *sync.Mutex, job func()) {
	if !c.Running() {
		return
	}
	if !mu.TryLock() {
		c.logger.Debug("skipping tick: previous run still in progress")
		return
	}
	c.jobs.Add(1)
	go func() {
		defer c.jobs.Done()
		defer mu.Unlock()
		job()
	}()
}

// Stop cancels future ticks. A scan already running is left to finish. It
// reports whether the controller was running.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	c.running = false
	close(c.stopCh)
	for _, t := range c.tickers {
		t.Stop()
	}
	c.tickers = nil
	c.stats.NextScan = time.Time{}
	done := c.loopDone
	c.mu.Unlock()

	<-done
	c.logger.Info("stopped")
	c.publish(events.KindAutoPilotStopped, nil)
	return true
}

// Wait blocks until timer-triggered jobs already started have finished.
func (c *Controller) Wait() { c.jobs.Wait() }

// Running reports whether timers are installed.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Config returns the active (or last) configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.clone()
}

// Scan runs one scan now, waiting for any scan in progress.
func (c *Controller) Scan(ctx context.Context) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	c.runScan(ctx)
}

// CheckPrices runs one price update now.
func (c *Controller) CheckPrices(ctx context.Context) {
	c.priceMu.Lock()
	defer c.priceMu.Unlock()
	c.runPriceUpdate(ctx)
}

// CheckPerformance runs one performance check now.
func (c *Controller) CheckPerformance(ctx context.Context) {
	c.perfMu.Lock()
	defer c.perfMu.Unlock()
	c.runPerformanceCheck(ctx)
}

// Observe is subscribed to the orchestrator stream; it counts task failures
// of other agents.
func (c *Controller) Observe(e events.Event) {
	if e.Kind != events.KindTaskFailed || e.AgentID == c.agentID {
		return
	}
	c.mu.Lock()
	c.stats.AgentFailures++
	c.mu.Unlock()
}

// Decisions returns up to limit decisions, newest first. A non-positive
// limit returns all of them.
func (c *Controller) Decisions(limit int) []Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.decisions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Decision, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.decisions[i].clone())
	}
	return out
}

// PendingDecisions returns unapproved decisions, newest first.
func (c *Controller) PendingDecisions() []Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Decision
	for i := len(c.decisions) - 1; i >= 0; i-- {
		if !c.decisions[i].Approved {
			out = append(out, c.decisions[i].clone())
		}
	}
	return out
}

// ApproveDecision approves a pending decision and carries out its action.
// If the action fails the decision stays pending.
func (c *Controller) ApproveDecision(ctx context.Context, id string) (Decision, error) {
	c.mu.Lock()
	rec := c.findLocked(id)
	if rec == nil {
		c.mu.Unlock()
		return Decision{}, fmt.Errorf("%w: %s", ErrDecisionNotFound, id)
	}
	if rec.Approved || rec.applying {
		d := rec.clone()
		c.mu.Unlock()
		return d, fmt.Errorf("%w: %s", ErrDecisionNotPending, id)
	}
	rec.applying = true
	apply := rec.apply
	c.mu.Unlock()

	var result any
	if apply != nil {
		var err error
		if result, err = apply(ctx); err != nil {
			c.mu.Lock()
			rec.applying = false
			c.mu.Unlock()
			return Decision{}, fmt.Errorf("failed to apply decision %s: %w", id, err)
		}
	}

	c.mu.Lock()
	rec.applying = false
	rec.Approved = true
	if result != nil {
		rec.Result = result
	}
	d := rec.clone()
	c.mu.Unlock()

	c.logger.Info("decision %s (%s) approved", id, d.Type)
	c.audit(d, AuditApproved)
	return d, nil
}

// RejectDecision removes a pending decision from the log.
func (c *Controller) RejectDecision(id string) error {
	c.mu.Lock()
	idx := -1
	for i, rec := range c.decisions {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDecisionNotFound, id)
	}
	rec := c.decisions[idx]
	if rec.Approved || rec.applying {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDecisionNotPending, id)
	}
	c.decisions = append(c.decisions[:idx:idx], c.decisions[idx+1:]...)
	d := rec.clone()
	c.mu.Unlock()

	c.logger.Info("decision %s (%s) rejected", id, d.Type)
	c.audit(d, AuditRejected)
	return nil
}

// Status returns a snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Running:        c.running,
		Mode:           c.cfg.Mode,
		Niches:         append([]string(nil), c.cfg.Niches...),
		Stats:          c.stats,
		Errors:         append([]ScanError{}, c.errs...),
		TotalDecisions: len(c.decisions),
		Published:      len(c.published),
	}
	for _, rec := range c.decisions {
		if !rec.Approved {
			st.PendingDecisions++
		}
	}
	return st
}

// ClearErrors empties the error list.
func (c *Controller) ClearErrors() {
	c.mu.Lock()
	c.errs = nil
	c.mu.Unlock()
}

// Published returns copies of the listings published in this process.
func (c *Controller) Published() []catalog.Listing {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.Listing, 0, len(c.publishedOrder))
	for _, id := range c.publishedOrder {
		if l := c.published[id]; l != nil {
			out = append(out, *l)
		}
	}
	return out
}

func (c *Controller) findLocked(id string) *decisionRecord {
	for _, rec := range c.decisions {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// addDecision stamps rec, applies the approval policy and records it.
func (c *Controller) addDecision(ctx context.Context, cfg *Config, rec *decisionRecord) Decision {
	rec.ID = "dec_" + uuid.NewString()
	rec.Timestamp = c.clock.Now().UTC()
	rec.Approved = cfg.AutoApproves(rec.Type)

	if rec.Approved && rec.apply != nil {
		result, err := rec.apply(ctx)
		if err != nil {
			rec.Approved = false
			c.recordError(string(rec.Type), err)
		} else {
			rec.Result = result
		}
	}

	c.mu.Lock()
	c.decisions = append(c.decisions, rec)
	if over := len(c.decisions) - MaxDecisions; over > 0 {
		c.decisions = append([]*decisionRecord(nil), c.decisions[over:]...)
	}
	d := rec.clone()
	c.mu.Unlock()

	c.audit(d, AuditCreated)
	return d
}

func (c *Controller) audit(d Decision, action string) {
	if c.sink != nil {
		c.sink.RecordDecision(d, action)
	}
	c.publish(events.KindDecision, DecisionEvent{Action: action, Decision: d})
}

func (c *Controller) recordError(scope string, err error) {
	c.logger.Warn("%s: %v", scope, err)
	se := ScanError{Time: c.clock.Now().UTC(), Scope: scope, Message: err.Error()}
	c.mu.Lock()
	c.errs = append(c.errs, se)
	if over := len(c.errs) - maxErrors; over > 0 {
		c.errs = append([]ScanError(nil), c.errs[over:]...)
	}
	c.mu.Unlock()
	c.publish(events.KindAutoPilotError, se)
}

func (c *Controller) publish(kind events.Kind, payload any) {
	if c.bus != nil {
		c.bus.Publish(events.New(kind, c.agentID, payload))
	}
}
