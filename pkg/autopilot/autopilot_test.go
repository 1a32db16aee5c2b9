package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/catalog"
	"storepilot/pkg/clock"
	"storepilot/pkg/events"
	"storepilot/pkg/testkit"
)

type fakeOps struct {
	mu        sync.Mutex
	products  []catalog.Product
	opps      int
	failNiche string
	price     float64
	trendRuns int
	block     chan struct{}
	copyErr   error
}

func (f *fakeOps) AnalyzeTrends(_ context.Context, niche string) (catalog.TrendReport, error) {
	f.mu.Lock()
	f.trendRuns++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if niche == f.failNiche {
		return catalog.TrendReport{}, errors.New("trend source down")
	}
	n := f.opps
	if n == 0 {
		n = 1
	}
	r := catalog.TrendReport{Niche: niche}
	for i := 0; i < n; i++ {
		r.Opportunities = append(r.Opportunities, catalog.Opportunity{Keyword: fmt.Sprintf("%s-%d", niche, i), Score: 90})
	}
	return r, nil
}

func (f *fakeOps) ScoutProducts(_ context.Context, query string, _ catalog.ScoutOptions) ([]catalog.Product, error) {
	out := make([]catalog.Product, len(f.products))
	for i, p := range f.products {
		p.ID = p.ID + "@" + query
		out[i] = p
	}
	return out, nil
}

func (f *fakeOps) GenerateContent(_ context.Context, p catalog.Product, opts catalog.ContentOptions) (catalog.ListingContent, error) {
	f.mu.Lock()
	err := f.copyErr
	f.mu.Unlock()
	if err != nil {
		return catalog.ListingContent{}, err
	}
	return catalog.ListingContent{ProductID: p.ID, Title: "Listing " + p.Title, Style: opts.Style}, nil
}

func (f *fakeOps) OptimizePrice(_ context.Context, p catalog.Product) (catalog.PriceRecommendation, error) {
	f.mu.Lock()
	price := f.price
	f.mu.Unlock()
	if price == 0 {
		price = p.Price
	}
	return catalog.PriceRecommendation{ProductID: p.ID, CurrentPrice: p.Price, RecommendedPrice: price}, nil
}

func (f *fakeOps) trends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trendRuns
}

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	ctl   *Controller
	ops   *fakeOps
	clock *clock.Fake
	rec   *testkit.Recorder
	sink  *memorySink
}

type memorySink struct {
	mu      sync.Mutex
	actions []string
}

func (m *memorySink) RecordDecision(d Decision, action string) {
	m.mu.Lock()
	m.actions = append(m.actions, string(d.Type)+":"+action)
	m.mu.Unlock()
}

func newHarness(t *testing.T, ops *fakeOps, opts ...Option) *harness {
	t.Helper()
	bus := events.NewBus("autopilot")
	fc := clock.NewFake(epoch)
	sink := &memorySink{}
	opts = append([]Option{WithClock(fc), WithDecisionSink(sink)}, opts...)
	h := &harness{
		ctl:   New(ops, bus, opts...),
		ops:   ops,
		clock: fc,
		rec:   testkit.Record(bus),
		sink:  sink,
	}
	t.Cleanup(func() {
		h.ctl.Stop()
		h.ctl.Wait()
	})
	return h
}

func product(score, margin float64) catalog.Product {
	return catalog.Product{ID: "p", Title: "Gadget", Score: score, ProfitMargin: margin, SupplierPrice: 10, Price: 20, Stock: 100}
}

func TestBalancedScenarioPublishesOne(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(80, 40)}})

	err := h.ctl.Start(context.Background(), Config{
		Mode:            ModeBalanced,
		Niches:          []string{"electronics"},
		AutoPublish:     true,
		MinProfitMargin: Float(30),
	})
	require.NoError(t, err)

	ds := h.ctl.Decisions(0)
	require.Len(t, ds, 1)
	assert.Equal(t, DecisionPublish, ds[0].Type)
	assert.True(t, ds[0].Approved)
	require.NotNil(t, ds[0].Product)
	assert.Equal(t, 80.0, ds[0].Product.Score)
	assert.Equal(t, 1, h.ctl.Status().Stats.ProductsPublished)
	assert.Equal(t, 1, h.ctl.Status().Stats.ScansCompleted)

	assert.Equal(t, 1, h.rec.Count(events.KindAutoPilotStarted))
	assert.Equal(t, 1, h.rec.Count(events.KindAutoPilotScanCompleted))
	assert.Equal(t, []string{"publish:created"}, h.sink.actions)
}

func TestThresholdDependsOnMode(t *testing.T) {
	for _, tc := range []struct {
		mode    Mode
		publish bool
	}{
		{ModeAggressive, true},
		{ModeBalanced, false},
		{ModeConservative, false},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			h := newHarness(t, &fakeOps{products: []catalog.Product{product(70, 50)}})
			require.NoError(t, h.ctl.Start(context.Background(), Config{
				Mode: tc.mode, Niches: []string{"home"}, AutoPublish: true, MinProfitMargin: Float(20),
			}))

			published := 0
			for _, d := range h.ctl.Decisions(0) {
				if d.Type == DecisionPublish {
					published++
					assert.True(t, d.Approved)
				}
			}
			if tc.publish {
				assert.Equal(t, 1, published)
			} else {
				assert.Zero(t, published)
			}
		})
	}
}

func TestMarginFloorAndNoAutoPublish(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 10)}})
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"home"}, AutoPublish: true, MinProfitMargin: Float(15),
	}))
	assert.Empty(t, h.ctl.Decisions(0))
	h.ctl.Stop()

	h2 := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}})
	require.NoError(t, h2.ctl.Start(context.Background(), Config{Mode: ModeAggressive, Niches: []string{"home"}}))
	assert.Empty(t, h2.ctl.Decisions(0))
	assert.Equal(t, 1, h2.ctl.Status().Stats.ProductsScanned)
}

func TestExcludeKeywords(t *testing.T) {
	p := product(95, 60)
	p.Title = "Vape Pen"
	h := newHarness(t, &fakeOps{products: []catalog.Product{p}})
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true, ExcludeKeywords: []string{"vape"},
	}))
	assert.Empty(t, h.ctl.Decisions(0))
}

func TestDailyCap(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}, opps: 3})
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"a", "b"}, AutoPublish: true, MaxProductsPerDay: Int(2),
	}))
	assert.Equal(t, 2, h.ctl.Status().Stats.ProductsPublished)
	assert.Equal(t, 6, h.ctl.Status().Stats.ProductsScanned)
}

func TestNicheFailureDoesNotAbortScan(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}, failNiche: "broken"})
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"broken", "fine"}, AutoPublish: true,
	}))

	st := h.ctl.Status()
	assert.True(t, st.Running)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, "broken", st.Errors[0].Scope)
	assert.Contains(t, st.Errors[0].Message, "trend source down")
	assert.Equal(t, 1, st.Stats.ProductsPublished)
	assert.Equal(t, 1, h.rec.Count(events.KindAutoPilotError))

	h.ctl.ClearErrors()
	assert.Empty(t, h.ctl.Status().Errors)
}

func TestValidation(t *testing.T) {
	h := newHarness(t, &fakeOps{})
	bad := []Config{
		{Mode: ModeBalanced},
		{Mode: ModeBalanced, Niches: []string{"  "}},
		{Mode: "turbo", Niches: []string{"x"}},
		{Mode: ModeBalanced, Niches: []string{"x"}, MaxProductsPerDay: Int(0)},
		{Mode: ModeBalanced, Niches: []string{"x"}, MinProfitMargin: Float(101)},
		{Mode: ModeBalanced, Niches: []string{"x"}, MinProfitMargin: Float(-1)},
		{Mode: ModeBalanced, Niches: []string{"x"}, ContentStyle: "shouty"},
	}
	for _, cfg := range bad {
		err := h.ctl.Start(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "%+v", cfg)
	}
	assert.False(t, h.ctl.Running())
	assert.Zero(t, h.clock.Tickers())
	assert.Zero(t, h.ops.trends())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, &fakeOps{})
	cfg := Config{Mode: ModeBalanced, Niches: []string{"x"}}
	require.NoError(t, h.ctl.Start(context.Background(), cfg))
	assert.ErrorIs(t, h.ctl.Start(context.Background(), cfg), ErrAlreadyRunning)
	assert.Equal(t, 3, h.clock.Tickers())
}

func TestTimerTriggersScans(t *testing.T) {
	h := newHarness(t, &fakeOps{})
	require.NoError(t, h.ctl.Start(context.Background(), Config{Mode: ModeAggressive, Niches: []string{"x"}}))
	require.Equal(t, 1, h.ops.trends())

	h.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return h.ctl.Status().Stats.ScansCompleted == 2 }, time.Second, time.Millisecond)
	next := h.ctl.Status().Stats.NextScan
	assert.Equal(t, epoch.Add(2*time.Hour), next)
}

func TestStopSuppressesFutureScans(t *testing.T) {
	h := newHarness(t, &fakeOps{})
	require.NoError(t, h.ctl.Start(context.Background(), Config{Mode: ModeAggressive, Niches: []string{"x"}}))
	require.True(t, h.ctl.Stop())
	assert.False(t, h.ctl.Stop())
	assert.Zero(t, h.clock.Tickers())

	h.rec.Reset()
	h.clock.Advance(24 * time.Hour)
	time.Sleep(20 * time.Millisecond)
	h.ctl.Wait()

	assert.Equal(t, 1, h.ops.trends())
	assert.Zero(t, h.rec.Count(events.KindAutoPilotScanStarted))
	assert.Equal(t, 1, h.ctl.Status().Stats.ScansCompleted)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	ops := &fakeOps{}
	h := newHarness(t, ops)
	require.NoError(t, h.ctl.Start(context.Background(), Config{Mode: ModeAggressive, Niches: []string{"x"}}))

	block := make(chan struct{})
	ops.mu.Lock()
	ops.block = block
	ops.mu.Unlock()

	h.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return ops.trends() == 2 }, time.Second, time.Millisecond)
	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, ops.trends())

	close(block)
	h.ctl.Wait()
	assert.Equal(t, 2, h.ctl.Status().Stats.ScansCompleted)
}

func lowPerformer(p Performance) Option {
	return WithPerformanceSource(PerformanceFunc(func(context.Context, catalog.Product, time.Time) (Performance, error) {
		return p, nil
	}))
}

func TestRemoveAndRestockNeverAutoApproved(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}},
		lowPerformer(Performance{ConversionRate: 0.5, Margin: 10, DaysSinceLastSale: 45, Stock: 2}))
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true, AutoPricing: true,
	}))

	h.ctl.CheckPerformance(context.Background())

	byType := map[DecisionType]Decision{}
	for _, d := range h.ctl.Decisions(0) {
		byType[d.Type] = d
	}
	require.Len(t, byType, 5)
	assert.False(t, byType[DecisionRemove].Approved)
	assert.False(t, byType[DecisionRestock].Approved)
	assert.True(t, byType[DecisionContentUpdate].Approved)
	assert.True(t, byType[DecisionPriceChange].Approved)
	assert.True(t, byType[DecisionPublish].Approved)

	st := h.ctl.Status()
	assert.Equal(t, 2, st.PendingDecisions)
	assert.Equal(t, 1, st.Stats.ContentUpdates)
	assert.Equal(t, 1, st.Stats.PriceChanges)
	assert.Equal(t, 1, h.rec.Count(events.KindAutoPilotPerformanceCheck))
}

func TestRepeatedChecksDoNotDuplicatePending(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}},
		lowPerformer(Performance{ConversionRate: 5, Margin: 50, DaysSinceLastSale: 45, Stock: 2}))
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true,
	}))

	for i := 0; i < 3; i++ {
		h.ctl.CheckPerformance(context.Background())
	}

	count := map[DecisionType]int{}
	for _, d := range h.ctl.PendingDecisions() {
		count[d.Type]++
	}
	assert.Equal(t, map[DecisionType]int{DecisionRemove: 1, DecisionRestock: 1}, count)

	// A rejected decision may be proposed again.
	for _, d := range h.ctl.PendingDecisions() {
		if d.Type == DecisionRestock {
			require.NoError(t, h.ctl.RejectDecision(d.ID))
		}
	}
	h.ctl.CheckPerformance(context.Background())
	count = map[DecisionType]int{}
	for _, d := range h.ctl.PendingDecisions() {
		count[d.Type]++
	}
	assert.Equal(t, map[DecisionType]int{DecisionRemove: 1, DecisionRestock: 1}, count)
}

func TestFailedAutoApplyStaysPending(t *testing.T) {
	ops := &fakeOps{products: []catalog.Product{product(95, 60)}}
	h := newHarness(t, ops, lowPerformer(Performance{ConversionRate: 0.5, Margin: 50, Stock: 100}))
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true,
	}))

	ops.mu.Lock()
	ops.copyErr = errors.New("copy backend down")
	ops.mu.Unlock()
	h.ctl.CheckPerformance(context.Background())
	h.ctl.CheckPerformance(context.Background())

	pending := h.ctl.PendingDecisions()
	require.Len(t, pending, 1)
	assert.Equal(t, DecisionContentUpdate, pending[0].Type)
	assert.False(t, pending[0].Approved)
	assert.Nil(t, pending[0].Result)
	assert.NotEmpty(t, h.ctl.Status().Errors)
	assert.Zero(t, h.ctl.Status().Stats.ContentUpdates)

	ops.mu.Lock()
	ops.copyErr = nil
	ops.mu.Unlock()
	d, err := h.ctl.ApproveDecision(context.Background(), pending[0].ID)
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, 1, h.ctl.Status().Stats.ContentUpdates)
}

func TestPriceChangeFollowsAutoPricing(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}},
		lowPerformer(Performance{ConversionRate: 5, Margin: 10, Stock: 100}))
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true,
	}))
	h.ctl.CheckPerformance(context.Background())

	pending := h.ctl.PendingDecisions()
	require.Len(t, pending, 1)
	assert.Equal(t, DecisionPriceChange, pending[0].Type)
	assert.Zero(t, h.ctl.Status().Stats.PriceChanges)
}

func TestApproveAndReject(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}},
		lowPerformer(Performance{ConversionRate: 5, Margin: 50, DaysSinceLastSale: 31, Stock: 1}))
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true,
	}))
	h.ctl.CheckPerformance(context.Background())

	var removeID, restockID string
	for _, d := range h.ctl.PendingDecisions() {
		switch d.Type {
		case DecisionRemove:
			removeID = d.ID
		case DecisionRestock:
			restockID = d.ID
		}
	}
	require.NotEmpty(t, removeID)
	require.NotEmpty(t, restockID)

	require.NoError(t, h.ctl.RejectDecision(restockID))
	assert.ErrorIs(t, h.ctl.RejectDecision(restockID), ErrDecisionNotFound)

	d, err := h.ctl.ApproveDecision(context.Background(), removeID)
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Equal(t, 1, h.ctl.Status().Stats.ProductsRemoved)
	assert.Empty(t, h.ctl.Published())

	_, err = h.ctl.ApproveDecision(context.Background(), removeID)
	assert.ErrorIs(t, err, ErrDecisionNotPending)
	_, err = h.ctl.ApproveDecision(context.Background(), "dec_missing")
	assert.ErrorIs(t, err, ErrDecisionNotFound)

	assert.Contains(t, h.sink.actions, "restock:rejected")
	assert.Contains(t, h.sink.actions, "remove:approved")
}

func TestPriceUpdateTicker(t *testing.T) {
	ops := &fakeOps{products: []catalog.Product{product(95, 60)}}
	h := newHarness(t, ops)
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true, AutoPricing: true,
	}))
	ops.mu.Lock()
	ops.price = 24.99
	ops.mu.Unlock()

	h.clock.Advance(3 * time.Hour)
	require.Eventually(t, func() bool { return h.ctl.Status().Stats.PriceUpdates == 1 }, time.Second, time.Millisecond)
	h.ctl.Wait()

	listings := h.ctl.Published()
	require.Len(t, listings, 1)
	assert.Equal(t, 24.99, listings[0].Product.Price)
	assert.Equal(t, 1, h.ctl.Status().Stats.PriceChanges)
	assert.GreaterOrEqual(t, h.rec.Count(events.KindAutoPilotPriceUpdate), 1)
}

func TestDecisionsLimitAndBound(t *testing.T) {
	h := newHarness(t, &fakeOps{})
	cfg := Config{Mode: ModeBalanced, Niches: []string{"x"}}
	for i := 0; i < MaxDecisions+10; i++ {
		h.ctl.addDecision(context.Background(), &cfg, &decisionRecord{Decision: Decision{
			Type: DecisionContentUpdate, Reason: fmt.Sprint(i),
		}})
	}
	all := h.ctl.Decisions(0)
	require.Len(t, all, MaxDecisions)
	assert.Equal(t, fmt.Sprint(MaxDecisions+9), all[0].Reason)

	assert.Len(t, h.ctl.Decisions(3), 3)
}

func TestGenerateReport(t *testing.T) {
	h := newHarness(t, &fakeOps{products: []catalog.Product{product(95, 60)}})
	require.NoError(t, h.ctl.Start(context.Background(), Config{
		Mode: ModeAggressive, Niches: []string{"x"}, AutoPublish: true,
	}))

	rep, err := h.ctl.GenerateReport(PeriodWeekly)
	require.NoError(t, err)
	assert.Equal(t, PeriodWeekly, rep.Period)
	assert.Equal(t, 1, rep.ProductsAdded)
	assert.Equal(t, 1, rep.ProductsScanned)
	require.Len(t, rep.TopProducts, 1)
	assert.Equal(t, 21, rep.TopProducts[0].EstimatedUnits)
	assert.InDelta(t, 20*21, rep.EstimatedRevenue, 0.001)
	assert.NotEmpty(t, rep.Recommendations)
	assert.Equal(t, 7*24*time.Hour, rep.To.Sub(rep.From))

	_, err = h.ctl.GenerateReport("yearly")
	assert.Error(t, err)
}

func TestObserveCountsOtherAgentFailures(t *testing.T) {
	h := newHarness(t, &fakeOps{})
	h.ctl.Observe(events.New(events.KindTaskFailed, "product_scout", nil))
	h.ctl.Observe(events.New(events.KindTaskFailed, "autopilot", nil))
	h.ctl.Observe(events.New(events.KindTaskCompleted, "product_scout", nil))
	assert.Equal(t, 1, h.ctl.Status().Stats.AgentFailures)
}

func TestModeTables(t *testing.T) {
	assert.Equal(t, 85.0, ModeConservative.Threshold())
	assert.Equal(t, 75.0, ModeBalanced.Threshold())
	assert.Equal(t, 65.0, ModeAggressive.Threshold())
	assert.Less(t, ModeAggressive.Intervals().TrendScan, ModeBalanced.Intervals().TrendScan)
	assert.Less(t, ModeBalanced.Intervals().TrendScan, ModeConservative.Intervals().TrendScan)
}
