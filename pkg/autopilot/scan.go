package autopilot

import (
	"context"
	"fmt"
	"strings"

	"storepilot/pkg/catalog"
	"storepilot/pkg/events"
)

// ScanEvent is the payload of autopilot:scan_started and scan_completed.
type ScanEvent struct {
	Niches    []string `json:"niches"`
	Scanned   int      `json:"scanned,omitempty"`
	Published int      `json:"published,omitempty"`
	Errors    int      `json:"errors,omitempty"`
}

// runScan must be called with scanMu held.
func (c *Controller) runScan(ctx context.Context) {
	cfg := c.Config()
	c.publish(events.KindAutoPilotScanStarted, ScanEvent{Niches: cfg.Niches})

	var total ScanEvent
	total.Niches = cfg.Niches
	for _, niche := range cfg.Niches {
		niche = strings.TrimSpace(niche)
		if niche == "" {
			continue
		}
		scanned, published, err := c.scanNiche(ctx, &cfg, niche)
		total.Scanned += scanned
		total.Published += published
		if err != nil {
			total.Errors++
			c.recordError(niche, err)
		}
	}

	now := c.clock.Now().UTC()
	c.mu.Lock()
	c.stats.ScansCompleted++
	c.stats.LastScan = now
	if c.running {
		c.stats.NextScan = now.Add(c.cfg.Mode.Intervals().TrendScan)
	}
	c.mu.Unlock()

	c.logger.Info("scan finished: %d scanned, %d published, %d niche errors", total.Scanned, total.Published, total.Errors)
	c.publish(events.KindAutoPilotScanCompleted, total)
}

func (c *Controller) scanNiche(ctx context.Context, cfg *Config, niche string) (scanned, published int, err error) {
	report, err := c.ops.AnalyzeTrends(ctx, niche)
	if err != nil {
		return 0, 0, fmt.Errorf("trend analysis failed: %w", err)
	}

	for _, opp := range report.Top(TopOpportunities) {
		products, err := c.ops.ScoutProducts(ctx, opp.Keyword, catalog.ScoutOptions{Category: opp.Category})
		if err != nil {
			return scanned, published, fmt.Errorf("scouting %q failed: %w", opp.Keyword, err)
		}

		c.mu.Lock()
		c.stats.ProductsScanned += len(products)
		c.mu.Unlock()
		scanned += len(products)

		if !cfg.AutoPublish {
			continue
		}
		for _, p := range products {
			if !c.qualifies(cfg, p) {
				continue
			}
			ok, err := c.publishProduct(ctx, cfg, p)
			if err != nil {
				return scanned, published, err
			}
			if ok {
				published++
			}
		}
	}
	return scanned, published, nil
}

// qualifies applies the exclusion list, the mode threshold and the margin floor.
func (c *Controller) qualifies(cfg *Config, p catalog.Product) bool {
	if p.Matches(cfg.ExcludeKeywords) {
		return false
	}
	return p.Score >= cfg.Mode.Threshold() && p.ProfitMargin >= cfg.minMargin()
}

// reserve claims a publish slot for p. It fails for products already
// published or in flight, and once the daily cap is reached.
func (c *Controller) reserve(cfg *Config, id string) bool {
	today := c.clock.Now().Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.day != today {
		c.day, c.publishedToday = today, 0
	}
	if c.published[id] != nil || c.reserved[id] {
		return false
	}
	if cfg.MaxProductsPerDay != nil && c.publishedToday >= *cfg.MaxProductsPerDay {
		return false
	}
	c.reserved[id] = true
	c.publishedToday++
	return true
}

func (c *Controller) release(id string, published bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reserved, id)
	if !published && c.publishedToday > 0 {
		c.publishedToday--
	}
}

func (c *Controller) publishProduct(ctx context.Context, cfg *Config, p catalog.Product) (bool, error) {
	if !c.reserve(cfg, p.ID) {
		return false, nil
	}

	content, err := c.ops.GenerateContent(ctx, p, catalog.ContentOptions{Style: cfg.ContentStyle})
	if err != nil {
		c.release(p.ID, false)
		return false, fmt.Errorf("content for %s failed: %w", p.ID, err)
	}
	price, err := c.ops.OptimizePrice(ctx, p)
	if err != nil {
		c.release(p.ID, false)
		return false, fmt.Errorf("pricing for %s failed: %w", p.ID, err)
	}

	listing := catalog.Listing{Product: p, Content: &content, Price: &price}
	if price.RecommendedPrice > 0 {
		listing.Product.Price = price.RecommendedPrice
		if p.SupplierPrice > 0 {
			listing.Product.ProfitMargin = catalog.Margin(price.RecommendedPrice, p.SupplierPrice)
		}
	}

	c.mu.Lock()
	l := listing
	c.published[p.ID] = &l
	c.publishedOrder = append(c.publishedOrder, p.ID)
	c.stats.ProductsPublished++
	c.mu.Unlock()
	c.release(p.ID, true)

	c.addDecision(ctx, cfg, &decisionRecord{Decision: Decision{
		Type:    DecisionPublish,
		Product: &p,
		Reason: fmt.Sprintf("score %.0f meets %s threshold %.0f and margin %.1f%% meets %.1f%%",
			p.Score, cfg.Mode, cfg.Mode.Threshold(), p.ProfitMargin, cfg.minMargin()),
		Action: fmt.Sprintf("publish %q at $%.2f", content.Title, listing.Product.Price),
		Result: listing,
	}})
	return true, nil
}

// PriceUpdateEvent is the payload of autopilot:price_update.
type PriceUpdateEvent struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
}

// runPriceUpdate must be called with priceMu held.
func (c *Controller) runPriceUpdate(ctx context.Context) {
	cfg := c.Config()
	listings := c.Published()
	changed := 0
	for _, l := range listings {
		rec, err := c.ops.OptimizePrice(ctx, l.Product)
		if err != nil {
			c.recordError("price:"+l.Product.ID, err)
			continue
		}
		if !rec.Changed() {
			continue
		}
		changed++
		p := l.Product
		c.addDecision(ctx, &cfg, &decisionRecord{
			Decision: Decision{
				Type:    DecisionPriceChange,
				Product: &p,
				Reason:  fmt.Sprintf("market moved: recommended $%.2f vs listed $%.2f", rec.RecommendedPrice, p.Price),
				Action:  fmt.Sprintf("reprice %s to $%.2f", p.ID, rec.RecommendedPrice),
			},
			apply: c.applyPrice(p.ID, rec),
		})
	}

	c.mu.Lock()
	c.stats.PriceUpdates++
	c.mu.Unlock()
	c.publish(events.KindAutoPilotPriceUpdate, PriceUpdateEvent{Checked: len(listings), Changed: changed})
}

func (c *Controller) applyPrice(id string, rec catalog.PriceRecommendation) applyFunc {
	return func(context.Context) (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		l := c.published[id]
		if l == nil {
			return nil, fmt.Errorf("product %s is no longer published", id)
		}
		l.Product.Price = rec.RecommendedPrice
		if l.Product.SupplierPrice > 0 {
			l.Product.ProfitMargin = catalog.Margin(rec.RecommendedPrice, l.Product.SupplierPrice)
		}
		r := rec
		l.Price = &r
		c.stats.PriceChanges++
		return r, nil
	}
}

// Performance floors.
const (
	ConversionFloor = 1.5
	MarginFloor     = 25.0
	StaleAfterDays  = 30
	LowStock        = 10
	RestockQuantity = 100
)

// PerformanceEvent is the payload of autopilot:performance_check.
type PerformanceEvent struct {
	Checked   int `json:"checked"`
	Decisions int `json:"decisions"`
}

// runPerformanceCheck must be called with perfMu held.
func (c *Controller) runPerformanceCheck(ctx context.Context) {
	cfg := c.Config()
	listings := c.Published()
	made := 0
	for _, l := range listings {
		p := l.Product
		perf, err := c.perf.Performance(ctx, p, c.clock.Now())
		if err != nil {
			c.recordError("performance:"+p.ID, err)
			continue
		}

		propose := func(rec *decisionRecord) {
			if c.hasPending(rec.Type, p.ID) {
				return
			}
			made++
			c.addDecision(ctx, &cfg, rec)
		}

		if perf.ConversionRate < ConversionFloor {
			propose(&decisionRecord{
				Decision: Decision{
					Type:    DecisionContentUpdate,
					Product: &p,
					Reason:  fmt.Sprintf("conversion %.2f%% is below %.1f%%", perf.ConversionRate, ConversionFloor),
					Action:  "regenerate listing copy for " + p.ID,
				},
				apply: c.applyContent(p, cfg.ContentStyle),
			})
		}
		if perf.Margin < MarginFloor {
			propose(&decisionRecord{
				Decision: Decision{
					Type:    DecisionPriceChange,
					Product: &p,
					Reason:  fmt.Sprintf("margin %.1f%% is below %.0f%%", perf.Margin, MarginFloor),
					Action:  "reprice " + p.ID,
				},
				apply: c.applyReprice(p),
			})
		}
		if perf.DaysSinceLastSale >= StaleAfterDays {
			propose(&decisionRecord{
				Decision: Decision{
					Type:    DecisionRemove,
					Product: &p,
					Reason:  fmt.Sprintf("no sale in %d days", perf.DaysSinceLastSale),
					Action:  "unpublish " + p.ID,
				},
				apply: c.applyRemove(p.ID),
			})
		}
		if perf.Stock < LowStock {
			propose(&decisionRecord{
				Decision: Decision{
					Type:    DecisionRestock,
					Product: &p,
					Reason:  fmt.Sprintf("only %d units left", perf.Stock),
					Action:  fmt.Sprintf("order %d units of %s", RestockQuantity, p.ID),
				},
				apply: c.applyRestock(p.ID),
			})
		}
	}

	c.mu.Lock()
	c.stats.PerformanceChecks++
	c.mu.Unlock()
	c.publish(events.KindAutoPilotPerformanceCheck, PerformanceEvent{Checked: len(listings), Decisions: made})
}

// hasPending reports whether a decision of typ for productID is still
// waiting for review.
func (c *Controller) hasPending(typ DecisionType, productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.decisions {
		if !rec.Approved && rec.Type == typ && rec.Product != nil && rec.Product.ID == productID {
			return true
		}
	}
	return false
}

func (c *Controller) applyContent(p catalog.Product, style catalog.ContentStyle) applyFunc {
	return func(ctx context.Context) (any, error) {
		content, err := c.ops.GenerateContent(ctx, p, catalog.ContentOptions{Style: style})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if l := c.published[p.ID]; l != nil {
			l.Content = &content
		}
		c.stats.ContentUpdates++
		return content, nil
	}
}

func (c *Controller) applyReprice(p catalog.Product) applyFunc {
	return func(ctx context.Context) (any, error) {
		rec, err := c.ops.OptimizePrice(ctx, p)
		if err != nil {
			return nil, err
		}
		return c.applyPrice(p.ID, rec)(ctx)
	}
}

func (c *Controller) applyRemove(id string) applyFunc {
	return func(context.Context) (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.published[id] == nil {
			return nil, fmt.Errorf("product %s is no longer published", id)
		}
		delete(c.published, id)
		for i, pid := range c.publishedOrder {
			if pid == id {
				c.publishedOrder = append(c.publishedOrder[:i:i], c.publishedOrder[i+1:]...)
				break
			}
		}
		c.stats.ProductsRemoved++
		return "removed " + id, nil
	}
}

func (c *Controller) applyRestock(id string) applyFunc {
	return func(context.Context) (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		l := c.published[id]
		if l == nil {
			return nil, fmt.Errorf("product %s is no longer published", id)
		}
		l.Product.Stock += RestockQuantity
		c.stats.Restocks++
		return l.Product.Stock, nil
	}
}
