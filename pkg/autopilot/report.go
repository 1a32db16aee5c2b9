package autopilot

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Period is a report window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Duration returns the window length.
func (p Period) Duration() (time.Duration, error) {
	switch p {
	case PeriodDaily, "":
		return 24 * time.Hour, nil
	case PeriodWeekly:
		return 7 * 24 * time.Hour, nil
	case PeriodMonthly:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown report period %q", p)
	}
}

// TopProduct is one row of the report leaderboard.
type TopProduct struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	Price            float64 `json:"price"`
	EstimatedUnits   int     `json:"estimated_units"`
	EstimatedRevenue float64 `json:"estimated_revenue"`
}

// Report aggregates a window of activity. Revenue and profit are estimates
// from listed prices and margins, not recorded sales.
type Report struct {
	Period           Period       `json:"period"`
	From             time.Time    `json:"from"`
	To               time.Time    `json:"to"`
	ProductsScanned  int          `json:"products_scanned"`
	ProductsAdded    int          `json:"products_added"`
	ProductsRemoved  int          `json:"products_removed"`
	PriceChanges     int          `json:"price_changes"`
	PendingDecisions int          `json:"pending_decisions"`
	EstimatedRevenue float64      `json:"estimated_revenue"`
	EstimatedProfit  float64      `json:"estimated_profit"`
	TopProducts      []TopProduct `json:"top_products"`
	Recommendations  []string     `json:"recommendations"`
}

// unitsPerDay is the illustrative sell-through of one listing.
const unitsPerDay = 3

// GenerateReport summarizes the decisions made within period and estimates
// revenue for the currently published listings.
func (c *Controller) GenerateReport(period Period) (Report, error) {
	window, err := period.Duration()
	if err != nil {
		return Report{}, err
	}
	if period == "" {
		period = PeriodDaily
	}
	to := c.clock.Now().UTC()
	from := to.Add(-window)
	days := int(window / (24 * time.Hour))

	st := c.Status()
	rep := Report{
		Period:           period,
		From:             from,
		To:               to,
		ProductsScanned:  st.Stats.ProductsScanned,
		PendingDecisions: st.PendingDecisions,
	}

	for _, d := range c.Decisions(0) {
		if d.Timestamp.Before(from) || !d.Approved {
			continue
		}
		switch d.Type {
		case DecisionPublish:
			rep.ProductsAdded++
		case DecisionRemove:
			rep.ProductsRemoved++
		case DecisionPriceChange:
			rep.PriceChanges++
		}
	}

	for _, l := range c.Published() {
		units := unitsPerDay * days
		revenue := l.Product.Price * float64(units)
		rep.EstimatedRevenue += revenue
		rep.EstimatedProfit += revenue * l.Product.ProfitMargin / 100
		rep.TopProducts = append(rep.TopProducts, TopProduct{
			ID:               l.Product.ID,
			Title:            l.Product.Title,
			Price:            l.Product.Price,
			EstimatedUnits:   units,
			EstimatedRevenue: revenue,
		})
	}
	sort.SliceStable(rep.TopProducts, func(i, j int) bool {
		return rep.TopProducts[i].EstimatedRevenue > rep.TopProducts[j].EstimatedRevenue
	})
	if len(rep.TopProducts) > 5 {
		rep.TopProducts = rep.TopProducts[:5]
	}

	rep.Recommendations = recommendations(st, rep)
	return rep, nil
}

func recommendations(st Status, rep Report) []string {
	var out []string
	if rep.ProductsAdded == 0 && rep.ProductsScanned > 0 {
		msg := "No products cleared the publish bar"
		if st.Mode != "" && st.Mode != ModeAggressive {
			msg += "; consider a more aggressive mode"
		}
		out = append(out, msg+".")
	}
	if rep.PendingDecisions > 0 {
		out = append(out, fmt.Sprintf("%d decisions are waiting for review.", rep.PendingDecisions))
	}
	if len(st.Errors) > 0 {
		scopes := make([]string, 0, len(st.Errors))
		seen := map[string]bool{}
		for _, e := range st.Errors {
			if !seen[e.Scope] {
				seen[e.Scope] = true
				scopes = append(scopes, e.Scope)
			}
		}
		out = append(out, "Recent failures in: "+strings.Join(scopes, ", ")+".")
	}
	if len(st.Niches) == 1 {
		out = append(out, "Add a second niche to spread demand risk.")
	}
	if len(out) == 0 {
		out = append(out, "Catalog is healthy; keep the current settings.")
	}
	return out
}
