package agents

import (
	"context"
	"fmt"
	"math"
	"sort"

	"storepilot/pkg/agent"
	"storepilot/pkg/catalog"
	"storepilot/pkg/logx"
)

// Margin targets in percent.
const (
	floorMargin   = 20.0
	targetMargin  = 45.0
	ceilingMargin = 65.0
)

// Pricing recommends sale prices.
type Pricing struct {
	responder
	deps Deps
}

// NewPricing creates the price optimizer strategy.
func NewPricing(d Deps) *Pricing {
	return &Pricing{responder: responder{logx.NewLogger("pricing")}, deps: d}
}

// Perform implements agent.Performer.
func (s *Pricing) Perform(ctx context.Context, rt *agent.Runtime, req agent.Request) (any, error) {
	switch req.Type {
	case ActionOptimizePrice:
		p, err := catalog.AsProduct(req.Input)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Type, err)
		}
		if err := rt.Think(ctx, "Checking market prices for "+p.Title); err != nil {
			return nil, err
		}
		if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
			return nil, err
		}
		return Recommend(p), nil
	case ActionPriceListings:
		listings, err := catalog.AsListings(req.Input)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Type, err)
		}
		for i := range listings {
			if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
				return nil, err
			}
			rec := Recommend(listings[i].Product)
			listings[i].Price = &rec
			rt.Progress(100*(i+1)/len(listings)-1, "priced "+listings[i].Product.Title)
		}
		return listings, nil
	case ActionAnalyzeCompetitorPricing:
		report, ok := req.Input.(catalog.CompetitorReport)
		if !ok {
			return nil, badInput(req.Type, req.Input)
		}
		if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
			return nil, err
		}
		band := Band(report.Competitors)
		report.Pricing = &band
		report.Positioning = positioning(band)
		return report, nil
	default:
		return nil, unknown(agent.TypePriceOptimizer, req.Type)
	}
}

// Recommend prices p at the target margin over cost, clamped to the floor
// and ceiling margins, and rounded to a .99 ending.
func Recommend(p catalog.Product) catalog.PriceRecommendation {
	cost := p.SupplierPrice
	if cost <= 0 {
		cost = p.Price * 0.5
	}
	atMargin := func(m float64) float64 { return cost / (1 - m/100) }

	target := targetMargin
	strategy := "competitive"
	switch {
	case p.Score >= 85:
		target, strategy = 55, "premium"
	case p.Score > 0 && p.Score < 60:
		target, strategy = 35, "value"
	}

	minPrice, maxPrice := atMargin(floorMargin), atMargin(ceilingMargin)
	price := charm(math.Min(math.Max(atMargin(target), minPrice), maxPrice))

	return catalog.PriceRecommendation{
		ProductID:        p.ID,
		CurrentPrice:     p.Price,
		RecommendedPrice: price,
		MinPrice:         round2(minPrice),
		MaxPrice:         round2(maxPrice),
		Margin:           round2(catalog.Margin(price, cost)),
		Strategy:         strategy,
		Rationale:        fmt.Sprintf("%s pricing at %.0f%% target margin over $%.2f cost", strategy, target, cost),
	}
}

// charm rounds up to the next .99 price point.
func charm(v float64) float64 {
	if v < 1 {
		return round2(v)
	}
	return round2(math.Ceil(v) - 0.01)
}

// Band summarizes competitor average prices.
func Band(cs []catalog.Competitor) catalog.PriceBand {
	if len(cs) == 0 {
		return catalog.PriceBand{}
	}
	prices := make([]float64, len(cs))
	sum := 0.0
	for i, c := range cs {
		prices[i] = c.AvgPrice
		sum += c.AvgPrice
	}
	sort.Float64s(prices)
	median := prices[len(prices)/2]
	if len(prices)%2 == 0 {
		median = (prices[len(prices)/2-1] + prices[len(prices)/2]) / 2
	}
	return catalog.PriceBand{
		Min:     prices[0],
		Max:     prices[len(prices)-1],
		Average: round2(sum / float64(len(prices))),
		Median:  round2(median),
	}
}

func positioning(b catalog.PriceBand) string {
	switch {
	case b.Max == 0:
		return "no competitor pricing available"
	case b.Max-b.Min > b.Median:
		return fmt.Sprintf("wide spread; undercut the median at $%.2f", charm(b.Median*0.95))
	default:
		return fmt.Sprintf("tight market; compete on quality near $%.2f", charm(b.Median))
	}
}
