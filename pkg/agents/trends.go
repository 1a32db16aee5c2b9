package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"storepilot/pkg/agent"
	"storepilot/pkg/catalog"
	"storepilot/pkg/logx"
)

//nolint:gochecknoglobals
var trendModifiers = []string{"smart", "portable", "eco", "mini", "wireless", "premium", "organic", "foldable"}

// Trends analyzes demand within a niche.
type Trends struct {
	responder
	deps Deps
}

// NewTrends creates the trend analyzer strategy.
func NewTrends(d Deps) *Trends {
	return &Trends{responder: responder{logx.NewLogger("trends")}, deps: d}
}

// Perform implements agent.Performer.
func (s *Trends) Perform(ctx context.Context, rt *agent.Runtime, req agent.Request) (any, error) {
	if req.Type != ActionAnalyzeTrends {
		return nil, unknown(agent.TypeTrendAnalyzer, req.Type)
	}
	niche, ok := req.Input.(string)
	if !ok || strings.TrimSpace(niche) == "" {
		return nil, fmt.Errorf("%s: niche is required", req.Type)
	}
	return s.Analyze(ctx, rt, niche)
}

// Analyze builds a report of five opportunities sorted by score.
func (s *Trends) Analyze(ctx context.Context, rt *agent.Runtime, niche string) (catalog.TrendReport, error) {
	if err := rt.Think(ctx, "Scanning search and social demand for "+niche); err != nil {
		return catalog.TrendReport{}, err
	}
	rt.Progress(20, "collecting signals")
	if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
		return catalog.TrendReport{}, err
	}

	r := seeded("trends", niche)
	mods := append([]string(nil), trendModifiers...)
	r.Shuffle(len(mods), func(i, j int) { mods[i], mods[j] = mods[j], mods[i] })

	opps := make([]catalog.Opportunity, 0, 5)
	for _, mod := range mods[:5] {
		competition := "medium"
		switch r.IntN(3) {
		case 0:
			competition = "low"
		case 2:
			competition = "high"
		}
		opps = append(opps, catalog.Opportunity{
			Keyword:      mod + " " + strings.ToLower(niche),
			Category:     titleCase(niche),
			Score:        round2(between(r, 55, 98)),
			SearchVolume: 1000 + r.IntN(49000),
			GrowthRate:   round2(between(r, -5, 60)),
			Competition:  competition,
		})
	}
	sort.SliceStable(opps, func(i, j int) bool { return opps[i].Score > opps[j].Score })
	rt.Progress(80, "ranking opportunities")

	return catalog.TrendReport{
		Niche:         niche,
		GeneratedAt:   time.Now().UTC(),
		Opportunities: opps,
		Summary: fmt.Sprintf("%d opportunities in %s; strongest is %q at %.0f",
			len(opps), niche, opps[0].Keyword, opps[0].Score),
	}, nil
}
