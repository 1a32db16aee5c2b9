package orchestrator

import (
	"context"
	"sort"

	"storepilot/pkg/catalog"
	"storepilot/pkg/workflow"
)

// RunProductDiscoveryWorkflow runs trend analysis, scouting, copy and
// pricing for niche. opts filters and trims the priced listings.
func (o *Orchestrator) RunProductDiscoveryWorkflow(ctx context.Context, niche string, opts catalog.ScoutOptions) ([]catalog.Listing, error) {
	listings, err := as[[]catalog.Listing](o.engine.Run(ctx, workflow.ProductDiscovery,
		"Discover and prepare products for "+niche, workflow.ProductDiscoverySteps(niche)))
	if err != nil {
		return nil, err
	}
	return filterListings(listings, opts), nil
}

// RunQuickImportWorkflow imports one supplier URL into a priced listing.
func (o *Orchestrator) RunQuickImportWorkflow(ctx context.Context, url string) ([]catalog.Listing, error) {
	return as[[]catalog.Listing](o.engine.Run(ctx, workflow.QuickImport,
		"Import "+url, workflow.QuickImportSteps(url)))
}

// RunCompetitorAnalysisWorkflow profiles the competitors of niche.
func (o *Orchestrator) RunCompetitorAnalysisWorkflow(ctx context.Context, niche string) (catalog.CompetitorReport, error) {
	return as[catalog.CompetitorReport](o.engine.Run(ctx, workflow.CompetitorAnalysis,
		"Analyze competitors in "+niche, workflow.CompetitorAnalysisSteps(niche)))
}

func filterListings(in []catalog.Listing, opts catalog.ScoutOptions) []catalog.Listing {
	out := make([]catalog.Listing, 0, len(in))
	for _, l := range in {
		if l.Product.Score < opts.MinScore {
			continue
		}
		if opts.Category != "" && l.Product.Category != opts.Category {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Product.Score > out[j].Product.Score })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
