package workflow

import (
	"storepilot/pkg/agent"
	"storepilot/pkg/agents"
)

// Template names.
const (
	ProductDiscovery   = "product_discovery"
	QuickImport        = "quick_import"
	CompetitorAnalysis = "competitor_analysis"
)

// ProductDiscoverySteps chains trend analysis, scouting, copy and pricing.
func ProductDiscoverySteps(niche string) []StepSpec {
	return []StepSpec{
		{Agent: agent.TypeTrendAnalyzer, Action: agents.ActionAnalyzeTrends, Input: niche},
		{Agent: agent.TypeProductScout, Action: agents.ActionScoutTrends},
		{Agent: agent.TypeContentWriter, Action: agents.ActionGenerateListings},
		{Agent: agent.TypePriceOptimizer, Action: agents.ActionPriceListings},
	}
}

// QuickImportSteps imports one supplier URL and prepares it for listing.
func QuickImportSteps(url string) []StepSpec {
	return []StepSpec{
		{Agent: agent.TypeProductScout, Action: agents.ActionImportURL, Input: url},
		{Agent: agent.TypeContentWriter, Action: agents.ActionGenerateListings},
		{Agent: agent.TypePriceOptimizer, Action: agents.ActionPriceListings},
	}
}

// CompetitorAnalysisSteps discovers competitors, analyzes their pricing and
// writes a narrative.
func CompetitorAnalysisSteps(niche string) []StepSpec {
	return []StepSpec{
		{Agent: agent.TypeProductScout, Action: agents.ActionDiscoverCompetitors, Input: niche},
		{Agent: agent.TypePriceOptimizer, Action: agents.ActionAnalyzeCompetitorPricing},
		{Agent: agent.TypeContentWriter, Action: agents.ActionCompetitorNarrative},
	}
}
