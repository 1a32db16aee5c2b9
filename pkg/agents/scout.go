package agents

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"storepilot/pkg/agent"
	"storepilot/pkg/catalog"
	"storepilot/pkg/logx"
)

// DefaultScoutLimit is the number of products returned per query.
const DefaultScoutLimit = 5

// Scout finds candidate products and competitors.
type Scout struct {
	responder
	deps Deps
}

// NewScout creates the product scout strategy.
func NewScout(d Deps) *Scout {
	return &Scout{responder: responder{logx.NewLogger("scout")}, deps: d}
}

// Perform implements agent.Performer.
func (s *Scout) Perform(ctx context.Context, rt *agent.Runtime, req agent.Request) (any, error) {
	switch req.Type {
	case ActionScoutProducts:
		q, err := scoutQuery(req.Input)
		if err != nil {
			return nil, err
		}
		return s.Search(ctx, rt, q)
	case ActionScoutTrends:
		report, ok := req.Input.(catalog.TrendReport)
		if !ok {
			return nil, badInput(req.Type, req.Input)
		}
		return s.fromTrends(ctx, rt, report)
	case ActionImportURL:
		raw, ok := req.Input.(string)
		if !ok {
			return nil, badInput(req.Type, req.Input)
		}
		return s.Import(ctx, rt, raw)
	case ActionDiscoverCompetitors:
		niche, ok := req.Input.(string)
		if !ok || niche == "" {
			return nil, badInput(req.Type, req.Input)
		}
		return s.Competitors(ctx, rt, niche)
	default:
		return nil, unknown(agent.TypeProductScout, req.Type)
	}
}

func scoutQuery(input any) (catalog.ScoutQuery, error) {
	switch v := input.(type) {
	case catalog.ScoutQuery:
		if strings.TrimSpace(v.Query) == "" {
			return v, fmt.Errorf("%s: query is required", ActionScoutProducts)
		}
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return catalog.ScoutQuery{}, fmt.Errorf("%s: query is required", ActionScoutProducts)
		}
		return catalog.ScoutQuery{Query: v}, nil
	case catalog.Opportunity:
		return catalog.ScoutQuery{Query: v.Keyword, Options: catalog.ScoutOptions{Category: v.Category}}, nil
	default:
		return catalog.ScoutQuery{}, badInput(ActionScoutProducts, input)
	}
}

// Search returns products for q sorted by score, filtered by MinScore.
func (s *Scout) Search(ctx context.Context, rt *agent.Runtime, q catalog.ScoutQuery) ([]catalog.Product, error) {
	if err := rt.Think(ctx, "Searching suppliers for "+q.Query); err != nil {
		return nil, err
	}
	if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
		return nil, err
	}
	rt.Progress(50, "scoring candidates")

	limit := q.Options.Limit
	if limit <= 0 {
		limit = DefaultScoutLimit
	}
	category := q.Options.Category
	if category == "" {
		category = titleCase(q.Query)
	}

	r := seeded("scout", q.Query)
	products := make([]catalog.Product, 0, limit)
	for i := 0; i < limit; i++ {
		cost := round2(between(r, 5, 60))
		price := round2(cost * between(r, 1.6, 3.0))
		title := fmt.Sprintf("%s %s", titleCase(q.Query), productSuffixes[r.IntN(len(productSuffixes))])
		p := catalog.Product{
			ID:            shortID("prod", q.Query, fmt.Sprint(i)),
			Title:         title,
			Category:      category,
			SourceURL:     "https://supplier.example/items/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
			SupplierPrice: cost,
			Price:         price,
			ProfitMargin:  round2(catalog.Margin(price, cost)),
			Score:         round2(between(r, 40, 99)),
			Stock:         r.IntN(500),
			Tags:          strings.Fields(strings.ToLower(q.Query)),
		}
		if p.Score >= q.Options.MinScore {
			products = append(products, p)
		}
	}
	sort.SliceStable(products, func(i, j int) bool { return products[i].Score > products[j].Score })
	return products, nil
}

//nolint:gochecknoglobals
var productSuffixes = []string{"Kit", "Set", "Pro", "Bundle", "Edition", "Pack", "Station"}

func (s *Scout) fromTrends(ctx context.Context, rt *agent.Runtime, report catalog.TrendReport) ([]catalog.Product, error) {
	var out []catalog.Product
	top := report.Top(3)
	for i, opp := range top {
		q, _ := scoutQuery(opp)
		q.Options.Limit = 2
		found, err := s.Search(ctx, rt, q)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
		rt.Progress(10+80*(i+1)/len(top), "scouted "+opp.Keyword)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Import turns a supplier URL into a single product.
func (s *Scout) Import(ctx context.Context, rt *agent.Runtime, raw string) ([]catalog.Product, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%s: invalid product url %q", ActionImportURL, raw)
	}
	if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
		return nil, err
	}
	rt.Progress(60, "fetched "+u.Host)

	slug := path.Base(strings.TrimSuffix(u.Path, "/"))
	if slug == "." || slug == "/" || slug == "" {
		slug = u.Host
	}
	r := seeded("import", u.String())
	cost := round2(between(r, 8, 40))
	price := round2(cost * between(r, 1.8, 2.6))
	return []catalog.Product{{
		ID:            shortID("prod", u.String()),
		Title:         titleCase(strings.TrimSuffix(slug, path.Ext(slug))),
		SourceURL:     u.String(),
		SupplierPrice: cost,
		Price:         price,
		ProfitMargin:  round2(catalog.Margin(price, cost)),
		Score:         round2(between(r, 50, 95)),
		Stock:         50 + r.IntN(200),
	}}, nil
}

// Competitors lists rival stores in a niche.
func (s *Scout) Competitors(ctx context.Context, rt *agent.Runtime, niche string) (catalog.CompetitorReport, error) {
	if err := rt.Think(ctx, "Looking for competing storefronts in "+niche); err != nil {
		return catalog.CompetitorReport{}, err
	}
	if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
		return catalog.CompetitorReport{}, err
	}

	r := seeded("competitors", niche)
	base := titleCase(niche)
	names := []string{base + " Hub", "The " + base + " Co", base + " Direct", "Urban " + base}
	report := catalog.CompetitorReport{Niche: niche}
	for _, name := range names {
		report.Competitors = append(report.Competitors, catalog.Competitor{
			Name:         name,
			URL:          "https://" + strings.ReplaceAll(strings.ToLower(name), " ", "") + ".example",
			ProductCount: 20 + r.IntN(400),
			AvgPrice:     round2(between(r, 15, 120)),
			Rating:       round2(between(r, 3.2, 4.9)),
		})
	}
	rt.Progress(90, fmt.Sprintf("found %d competitors", len(report.Competitors)))
	return report, nil
}
