package agents

import (
	"context"
	"fmt"
	"strings"

	"storepilot/pkg/agent"
	"storepilot/pkg/catalog"
	"storepilot/pkg/copywriter"
	"storepilot/pkg/logx"
)

// Content writes listing copy through a copywriter.Writer.
type Content struct {
	responder
	deps   Deps
	writer copywriter.Writer
}

// NewContent creates the content writer strategy. A nil Writer means the
// template writer.
func NewContent(d Deps) *Content {
	w := d.Writer
	if w == nil {
		w = copywriter.NewTemplateWriter()
	}
	return &Content{responder: responder{logx.NewLogger("content")}, deps: d, writer: w}
}

// Perform implements agent.Performer.
func (s *Content) Perform(ctx context.Context, rt *agent.Runtime, req agent.Request) (any, error) {
	switch req.Type {
	case ActionGenerateContent:
		var cr catalog.ContentRequest
		switch v := req.Input.(type) {
		case catalog.ContentRequest:
			cr = v
		default:
			p, err := catalog.AsProduct(req.Input)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", req.Type, err)
			}
			cr.Product = p
		}
		if err := rt.Think(ctx, "Drafting copy for "+cr.Product.Title); err != nil {
			return nil, err
		}
		return s.write(ctx, cr.Product, cr.Options)
	case ActionGenerateListings:
		listings, err := catalog.AsListings(req.Input)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Type, err)
		}
		for i := range listings {
			c, err := s.write(ctx, listings[i].Product, catalog.ContentOptions{})
			if err != nil {
				return nil, err
			}
			listings[i].Content = &c
			rt.Progress(100*(i+1)/len(listings)-1, "wrote "+c.Title)
		}
		return listings, nil
	case ActionCompetitorNarrative:
		report, ok := req.Input.(catalog.CompetitorReport)
		if !ok {
			return nil, badInput(req.Type, req.Input)
		}
		if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
			return nil, err
		}
		report.Narrative = narrative(report)
		return report, nil
	default:
		return nil, unknown(agent.TypeContentWriter, req.Type)
	}
}

func (s *Content) write(ctx context.Context, p catalog.Product, opts catalog.ContentOptions) (catalog.ListingContent, error) {
	if err := agent.Sleep(ctx, s.deps.pace()); err != nil {
		return catalog.ListingContent{}, err
	}
	return s.writer.Write(ctx, p, opts)
}

func narrative(r catalog.CompetitorReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The %s niche has %d notable competitors.", r.Niche, len(r.Competitors))
	if len(r.Competitors) > 0 {
		best := r.Competitors[0]
		for _, c := range r.Competitors[1:] {
			if c.Rating > best.Rating {
				best = c
			}
		}
		fmt.Fprintf(&b, " %s leads on reviews at %.1f stars.", best.Name, best.Rating)
	}
	if r.Pricing != nil {
		fmt.Fprintf(&b, " Prices run from $%.2f to $%.2f with a median of $%.2f.",
			r.Pricing.Min, r.Pricing.Max, r.Pricing.Median)
	}
	if r.Positioning != "" {
		b.WriteString(" Suggested positioning: " + r.Positioning + ".")
	}
	return b.String()
}
