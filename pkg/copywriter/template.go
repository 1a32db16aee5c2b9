package copywriter

import (
	"context"
	"fmt"
	"strings"

	"storepilot/pkg/catalog"
)

// TemplateWriter fills fixed phrase tables. It is deterministic and offline.
type TemplateWriter struct{}

// NewTemplateWriter returns the offline writer.
func NewTemplateWriter() *TemplateWriter { return &TemplateWriter{} }

// Name implements Writer.
func (*TemplateWriter) Name() string { return BackendTemplate }

//nolint:gochecknoglobals
var styleOpeners = map[catalog.ContentStyle]string{
	catalog.StyleProfessional: "Built for everyday reliability, the %s delivers dependable performance.",
	catalog.StyleCasual:       "Meet the %s, your new favorite go-to.",
	catalog.StyleLuxury:       "Indulge in the refined craftsmanship of the %s.",
	catalog.StyleTechnical:    "The %s combines a precise build with measured specifications.",
}

//nolint:gochecknoglobals
var styleTitlePrefix = map[catalog.ContentStyle]string{
	catalog.StyleProfessional: "",
	catalog.StyleCasual:       "Awesome ",
	catalog.StyleLuxury:       "Premium ",
	catalog.StyleTechnical:    "Pro ",
}

// Write implements Writer.
func (*TemplateWriter) Write(ctx context.Context, p catalog.Product, opts catalog.ContentOptions) (catalog.ListingContent, error) {
	if err := ctx.Err(); err != nil {
		return catalog.ListingContent{}, err
	}
	if strings.TrimSpace(p.Title) == "" {
		return catalog.ListingContent{}, fmt.Errorf("product %q has no title", p.ID)
	}
	style := styleOrDefault(opts.Style)

	desc := fmt.Sprintf(styleOpeners[style], p.Title)
	if p.Description != "" {
		desc += " " + p.Description
	}
	if p.Category != "" {
		desc += fmt.Sprintf(" A standout pick in %s.", p.Category)
	}

	bullets := []string{
		"Ships fast from a verified supplier",
		"Quality checked before dispatch",
		"30-day hassle-free returns",
	}
	if p.Category != "" {
		bullets = append([]string{"Curated for " + strings.ToLower(p.Category) + " shoppers"}, bullets...)
	}

	tags := dedupe(append(append([]string(nil), p.Tags...), opts.Keywords...))
	if len(tags) == 0 && p.Category != "" {
		tags = []string{strings.ToLower(p.Category)}
	}

	return catalog.ListingContent{
		ProductID:   p.ID,
		Title:       styleTitlePrefix[style] + p.Title,
		Description: desc,
		Bullets:     bullets,
		Tags:        tags,
		Style:       style,
		Backend:     BackendTemplate,
	}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
