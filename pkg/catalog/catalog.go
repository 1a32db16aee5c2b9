// Package catalog holds the payloads that flow between agents: trend
// reports, scouted products, listing copy, price recommendations and
// competitor reports.
package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Opportunity is one trending keyword within a niche.
type Opportunity struct {
	Keyword      string  `json:"keyword" yaml:"keyword"`
	Category     string  `json:"category" yaml:"category"`
	Score        float64 `json:"score" yaml:"score"`
	SearchVolume int     `json:"search_volume" yaml:"search_volume"`
	GrowthRate   float64 `json:"growth_rate" yaml:"growth_rate"`
	Competition  string  `json:"competition" yaml:"competition"`
}

// TrendReport is the output of trend analysis for a niche.
type TrendReport struct {
	Niche         string        `json:"niche"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Opportunities []Opportunity `json:"opportunities"`
	Summary       string        `json:"summary"`
}

// Top returns at most n opportunities in report order.
func (r *TrendReport) Top(n int) []Opportunity {
	if n <= 0 || n >= len(r.Opportunities) {
		return append([]Opportunity(nil), r.Opportunities...)
	}
	return append([]Opportunity(nil), r.Opportunities[:n]...)
}

// Product is a scouted candidate.
type Product struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category,omitempty"`
	SourceURL     string   `json:"source_url,omitempty"`
	SupplierPrice float64  `json:"supplier_price"`
	Price         float64  `json:"price"`
	ProfitMargin  float64  `json:"profit_margin"`
	Score         float64  `json:"score"`
	Stock         int      `json:"stock"`
	Tags          []string `json:"tags,omitempty"`
}

// Matches reports whether any keyword occurs in the product title or tags,
// case-insensitively.
func (p *Product) Matches(keywords []string) bool {
	title := strings.ToLower(p.Title)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(title, kw) {
			return true
		}
		for _, tag := range p.Tags {
			if strings.EqualFold(tag, kw) {
				return true
			}
		}
	}
	return false
}

// Margin returns the profit margin in percent for a sale price over cost.
func Margin(price, cost float64) float64 {
	if price <= 0 {
		return 0
	}
	return (price - cost) / price * 100
}

// ContentStyle selects the tone of generated listing copy.
type ContentStyle string

const (
	StyleProfessional ContentStyle = "professional"
	StyleCasual       ContentStyle = "casual"
	StyleLuxury       ContentStyle = "luxury"
	StyleTechnical    ContentStyle = "technical"
)

// Valid reports whether s is a known style. The empty style is valid and
// means professional.
func (s ContentStyle) Valid() bool {
	switch s {
	case "", StyleProfessional, StyleCasual, StyleLuxury, StyleTechnical:
		return true
	}
	return false
}

// ScoutOptions narrows a product search.
type ScoutOptions struct {
	Limit    int     `json:"limit,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
	Category string  `json:"category,omitempty"`
}

// ScoutQuery is the input of a product search.
type ScoutQuery struct {
	Query   string       `json:"query"`
	Options ScoutOptions `json:"options"`
}

// ContentOptions tunes listing copy.
type ContentOptions struct {
	Style    ContentStyle `json:"style,omitempty"`
	Language string       `json:"language,omitempty"`
	Keywords []string     `json:"keywords,omitempty"`
}

// ContentRequest is the input of single-product copy generation.
type ContentRequest struct {
	Product Product        `json:"product"`
	Options ContentOptions `json:"options"`
}

// ListingContent is generated copy for one product.
type ListingContent struct {
	ProductID   string       `json:"product_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Bullets     []string     `json:"bullets,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Style       ContentStyle `json:"style"`
	Backend     string       `json:"backend,omitempty"`
}

// PriceRecommendation is the output of price optimization.
type PriceRecommendation struct {
	ProductID        string  `json:"product_id"`
	CurrentPrice     float64 `json:"current_price"`
	RecommendedPrice float64 `json:"recommended_price"`
	MinPrice         float64 `json:"min_price"`
	MaxPrice         float64 `json:"max_price"`
	Margin           float64 `json:"margin"`
	Strategy         string  `json:"strategy"`
	Rationale        string  `json:"rationale,omitempty"`
}

// Changed reports whether the recommendation moves the price by at least one cent.
func (r *PriceRecommendation) Changed() bool {
	d := r.RecommendedPrice - r.CurrentPrice
	return d >= 0.01 || d <= -0.01
}

// Listing bundles a product with its copy and price as it moves down a
// workflow.
type Listing struct {
	Product Product              `json:"product"`
	Content *ListingContent      `json:"content,omitempty"`
	Price   *PriceRecommendation `json:"price,omitempty"`
}

// AsListings normalizes a workflow payload into listings. It accepts a
// Product, a Listing, or slices and pointers of either.
func AsListings(input any) ([]Listing, error) {
	switch v := input.(type) {
	case Product:
		return []Listing{{Product: v}}, nil
	case *Product:
		if v == nil {
			return nil, fmt.Errorf("nil product")
		}
		return []Listing{{Product: *v}}, nil
	case []Product:
		out := make([]Listing, len(v))
		for i, p := range v {
			out[i] = Listing{Product: p}
		}
		return out, nil
	case Listing:
		return []Listing{v}, nil
	case *Listing:
		if v == nil {
			return nil, fmt.Errorf("nil listing")
		}
		return []Listing{*v}, nil
	case []Listing:
		return append([]Listing(nil), v...), nil
	default:
		return nil, fmt.Errorf("cannot use %T as listings", input)
	}
}

// AsProduct extracts a single product from a payload.
func AsProduct(input any) (Product, error) {
	switch v := input.(type) {
	case Product:
		return v, nil
	case *Product:
		if v != nil {
			return *v, nil
		}
	case Listing:
		return v.Product, nil
	case ContentRequest:
		return v.Product, nil
	}
	return Product{}, fmt.Errorf("cannot use %T as product", input)
}

// Competitor is one rival storefront in a niche.
type Competitor struct {
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	ProductCount int     `json:"product_count"`
	AvgPrice     float64 `json:"avg_price"`
	Rating       float64 `json:"rating"`
}

// PriceBand summarizes competitor pricing.
type PriceBand struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Median  float64 `json:"median"`
}

// CompetitorReport accumulates through the competitor analysis workflow.
type CompetitorReport struct {
	Niche       string       `json:"niche"`
	Competitors []Competitor `json:"competitors"`
	Pricing     *PriceBand   `json:"pricing,omitempty"`
	Positioning string       `json:"positioning,omitempty"`
	Narrative   string       `json:"narrative,omitempty"`
}
