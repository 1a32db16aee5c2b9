package autopilot

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"time"

	"storepilot/pkg/catalog"
)

// Performance is a storefront reading for one published product.
type Performance struct {
	ConversionRate    float64 `json:"conversion_rate"`
	Margin            float64 `json:"margin"`
	DaysSinceLastSale int     `json:"days_since_last_sale"`
	Stock             int     `json:"stock"`
}

// PerformanceSource reads storefront metrics.
type PerformanceSource interface {
	Performance(ctx context.Context, p catalog.Product, at time.Time) (Performance, error)
}

// PerformanceFunc adapts a function to PerformanceSource.
type PerformanceFunc func(ctx context.Context, p catalog.Product, at time.Time) (Performance, error)

// Performance calls f.
func (f PerformanceFunc) Performance(ctx context.Context, p catalog.Product, at time.Time) (Performance, error) {
	return f(ctx, p, at)
}

// SimulatedPerformance derives stable illustrative metrics from the product
// id and the day.
type SimulatedPerformance struct{}

// Performance implements PerformanceSource.
func (SimulatedPerformance) Performance(ctx context.Context, p catalog.Product, at time.Time) (Performance, error) {
	if err := ctx.Err(); err != nil {
		return Performance{}, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.ID))
	_, _ = h.Write([]byte(at.UTC().Format("2006-01-02")))
	seed := h.Sum64()
	r := rand.New(rand.NewPCG(seed, seed>>1))

	margin := p.ProfitMargin + (r.Float64()*10 - 5)
	sold := r.IntN(20)
	stock := p.Stock - sold
	if stock < 0 {
		stock = 0
	}
	return Performance{
		ConversionRate:    0.5 + r.Float64()*4.5,
		Margin:            margin,
		DaysSinceLastSale: r.IntN(40),
		Stock:             stock,
	}, nil
}
