// Package autopilot runs unattended store maintenance: timed trend scans,
// price updates and performance checks, gated by a static approval policy
// and recorded in an auditable decision log.
package autopilot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"storepilot/pkg/catalog"
)

// Mode selects the cadence table and the publish threshold.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeBalanced     Mode = "balanced"
	ModeAggressive   Mode = "aggressive"
)

// Intervals are the three timer cadences of a mode.
type Intervals struct {
	TrendScan        time.Duration `json:"trend_scan"`
	PriceUpdate      time.Duration `json:"price_update"`
	PerformanceCheck time.Duration `json:"performance_check"`
}

//nolint:gochecknoglobals
var modeIntervals = map[Mode]Intervals{
	ModeConservative: {TrendScan: 4 * time.Hour, PriceUpdate: 12 * time.Hour, PerformanceCheck: 24 * time.Hour},
	ModeBalanced:     {TrendScan: 2 * time.Hour, PriceUpdate: 6 * time.Hour, PerformanceCheck: 12 * time.Hour},
	ModeAggressive:   {TrendScan: time.Hour, PriceUpdate: 3 * time.Hour, PerformanceCheck: 6 * time.Hour},
}

//nolint:gochecknoglobals
var modeThresholds = map[Mode]float64{
	ModeConservative: 85,
	ModeBalanced:     75,
	ModeAggressive:   65,
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeIntervals[m]
	return ok
}

// Intervals returns the cadence table of m.
func (m Mode) Intervals() Intervals { return modeIntervals[m] }

// Threshold returns the minimum product score m publishes.
func (m Mode) Threshold() float64 { return modeThresholds[m] }

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid autopilot config")

// Config drives one AutoPilot run.
type Config struct {
	Mode   Mode     `yaml:"mode" json:"mode"`
	Niches []string `yaml:"niches" json:"niches"`
	// MaxProductsPerDay caps publishes per calendar day when set.
	MaxProductsPerDay *int `yaml:"max_products_per_day,omitempty" json:"max_products_per_day,omitempty"`
	// MinProfitMargin is in percent; unset means 0.
	MinProfitMargin *float64             `yaml:"min_profit_margin,omitempty" json:"min_profit_margin,omitempty"`
	AutoPublish     bool                 `yaml:"auto_publish" json:"auto_publish"`
	AutoPricing     bool                 `yaml:"auto_pricing" json:"auto_pricing"`
	ContentStyle    catalog.ContentStyle `yaml:"content_style,omitempty" json:"content_style,omitempty"`
	ExcludeKeywords []string             `yaml:"exclude_keywords,omitempty" json:"exclude_keywords,omitempty"`
}

// Validate rejects a config before any timer is installed.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	niches := 0
	for _, n := range c.Niches {
		if strings.TrimSpace(n) != "" {
			niches++
		}
	}
	if niches == 0 {
		return fmt.Errorf("%w: at least one niche is required", ErrInvalidConfig)
	}
	if c.MaxProductsPerDay != nil && *c.MaxProductsPerDay < 1 {
		return fmt.Errorf("%w: max_products_per_day must be at least 1, got %d", ErrInvalidConfig, *c.MaxProductsPerDay)
	}
	if c.MinProfitMargin != nil && (*c.MinProfitMargin < 0 || *c.MinProfitMargin > 100) {
		return fmt.Errorf("%w: min_profit_margin must be within [0,100], got %g", ErrInvalidConfig, *c.MinProfitMargin)
	}
	if !c.ContentStyle.Valid() {
		return fmt.Errorf("%w: unknown content style %q", ErrInvalidConfig, c.ContentStyle)
	}
	return nil
}

// minMargin returns the configured margin floor.
func (c *Config) minMargin() float64 {
	if c.MinProfitMargin == nil {
		return 0
	}
	return *c.MinProfitMargin
}

// AutoApproves is the static approval policy.
func (c *Config) AutoApproves(t DecisionType) bool {
	switch t {
	case DecisionPublish:
		return c.AutoPublish
	case DecisionPriceChange:
		return c.AutoPricing
	case DecisionContentUpdate:
		return true
	default:
		return false
	}
}

func (c Config) clone() Config {
	out := c
	out.Niches = append([]string(nil), c.Niches...)
	out.ExcludeKeywords = append([]string(nil), c.ExcludeKeywords...)
	if c.MaxProductsPerDay != nil {
		v := *c.MaxProductsPerDay
		out.MaxProductsPerDay = &v
	}
	if c.MinProfitMargin != nil {
		v := *c.MinProfitMargin
		out.MinProfitMargin = &v
	}
	return out
}

// Int returns a pointer to v, for optional config fields.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for optional config fields.
func Float(v float64) *float64 { return &v }
