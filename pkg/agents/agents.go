// Package agents holds the strategy behind each storepilot agent type. The
// strategies fabricate illustrative results from a seed derived from their
// input, pausing at the points where a real integration would make a network
// call.
package agents

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"storepilot/pkg/agent"
	"storepilot/pkg/copywriter"
	"storepilot/pkg/logx"
	"storepilot/pkg/proto"
)

// Actions understood by the strategies.
const (
	ActionAnalyzeTrends            = "analyze_trends"
	ActionScoutProducts            = "scout_products"
	ActionScoutTrends              = "scout_trends"
	ActionImportURL                = "import_url"
	ActionDiscoverCompetitors      = "discover_competitors"
	ActionGenerateContent          = "generate_content"
	ActionGenerateListings         = "generate_listings"
	ActionCompetitorNarrative      = "competitor_narrative"
	ActionOptimizePrice            = "optimize_price"
	ActionPriceListings            = "price_listings"
	ActionAnalyzeCompetitorPricing = "analyze_competitor_pricing"
)

// DefaultPace is the simulated latency of one external call.
const DefaultPace = 300 * time.Millisecond

// Deps are shared by every strategy.
type Deps struct {
	Writer copywriter.Writer
	// Pace is the simulated call latency; negative disables it.
	Pace time.Duration
}

func (d Deps) pace() time.Duration {
	if d.Pace == 0 {
		return DefaultPace
	}
	return d.Pace
}

// Definition describes one agent type.
type Definition struct {
	Name         string
	Capabilities []string
	New          func(Deps) agent.Performer
}

// Registry maps each strategy-backed agent type to its definition. The
// autopilot type is registered by the orchestrator.
//
//nolint:gochecknoglobals
var Registry = map[agent.Type]Definition{
	agent.TypeTrendAnalyzer: {
		Name:         "Trend Analyzer",
		Capabilities: []string{ActionAnalyzeTrends},
		New:          func(d Deps) agent.Performer { return NewTrends(d) },
	},
	agent.TypeProductScout: {
		Name:         "Product Scout",
		Capabilities: []string{ActionScoutProducts, ActionScoutTrends, ActionImportURL, ActionDiscoverCompetitors},
		New:          func(d Deps) agent.Performer { return NewScout(d) },
	},
	agent.TypeContentWriter: {
		Name:         "Content Writer",
		Capabilities: []string{ActionGenerateContent, ActionGenerateListings, ActionCompetitorNarrative},
		New:          func(d Deps) agent.Performer { return NewContent(d) },
	},
	agent.TypePriceOptimizer: {
		Name:         "Price Optimizer",
		Capabilities: []string{ActionOptimizePrice, ActionPriceListings, ActionAnalyzeCompetitorPricing},
		New:          func(d Deps) agent.Performer { return NewPricing(d) },
	},
}

// unknown wraps agent.ErrUnknownAction with the offending action.
func unknown(t agent.Type, action string) error {
	return fmt.Errorf("%w %q for %s", agent.ErrUnknownAction, action, t)
}

func badInput(action string, input any) error {
	return fmt.Errorf("%s: unsupported input %T", action, input)
}

// responder replies to request messages so peers see an acknowledgement.
type responder struct {
	logger *logx.Logger
}

// HandleMessage implements agent.MessageHandler.
func (r responder) HandleMessage(_ context.Context, rt *agent.Runtime, msg *proto.Message) error {
	r.logger.Info("message from %s: %s", msg.From, msg.Content)
	if msg.Type == proto.MsgTypeRequest && msg.From != rt.AgentID() {
		rt.Send(msg.From, proto.MsgTypeResponse, "received: "+msg.Content, nil)
	}
	return nil
}

// seeded returns a generator whose stream depends only on the parts.
func seeded(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(p))))
		_, _ = h.Write([]byte{0})
	}
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func between(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func titleCase(s string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(s))
	for i, w := range words {
		first, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(first)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

func shortID(prefix string, parts ...string) string {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
	}
	return fmt.Sprintf("%s_%08x", prefix, h.Sum32())
}
