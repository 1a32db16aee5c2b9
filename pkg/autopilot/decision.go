package autopilot

import (
	"context"
	"errors"
	"time"

	"storepilot/pkg/catalog"
)

// DecisionType names the action a decision proposes.
type DecisionType string

const (
	DecisionPublish       DecisionType = "publish"
	DecisionPriceChange   DecisionType = "price_change"
	DecisionRemove        DecisionType = "remove"
	DecisionRestock       DecisionType = "restock"
	DecisionContentUpdate DecisionType = "content_update"
)

// MaxDecisions bounds the in-memory decision log; the oldest are evicted.
const MaxDecisions = 500

var (
	// ErrDecisionNotFound is returned for an unknown decision id.
	ErrDecisionNotFound = errors.New("decision not found")
	// ErrDecisionNotPending is returned when approving or rejecting a
	// decision that was already approved.
	ErrDecisionNotPending = errors.New("decision is not pending")
)

// Decision is one recorded action candidate.
type Decision struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Type      DecisionType     `json:"type"`
	Product   *catalog.Product `json:"product,omitempty"`
	Reason    string           `json:"reason"`
	Action    string           `json:"action"`
	Approved  bool             `json:"approved"`
	Result    any              `json:"result,omitempty"`
}

func (d Decision) clone() Decision {
	if d.Product != nil {
		p := *d.Product
		d.Product = &p
	}
	return d
}

// Audit actions passed to a DecisionSink.
const (
	AuditCreated  = "created"
	AuditApproved = "approved"
	AuditRejected = "rejected"
)

// DecisionSink mirrors decision changes somewhere durable.
type DecisionSink interface {
	RecordDecision(d Decision, action string)
}

// DecisionEvent is the payload of a decision event.
type DecisionEvent struct {
	Action   string   `json:"action"`
	Decision Decision `json:"decision"`
}

// applyFunc carries out an approved decision and returns its result.
type applyFunc func(ctx context.Context) (any, error)

type decisionRecord struct {
	Decision
	apply    applyFunc
	applying bool
}
