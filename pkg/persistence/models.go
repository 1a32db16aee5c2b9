package persistence

import (
	"encoding/json"
	"time"

	"storepilot/pkg/autopilot"
)

// Session status constants.
const (
	SessionStatusActive   = "active"
	SessionStatusShutdown = "shutdown"
	SessionStatusCrashed  = "crashed"
)

// Session is one process lifetime.
type Session struct {
	SessionID string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
}

// AuditEntry is one row of the decision audit.
//
//nolint:govet // field order follows the table
type AuditEntry struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	DecisionID   string    `json:"decision_id"`
	AuditAction  string    `json:"audit_action"`
	DecisionType string    `json:"decision_type"`
	Approved     bool      `json:"approved"`
	Reason       string    `json:"reason"`
	Action       string    `json:"action"`
	ProductID    string    `json:"product_id,omitempty"`
	ProductTitle string    `json:"product_title,omitempty"`
	ResultJSON   string    `json:"result_json,omitempty"`
	DecidedAt    time.Time `json:"decided_at"`
}

// NewAuditEntry flattens a decision for storage. A result that cannot be
// encoded is stored as its error text.
func NewAuditEntry(sessionID string, d autopilot.Decision, auditAction string) *AuditEntry {
	e := &AuditEntry{
		SessionID:    sessionID,
		DecisionID:   d.ID,
		AuditAction:  auditAction,
		DecisionType: string(d.Type),
		Approved:     d.Approved,
		Reason:       d.Reason,
		Action:       d.Action,
		DecidedAt:    d.Timestamp,
	}
	if d.Product != nil {
		e.ProductID = d.Product.ID
		e.ProductTitle = d.Product.Title
	}
	if d.Result != nil {
		data, err := json.Marshal(d.Result)
		if err != nil {
			e.ResultJSON = `{"error":` + quote(err.Error()) + `}`
		} else {
			e.ResultJSON = string(data)
		}
	}
	return e
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// AuditSummary counts audit rows per decision type and action.
type AuditSummary struct {
	Created  map[string]int `json:"created"`
	Approved map[string]int `json:"approved"`
	Rejected map[string]int `json:"rejected"`
}
