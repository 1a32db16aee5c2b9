package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Request represents a database operation request handed to the worker.
type Request struct {
	Data      any        `json:"data"`      // Operation-specific data payload
	Response  chan<- any `json:"-"`         // Response channel for queries (nil for fire-and-forget writes)
	Operation string     `json:"operation"` // Operation type
}

// Operation constants for Request.
const (
	// Write operations (fire-and-forget).
	OpInsertAudit = "insert_audit"

	// Query operations (with response).
	OpListAudit    = "list_audit"
	OpAuditSummary = "audit_summary"
	OpFlush        = "flush"
)

// ListAuditRequest selects audit rows.
type ListAuditRequest struct {
	DecisionID  string
	Limit       int
	AllSessions bool
}

// DatabaseOperations runs the SQL for one session.
type DatabaseOperations struct {
	db        *sql.DB
	sessionID string
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB, sessionID string) *DatabaseOperations {
	return &DatabaseOperations{db: db, sessionID: sessionID}
}

// StartSession inserts the active session row.
func (ops *DatabaseOperations) StartSession() error {
	_, err := ops.db.Exec(
		`INSERT INTO sessions (session_id, started_at, status) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET status = excluded.status, ended_at = NULL`,
		ops.sessionID, time.Now().UTC(), SessionStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", ops.sessionID, err)
	}
	return nil
}

// EndSession marks the session finished with status.
func (ops *DatabaseOperations) EndSession(status string) error {
	res, err := ops.db.Exec(
		`UPDATE sessions SET status = ?, ended_at = ? WHERE session_id = ?`,
		status, time.Now().UTC(), ops.sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", ops.sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, ops.sessionID)
	}
	return nil
}

// GetSession reads one session row.
func (ops *DatabaseOperations) GetSession(sessionID string) (*Session, error) {
	var (
		s     Session
		ended sql.NullTime
	)
	err := ops.db.QueryRow(
		`SELECT session_id, started_at, ended_at, status FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&s.SessionID, &s.StartedAt, &ended, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

// InsertAudit appends one audit row.
func (ops *DatabaseOperations) InsertAudit(e *AuditEntry) error {
	sessionID := e.SessionID
	if sessionID == "" {
		sessionID = ops.sessionID
	}
	var result any
	if e.ResultJSON != "" {
		result = e.ResultJSON
	}
	res, err := ops.db.Exec(`
		INSERT INTO decision_audit (session_id, decision_id, audit_action, decision_type, approved,
			reason, action, product_id, product_title, result_json, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, e.DecisionID, e.AuditAction, e.DecisionType, e.Approved,
		e.Reason, e.Action, e.ProductID, e.ProductTitle, result, e.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit for decision %s: %w", e.DecisionID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListAudit returns this session's rows, newest first. An empty decision id
// matches every decision; a non-positive limit returns everything.
func (ops *DatabaseOperations) ListAudit(decisionID string, limit int) ([]*AuditEntry, error) {
	return ops.listAudit(ops.sessionID, decisionID, limit)
}

// ListAuditAllSessions is ListAudit across every recorded session.
func (ops *DatabaseOperations) ListAuditAllSessions(limit int) ([]*AuditEntry, error) {
	return ops.listAudit("", "", limit)
}

func (ops *DatabaseOperations) listAudit(sessionID, decisionID string, limit int) ([]*AuditEntry, error) {
	query := `
		SELECT id, session_id, decision_id, audit_action, decision_type, approved, reason, action,
			product_id, product_title, COALESCE(result_json, ''), decided_at
		FROM decision_audit
		WHERE (? = '' OR session_id = ?) AND (? = '' OR decision_id = ?)
		ORDER BY id DESC`
	args := []any{sessionID, sessionID, decisionID, decisionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.DecisionID, &e.AuditAction, &e.DecisionType,
			&e.Approved, &e.Reason, &e.Action, &e.ProductID, &e.ProductTitle, &e.ResultJSON, &e.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}
	return out, nil
}

// Summary counts this session's audit rows by action and decision type.
func (ops *DatabaseOperations) Summary() (*AuditSummary, error) {
	rows, err := ops.db.Query(`
		SELECT audit_action, decision_type, COUNT(*)
		FROM decision_audit WHERE session_id = ?
		GROUP BY audit_action, decision_type`, ops.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize decision audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sum := &AuditSummary{
		Created:  map[string]int{},
		Approved: map[string]int{},
		Rejected: map[string]int{},
	}
	for rows.Next() {
		var (
			action, typ string
			n           int
		)
		if err := rows.Scan(&action, &typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		switch action {
		case "created":
			sum.Created[typ] = n
		case "approved":
			sum.Approved[typ] = n
		case "rejected":
			sum.Rejected[typ] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summary rows: %w", err)
	}
	return sum, nil
}
