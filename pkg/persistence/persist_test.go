package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/autopilot"
	"storepilot/pkg/catalog"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path, "session-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func decision(id string, typ autopilot.DecisionType, approved bool) autopilot.Decision {
	return autopilot.Decision{
		ID:        id,
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Type:      typ,
		Product:   &catalog.Product{ID: "prod-1", Title: "Bamboo Desk Organizer"},
		Reason:    "score 80 above threshold",
		Action:    "publish Bamboo Desk Organizer",
		Approved:  approved,
	}
}

func TestRecordDecisionIsAudited(t *testing.T) {
	s, _ := openTestStore(t)

	d := decision("dec-1", autopilot.DecisionPublish, true)
	d.Result = map[string]any{"price": 24.99}
	s.RecordDecision(d, autopilot.AuditCreated)

	pending := decision("dec-2", autopilot.DecisionRemove, false)
	s.RecordDecision(pending, autopilot.AuditCreated)
	pending.Approved = true
	s.RecordDecision(pending, autopilot.AuditApproved)

	require.NoError(t, s.Flush())

	rows, err := s.ListDecisions(0)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Newest first.
	assert.Equal(t, "dec-2", rows[0].DecisionID)
	assert.Equal(t, autopilot.AuditApproved, rows[0].AuditAction)
	assert.True(t, rows[0].Approved)
	assert.Equal(t, "dec-1", rows[2].DecisionID)
	assert.Equal(t, "prod-1", rows[2].ProductID)
	assert.JSONEq(t, `{"price":24.99}`, rows[2].ResultJSON)
	assert.Equal(t, "session-test", rows[2].SessionID)

	limited, err := s.ListDecisions(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	history, err := s.DecisionHistory("dec-2")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, autopilot.AuditCreated, history[1].AuditAction)
	assert.False(t, history[1].Approved)
}

func TestSummary(t *testing.T) {
	s, _ := openTestStore(t)

	s.RecordDecision(decision("a", autopilot.DecisionPublish, true), autopilot.AuditCreated)
	s.RecordDecision(decision("b", autopilot.DecisionPublish, true), autopilot.AuditCreated)
	s.RecordDecision(decision("c", autopilot.DecisionRestock, false), autopilot.AuditCreated)
	s.RecordDecision(decision("c", autopilot.DecisionRestock, false), autopilot.AuditRejected)

	sum, err := s.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Created["publish"])
	assert.Equal(t, 1, sum.Created["restock"])
	assert.Equal(t, 1, sum.Rejected["restock"])
	assert.Empty(t, sum.Approved)
}

func TestSessionLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path, "first")
	require.NoError(t, err)

	session, err := s.Ops().GetSession("first")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusActive, session.Status)
	assert.Nil(t, session.EndedAt)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.ListDecisions(10)
	assert.ErrorIs(t, err, ErrClosed)
	s.RecordDecision(decision("late", autopilot.DecisionPublish, true), autopilot.AuditCreated)

	// A second process sees the finished session and keeps its own rows apart.
	s2, err := Open(path, "second")
	require.NoError(t, err)
	defer s2.Close()

	session, err = s2.Ops().GetSession("first")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusShutdown, session.Status)
	assert.NotNil(t, session.EndedAt)

	rows, err := s2.ListDecisions(0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s2.Ops().GetSession("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSchemaVersion(t *testing.T) {
	_, path := openTestStore(t)

	db, err := openDB(path)
	require.NoError(t, err)
	defer db.Close()

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestMigrateFromVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := openDB(path)
	require.NoError(t, err)

	// Rebuild the version 1 layout, which had no product columns.
	for _, stmt := range []string{
		"DROP TABLE decision_audit",
		`CREATE TABLE decision_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			decision_id TEXT NOT NULL,
			audit_action TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			result_json TEXT,
			decided_at DATETIME NOT NULL,
			recorded_at DATETIME
		)`,
		"DELETE FROM schema_version",
		"INSERT INTO schema_version (version) VALUES (1)",
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())

	s, err := Open(path, "migrated")
	require.NoError(t, err)
	defer s.Close()

	s.RecordDecision(decision("m", autopilot.DecisionPublish, true), autopilot.AuditCreated)
	rows, err := s.ListDecisions(0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bamboo Desk Organizer", rows[0].ProductTitle)
}

func TestNewAuditEntryWithoutProduct(t *testing.T) {
	d := decision("x", autopilot.DecisionContentUpdate, true)
	d.Product = nil
	d.Result = func() {}

	e := NewAuditEntry("s", d, autopilot.AuditCreated)
	assert.Empty(t, e.ProductID)
	assert.Contains(t, e.ResultJSON, "error")
}

func TestRecentDecisionsSpansSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path, "morning")
	require.NoError(t, err)
	s.RecordDecision(decision("m1", autopilot.DecisionPublish, true), autopilot.AuditCreated)
	require.NoError(t, s.Close())

	s2, err := Open(path, "evening")
	require.NoError(t, err)
	defer s2.Close()
	s2.RecordDecision(decision("e1", autopilot.DecisionRestock, false), autopilot.AuditCreated)

	own, err := s2.ListDecisions(0)
	require.NoError(t, err)
	require.Len(t, own, 1)

	all, err := s2.RecentDecisions(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "e1", all[0].DecisionID)
	assert.Equal(t, "morning", all[1].SessionID)

	latest, err := s2.RecentDecisions(1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}
