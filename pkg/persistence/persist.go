package persistence

import (
	"errors"
	"fmt"

	"storepilot/pkg/autopilot"
)

// ErrClosed is returned by queries made after Close.
var ErrClosed = errors.New("persistence store is closed")

// RecordDecision queues an audit row for d. It implements
// autopilot.DecisionSink and never blocks on the database; when the queue
// is full the row is dropped and logged.
func (s *Store) RecordDecision(d autopilot.Decision, action string) {
	entry := NewAuditEntry(s.sessionID, d, action)
	if !s.enqueue(&Request{Operation: OpInsertAudit, Data: entry}, false) {
		s.logger.Warn("audit queue full or closed, dropping %s of decision %s", action, d.ID)
	}
}

// ListDecisions returns up to limit audit rows of this session, newest first.
func (s *Store) ListDecisions(limit int) ([]*AuditEntry, error) {
	out, err := s.query(OpListAudit, ListAuditRequest{Limit: limit})
	if err != nil {
		return nil, err
	}
	return out.([]*AuditEntry), nil //nolint:forcetypeassert // worker contract
}

// RecentDecisions returns up to limit audit rows from every session,
// newest first.
func (s *Store) RecentDecisions(limit int) ([]*AuditEntry, error) {
	out, err := s.query(OpListAudit, ListAuditRequest{Limit: limit, AllSessions: true})
	if err != nil {
		return nil, err
	}
	return out.([]*AuditEntry), nil //nolint:forcetypeassert // worker contract
}

// DecisionHistory returns every audit row of one decision, newest first.
func (s *Store) DecisionHistory(decisionID string) ([]*AuditEntry, error) {
	out, err := s.query(OpListAudit, ListAuditRequest{DecisionID: decisionID})
	if err != nil {
		return nil, err
	}
	return out.([]*AuditEntry), nil //nolint:forcetypeassert // worker contract
}

// Summary counts this session's audit rows.
func (s *Store) Summary() (*AuditSummary, error) {
	out, err := s.query(OpAuditSummary, nil)
	if err != nil {
		return nil, err
	}
	return out.(*AuditSummary), nil //nolint:forcetypeassert // worker contract
}

// Flush waits until every request queued before it has been processed.
func (s *Store) Flush() error {
	_, err := s.query(OpFlush, nil)
	return err
}

type queryResult struct {
	value any
	err   error
}

// query goes through the worker so reads observe every earlier write.
func (s *Store) query(op string, data any) (any, error) {
	resp := make(chan any, 1)
	if !s.enqueue(&Request{Operation: op, Data: data, Response: resp}, true) {
		return nil, ErrClosed
	}
	res := (<-resp).(queryResult) //nolint:forcetypeassert // worker contract
	return res.value, res.err
}

func (s *Store) enqueue(req *Request, wait bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if wait {
		s.requests <- req
		return true
	}
	select {
	case s.requests <- req:
		return true
	default:
		return false
	}
}

func (s *Store) worker() {
	defer close(s.done)
	for req := range s.requests {
		value, err := s.handle(req)
		if req.Response != nil {
			req.Response <- queryResult{value: value, err: err}
			continue
		}
		if err != nil {
			s.logger.Error("persistence %s failed: %v", req.Operation, err)
		}
	}
}

func (s *Store) handle(req *Request) (any, error) {
	switch req.Operation {
	case OpInsertAudit:
		entry, ok := req.Data.(*AuditEntry)
		if !ok {
			return nil, fmt.Errorf("invalid data for %s: %T", req.Operation, req.Data)
		}
		return nil, s.ops.InsertAudit(entry)
	case OpListAudit:
		q, ok := req.Data.(ListAuditRequest)
		if !ok {
			return nil, fmt.Errorf("invalid data for %s: %T", req.Operation, req.Data)
		}
		if q.AllSessions {
			return s.ops.ListAuditAllSessions(q.Limit)
		}
		return s.ops.ListAudit(q.DecisionID, q.Limit)
	case OpAuditSummary:
		return s.ops.Summary()
	case OpFlush:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown persistence operation %q", req.Operation)
	}
}
