// Package persistence keeps the AutoPilot decision audit in SQLite.
//
// The audit is write-behind: callers hand decisions to a single worker
// goroutine over a request channel and never block on the database. Nothing
// is read back to restore controller state; the tables exist for inspection.
package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"storepilot/pkg/logx"
)

// DefaultQueueSize is the capacity of the request channel.
const DefaultQueueSize = 256

// Store owns the database connection and the worker draining its requests.
type Store struct {
	db        *sql.DB
	ops       *DatabaseOperations
	sessionID string
	logger    *logx.Logger

	requests chan *Request
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the database at path, brings the schema to the
// current version, starts a session row and starts the worker.
func Open(path, sessionID string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:        db,
		ops:       NewDatabaseOperations(db, sessionID),
		sessionID: sessionID,
		logger:    logx.NewLogger("persistence"),
		requests:  make(chan *Request, DefaultQueueSize),
		done:      make(chan struct{}),
	}
	if err := s.ops.StartSession(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	go s.worker()
	s.logger.Info("📦 Database initialized: %s (session: %s)", path, sessionID)
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// SessionID returns the id stamped on every audit row of this process.
func (s *Store) SessionID() string { return s.sessionID }

// Ops exposes direct, synchronous operations. Prefer the request channel
// for writes made from hot paths.
func (s *Store) Ops() *DatabaseOperations { return s.ops }

// Close drains pending writes, ends the session and closes the database.
// It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.requests)
	s.mu.Unlock()

	<-s.done

	if err := s.ops.EndSession(SessionStatusShutdown); err != nil {
		s.logger.Warn("failed to end session %s: %v", s.sessionID, err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
