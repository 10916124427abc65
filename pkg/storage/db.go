package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO
)

// DB is the raw, un-scoped handle with full SQL power: reserved for
// migrations, tenant/plan lifecycle operations, and tests. Everything else
// goes through TenantClient.
type DB struct {
	conn *sql.DB
}

var (
	globalDB   *DB
	globalOnce sync.Once
	globalMu   sync.RWMutex
)

// Open creates a standalone DB not registered as the process singleton,
// for tests that want an isolated database per test case.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath))
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}
	if err := initializeSchema(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: initialize schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Initialize opens dbPath (creating it if necessary), applies pragmas and
// migrations, and stores the result as the process-wide singleton returned
// by Get. It is idempotent: subsequent calls are no-ops once the first
// succeeds, mirroring the teacher's sync.Once-guarded persistence.Initialize.
func Initialize(dbPath string) error {
	var initErr error
	globalOnce.Do(func() {
		conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath))
		if err != nil {
			initErr = fmt.Errorf("storage: open database: %w", err)
			return
		}
		if err := conn.Ping(); err != nil {
			_ = conn.Close()
			initErr = fmt.Errorf("storage: ping database: %w", err)
			return
		}
		if err := initializeSchema(conn); err != nil {
			_ = conn.Close()
			initErr = fmt.Errorf("storage: initialize schema: %w", err)
			return
		}

		globalMu.Lock()
		globalDB = &DB{conn: conn}
		globalMu.Unlock()
	})
	return initErr
}

// Get returns the process-wide DB singleton. It panics if Initialize has
// not yet succeeded, the same contract the teacher's persistence.GetDB uses:
// callers are expected to initialize storage once at process startup.
func Get() *DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalDB == nil {
		panic("storage: Get called before Initialize succeeded")
	}
	return globalDB
}

// IsInitialized reports whether Initialize has already succeeded.
func IsInitialized() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalDB != nil
}

// Close closes the underlying connection pool.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalDB == nil {
		return nil
	}
	err := globalDB.conn.Close()
	globalDB = nil
	return err
}

// Reset clears the singleton so a subsequent Initialize call opens a fresh
// connection. Test-only: production code never calls this directly.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalDB != nil {
		_ = globalDB.conn.Close()
	}
	globalDB = nil
	globalOnce = sync.Once{}
}

// Conn exposes the underlying *sql.DB for raw-client operations.
func (d *DB) Conn() *sql.DB {
	return d.conn
}
