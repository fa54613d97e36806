// Package store implements the durable transaction archive. Every recorded
// transaction of every session lands here, so history survives session
// deletion and state-file edits; the in-memory history stores are the live
// view, this is the ledger.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"sake/internal/logging"
	"sake/internal/types"
)

// HistoryArchive is a SQLite-backed append-only record of transactions.
type HistoryArchive struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
	log    *logging.Logger
}

// ArchivedTransaction is one row of the ledger.
type ArchivedTransaction struct {
	SessionID string
	Seq       int
	Record    types.TransactionRecord
	CreatedAt time.Time
}

// NewHistoryArchive opens (or creates) the archive database at path.
// ":memory:" gives an ephemeral archive, used by tests.
func NewHistoryArchive(path string) (*HistoryArchive, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.NewPersistenceError("archive.open", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, types.NewPersistenceError("archive.open", err)
	}

	a := &HistoryArchive{db: db, dbPath: path, log: logging.Get(logging.CategoryStore)}
	if err := a.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *HistoryArchive) initialize() error {
	if _, err := a.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		a.log.Warn("failed to set sqlite busy_timeout: %v", err)
	}
	if a.dbPath != ":memory:" {
		if _, err := a.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			a.log.Warn("failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tx_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		success INTEGER NOT NULL,
		name TEXT,
		address TEXT,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_tx_history_session ON tx_history(session_id, seq);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return types.NewPersistenceError("archive.init", err)
	}
	return nil
}

// RecordTransaction appends one transaction. Replays of an already archived
// (session, seq) pair are ignored, so restoring a session from a snapshot
// cannot duplicate ledger rows.
func (a *HistoryArchive) RecordTransaction(sessionID string, seq int, rec types.TransactionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return types.NewPersistenceError("archive.record", err)
	}

	name := rec.FunctionName
	address := string(rec.To)
	if rec.Kind == types.TxDeployment {
		name = rec.ContractName
		address = string(rec.ContractAddress)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.db.Exec(`
		INSERT OR IGNORE INTO tx_history (session_id, seq, kind, success, name, address, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, seq, string(rec.Kind), boolToInt(rec.Success), name, address, string(payload))
	if err != nil {
		return types.NewPersistenceError("archive.record", err)
	}
	return nil
}

// Recent returns the newest limit transactions for a session, oldest first.
func (a *HistoryArchive) Recent(sessionID string, limit int) ([]ArchivedTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.db.Query(`
		SELECT session_id, seq, payload, created_at FROM (
			SELECT session_id, seq, payload, created_at
			FROM tx_history WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		sessionID, limit)
	if err != nil {
		return nil, types.NewPersistenceError("archive.query", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// Sessions lists every session id present in the ledger with its row count.
func (a *HistoryArchive) Sessions() (map[string]int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.db.Query(`SELECT session_id, COUNT(*) FROM tx_history GROUP BY session_id`)
	if err != nil {
		return nil, types.NewPersistenceError("archive.query", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, types.NewPersistenceError("archive.query", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// Purge removes every archived row for a session. Called on session deletion
// only when the user asks for it; by default the ledger outlives sessions.
func (a *HistoryArchive) Purge(sessionID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, err := a.db.Exec(`DELETE FROM tx_history WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, types.NewPersistenceError("archive.purge", err)
	}
	return res.RowsAffected()
}

// Close releases the database.
func (a *HistoryArchive) Close() error {
	return a.db.Close()
}

func scanTransactions(rows *sql.Rows) ([]ArchivedTransaction, error) {
	var out []ArchivedTransaction
	for rows.Next() {
		var (
			tx        ArchivedTransaction
			payload   string
			createdAt string
		)
		if err := rows.Scan(&tx.SessionID, &tx.Seq, &payload, &createdAt); err != nil {
			return nil, types.NewPersistenceError("archive.query", err)
		}
		if err := json.Unmarshal([]byte(payload), &tx.Record); err != nil {
			return nil, types.NewPersistenceError("archive.query",
				fmt.Errorf("row (%s, %d): %w", tx.SessionID, tx.Seq, err))
		}
		if ts, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			tx.CreatedAt = ts
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
