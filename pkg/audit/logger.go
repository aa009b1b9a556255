// Package audit records a per-request trail in SQLite. Keys are stored as
// a SHA-256 hash plus a short prefix; request and response bodies are not
// stored.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one audited gateway request.
type Entry struct {
	RequestID    string
	APIKeyHash   string
	APIKeyPrefix string
	Tier         string
	Model        string
	Endpoint     string
	Outcome      string // "ok" or the fault kind
	CacheResult  string // "hit", "miss", or empty off the cache path
	LatencyMs    int64
	CreatedAt    time.Time
}

// Logger writes and queries audit entries. Submitted entries flow through
// a buffered queue to a single background writer so a slow disk never
// delays a request.
type Logger struct {
	db      *sql.DB
	entries chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

const queueDepth = 256

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id      TEXT NOT NULL,
	api_key_hash    TEXT NOT NULL,
	api_key_prefix  TEXT NOT NULL,
	tier            TEXT,
	model           TEXT,
	endpoint        TEXT,
	outcome         TEXT NOT NULL,
	cache_result    TEXT,
	latency_ms      INTEGER NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`

// New opens the audit database and creates the schema.
func New(dbPath string) (*Logger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:      db,
		entries: make(chan Entry, queueDepth),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "audit"),
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Submit queues an entry for the background writer. When the queue is full
// the entry is dropped rather than blocking the caller.
func (l *Logger) Submit(e Entry) {
	select {
	case l.entries <- e:
	default:
		l.logger.Warn("audit queue full, entry dropped", "request_id", e.RequestID)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.entries:
			if err := l.Log(context.Background(), e); err != nil {
				l.logger.Error("audit write failed", "error", err)
			}
		case <-l.done:
			// Drain queued entries before shutdown.
			for {
				select {
				case e := <-l.entries:
					if err := l.Log(context.Background(), e); err != nil {
						l.logger.Error("audit write failed", "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

// HashAPIKey returns the stored hash and display prefix for a raw key.
func HashAPIKey(key string) (hash, prefix string) {
	sum := sha256.Sum256([]byte(key))
	hash = hex.EncodeToString(sum[:])
	if len(key) > 8 {
		prefix = key[:8]
	} else {
		prefix = key
	}
	return hash, prefix
}

// Log stores one entry.
func (l *Logger) Log(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log
		 (request_id, api_key_hash, api_key_prefix, tier, model, endpoint, outcome, cache_result, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.APIKeyHash, e.APIKeyPrefix, e.Tier, e.Model, e.Endpoint,
		e.Outcome, e.CacheResult, e.LatencyMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT request_id, api_key_hash, api_key_prefix, tier, model, endpoint, outcome, cache_result, latency_ms, created_at
		 FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.RequestID, &e.APIKeyHash, &e.APIKeyPrefix, &e.Tier, &e.Model,
			&e.Endpoint, &e.Outcome, &e.CacheResult, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit scan: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close flushes queued entries, stops the writer, and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}
