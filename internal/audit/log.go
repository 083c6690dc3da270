package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"phinance/internal/logger"
	"phinance/internal/types"

	_ "modernc.org/sqlite"
)

// ErrChainVerificationFailed signals tampering; automated trading must stop.
var ErrChainVerificationFailed = errors.New("audit chain verification failed")

// Appender is the write side every component depends on.
type Appender interface {
	Append(ctx context.Context, rec Record) (string, error)
}

// Log is the hash-chained, append-only audit trail. Writers are serialized by mu.
// The table has no update or delete path and triggers reject both at the SQL level.
type Log struct {
	mu       sync.Mutex
	db       *sql.DB
	lastSeq  int64
	lastHash string
	lastTS   int64
	nowFn    func() time.Time
}

var _ Appender = (*Log)(nil)

// Open opens or creates the audit database at path.
func Open(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	l := &Log{db: db, lastHash: GenesisHash, nowFn: time.Now}
	if err := l.loadHead(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			portfolio TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			chain_ts INTEGER NOT NULL,
			prev_hash TEXT NOT NULL,
			entry_hash TEXT NOT NULL
		)`,
		`CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
		BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END`,
		`CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
		BEGIN SELECT RAISE(ABORT, 'audit log is append-only'); END`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
	}
	return nil
}

func (l *Log) loadHead(ctx context.Context) error {
	row := l.db.QueryRowContext(ctx, `SELECT seq, chain_ts, entry_hash FROM audit_log ORDER BY id DESC LIMIT 1`)
	var seq, ts int64
	var hash string
	switch err := row.Scan(&seq, &ts, &hash); {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	}
	l.lastSeq, l.lastTS, l.lastHash = seq, ts, hash
	return nil
}

// SetClock replaces the wall clock; used by tests.
func (l *Log) SetClock(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fn != nil {
		l.nowFn = fn
	}
}

// Append links rec to the chain head and returns the new entry's hash.
func (l *Log) Append(ctx context.Context, rec Record) (string, error) {
	if rec.Kind == "" {
		return "", fmt.Errorf("audit record kind is required")
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("audit payload: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.nowFn().UnixNano()
	if ts < l.lastTS {
		ts = l.lastTS
	}
	entry := Entry{
		Seq:            l.lastSeq + 1,
		Kind:           rec.Kind,
		Portfolio:      rec.Portfolio,
		Payload:        payload,
		ChainTimestamp: ts,
		PrevHash:       l.lastHash,
	}
	hash, err := entry.Digest()
	if err != nil {
		return "", err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO audit_log (seq, kind, portfolio, payload, chain_ts, prev_hash, entry_hash) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Seq, string(entry.Kind), string(entry.Portfolio), string(entry.Payload), entry.ChainTimestamp, entry.PrevHash, hash)
	if err != nil {
		return "", fmt.Errorf("audit append: %w", err)
	}
	l.lastSeq, l.lastTS, l.lastHash = entry.Seq, ts, hash
	return hash, nil
}

// Entries returns entries after seq in storage order; limit <= 0 returns all.
func (l *Log) Entries(ctx context.Context, afterSeq int64, limit int) ([]Entry, error) {
	query := `SELECT seq, kind, portfolio, payload, chain_ts, prev_hash, entry_hash FROM audit_log WHERE seq > ? ORDER BY id ASC`
	args := []any{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, portfolio, payload string
		if err := rows.Scan(&e.Seq, &kind, &portfolio, &payload, &e.ChainTimestamp, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.Portfolio = types.PortfolioTag(portfolio)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify walks the whole stored chain. A broken chain is reported both in the
// result and as ErrChainVerificationFailed.
func (l *Log) Verify(ctx context.Context) (VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.Entries(ctx, 0, 0)
	if err != nil {
		return VerifyResult{}, err
	}
	res := VerifyEntries(entries)
	if res.OK {
		res = l.checkTail(entries)
	}
	if !res.OK {
		logger.Errorf("audit chain broken at %d: %s", res.BrokenAt, res.Reason)
		return res, fmt.Errorf("%w: entry %d: %s", ErrChainVerificationFailed, res.BrokenAt, res.Reason)
	}
	return res, nil
}

// checkTail compares the stored tail with the head this log appended or
// loaded, so dropping the newest entries does not go unnoticed.
func (l *Log) checkTail(entries []Entry) VerifyResult {
	n := int64(len(entries))
	tailHash := GenesisHash
	if n > 0 {
		tailHash = entries[n-1].Hash
	}
	if n == l.lastSeq && tailHash == l.lastHash {
		return VerifyResult{OK: true, Entries: n}
	}
	return VerifyResult{
		OK:       false,
		BrokenAt: min(n, l.lastSeq) + 1,
		Entries:  n,
		Reason:   fmt.Sprintf("stored tail (seq %d) does not match chain head (seq %d)", n, l.lastSeq),
	}
}

// Head returns the current sequence number and hash.
func (l *Log) Head() (int64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq, l.lastHash
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
