package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
)

// SQLiteStore is an embedded local mirror of the audit log and the
// token-revocation blacklist. It exists so the revocation sweep and
// audit buffering survive graph outages: the graph remains the system
// of record, but every write lands here first (or instead, when the
// graph is unreachable) without going through the cache/breaker/retry
// stack that guards the hot path of every token verification.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures its
// schema exists. Parent directories are created as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "audit.sqlite_store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	logger.Info("audit sqlite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			timestamp      TEXT NOT NULL,
			user_id        TEXT,
			correlation_id TEXT NOT NULL,
			severity       TEXT NOT NULL,
			attributes     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_events_type_timestamp ON audit_events(type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);

		CREATE TABLE IF NOT EXISTS blacklisted_tokens (
			token_hash TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_blacklisted_tokens_expires_at ON blacklisted_tokens(expires_at);

		CREATE TABLE IF NOT EXISTS user_revocation_cutoffs (
			user_id TEXT PRIMARY KEY,
			cutoff  TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing audit sqlite store")
	return s.db.Close()
}

// Flush is a no-op: every Append already commits synchronously.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	return nil
}

// Append inserts events in a single transaction, preserving call order.
func (s *SQLiteStore) Append(ctx context.Context, events ...audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning audit append transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (id, type, timestamp, user_id, correlation_id, severity, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing audit insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		attrsJSON, err := marshalAttributes(ev.Attributes)
		if err != nil {
			return fmt.Errorf("marshaling attributes for event %s: %w", ev.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID,
			string(ev.Type),
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			nullString(ev.UserID),
			ev.CorrelationID,
			string(ev.Severity),
			attrsJSON,
		); err != nil {
			return fmt.Errorf("inserting audit event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

func marshalAttributes(attrs map[string]any) (any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Query retrieves events matching filter, newest first, paginated by a
// numeric offset cursor.
func (s *SQLiteStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, string, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() {
		if filter.EndTime.Sub(filter.StartTime) > 7*24*time.Hour {
			return nil, "", audit.ErrDateRangeExceeded
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	offset := 0
	if filter.Cursor != "" {
		if _, err := fmt.Sscanf(filter.Cursor, "%d", &offset); err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
	}

	var where []string
	var args []any

	if !filter.StartTime.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if !filter.EndTime.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.EndTime.UTC().Format(time.RFC3339Nano))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	query := `SELECT id, type, timestamp, user_id, correlation_id, severity, attributes FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, "", err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating audit event rows: %w", err)
	}

	nextCursor := ""
	if len(events) > limit {
		events = events[:limit]
		nextCursor = fmt.Sprintf("%d", offset+limit)
	}

	return events, nextCursor, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (audit.Event, error) {
	var ev audit.Event
	var timestampStr string
	var userID, attrsJSON sql.NullString

	if err := r.Scan(&ev.ID, &ev.Type, &timestampStr, &userID, &ev.CorrelationID, &ev.Severity, &attrsJSON); err != nil {
		return audit.Event{}, fmt.Errorf("scanning audit event row: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parsing audit event timestamp: %w", err)
	}
	ev.Timestamp = ts

	if userID.Valid {
		ev.UserID = userID.String
	}
	if attrsJSON.Valid && attrsJSON.String != "" {
		attrs := make(map[string]any)
		if err := json.Unmarshal([]byte(attrsJSON.String), &attrs); err != nil {
			return audit.Event{}, fmt.Errorf("unmarshaling audit event attributes: %w", err)
		}
		ev.Attributes = attrs
	}

	return ev, nil
}

// QueryStats aggregates event counts over [start, end].
func (s *SQLiteStore) QueryStats(ctx context.Context, start, end time.Time) (*audit.Stats, error) {
	if end.Sub(start) > 7*24*time.Hour {
		return nil, audit.ErrDateRangeExceeded
	}

	startStr := start.UTC().Format(time.RFC3339Nano)
	endStr := end.UTC().Format(time.RFC3339Nano)

	stats := &audit.Stats{ByType: make(map[audit.EventType]int64)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id)
		FROM audit_events WHERE timestamp >= ? AND timestamp <= ?
	`, startStr, endStr)
	if err := row.Scan(&stats.TotalEvents, &stats.UniqueUsers); err != nil {
		return nil, fmt.Errorf("querying audit totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM audit_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY type
	`, startStr, endStr)
	if err != nil {
		return nil, fmt.Errorf("querying audit type breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t audit.EventType
		var count int64
		if err := rows.Scan(&t, &count); err != nil {
			return nil, fmt.Errorf("scanning audit type breakdown row: %w", err)
		}
		stats.ByType[t] = count
		switch t {
		case audit.EventSecurityViolation:
			stats.SecurityViolations = count
		case audit.EventRateLimited:
			stats.RateLimitedCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit type breakdown rows: %w", err)
	}

	return stats, nil
}

// Ensure SQLiteStore satisfies both halves of the audit log's read/write
// split and the token-revocation blacklist it backs.
var (
	_ audit.Store          = (*SQLiteStore)(nil)
	_ audit.QueryStore     = (*SQLiteStore)(nil)
	_ auth.RevocationStore = (*SQLiteStore)(nil)
)

// RevokeToken blacklists a single token hash until expiresAt.
func (s *SQLiteStore) RevokeToken(tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO blacklisted_tokens (token_hash, expires_at) VALUES (?, ?)
		ON CONFLICT(token_hash) DO UPDATE SET expires_at = excluded.expires_at
	`, tokenHash, expiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// RevokeAllForUser raises userID's revocation cutoff, never lowering it.
func (s *SQLiteStore) RevokeAllForUser(userID string, cutoff time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO user_revocation_cutoffs (user_id, cutoff) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET cutoff = excluded.cutoff
		WHERE excluded.cutoff > user_revocation_cutoffs.cutoff
	`, userID, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("revoking all tokens for user: %w", err)
	}
	return nil
}

// IsRevoked reports whether rawToken is blacklisted or userID's cutoff
// postdates issuedAtUnix.
func (s *SQLiteStore) IsRevoked(rawToken, userID string, issuedAtUnix int64) (bool, error) {
	hash := auth.HashToken(rawToken)

	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM blacklisted_tokens WHERE token_hash = ?`, hash).Scan(&exists)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("checking token blacklist: %w", err)
	}

	var cutoffStr string
	err = s.db.QueryRow(`SELECT cutoff FROM user_revocation_cutoffs WHERE user_id = ?`, userID).Scan(&cutoffStr)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user revocation cutoff: %w", err)
	}

	cutoff, err := time.Parse(time.RFC3339Nano, cutoffStr)
	if err != nil {
		return false, fmt.Errorf("parsing revocation cutoff: %w", err)
	}
	issuedAt := time.Unix(issuedAtUnix, 0).UTC()
	return !issuedAt.After(cutoff), nil
}

// Sweep deletes blacklist rows whose expiry has passed and returns the
// number removed.
func (s *SQLiteStore) Sweep(now time.Time) int {
	result, err := s.db.Exec(`DELETE FROM blacklisted_tokens WHERE expires_at <= ?`, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Warn("audit sqlite sweep failed", "error", err)
		return 0
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(removed)
}
