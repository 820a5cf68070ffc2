// Package history records OpenVPN connection sessions in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/openvpn-manager/common"
)

// ErrSessionNotFound is returned when updating a session that does not exist.
var ErrSessionNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	profile    TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	tunnel_ip  TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sessions_started_at ON sessions (started_at);
`

// Session is one recorded connection.
type Session struct {
	ID        string
	Profile   string
	StartedAt time.Time
	// EndedAt is zero while the session is open.
	EndedAt  time.Time
	TunnelIP string
	Outcome  string
}

// Duration returns how long the session lasted, or has lasted so far.
func (s Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Store is a SQLite-backed session log. It implements common.SessionRecorder.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns the history database location in the config directory.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.HistoryFileName), nil
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		common.LogDebug("Could not restrict history database permissions: %v", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens a session for profileName and returns its ID.
func (s *Store) Begin(profileName string) (string, error) {
	id := common.GenerateID()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, profile, started_at) VALUES (?, ?, ?)`,
		id, profileName, s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record session start: %w", err)
	}
	return id, nil
}

// SetTunnelIP records the tunnel address of a session.
func (s *Store) SetTunnelIP(sessionID, ip string) error {
	res, err := s.db.Exec(`UPDATE sessions SET tunnel_ip = ? WHERE id = ?`, ip, sessionID)
	if err != nil {
		return fmt.Errorf("failed to record tunnel IP: %w", err)
	}
	return requireRow(res, sessionID)
}

// End closes a session with outcome. Ending a closed session is a no-op.
func (s *Store) End(sessionID, outcome string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, outcome = ? WHERE id = ? AND ended_at IS NULL`,
		s.now().UnixMilli(), outcome, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	var exists int
	err = s.db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}

func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile, started_at, ended_at, tunnel_ip, outcome
		 FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.Profile, &started, &ended, &sess.TunnelIP, &sess.Outcome); err != nil {
			return nil, fmt.Errorf("failed to read history row: %w", err)
		}
		sess.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			sess.EndedAt = time.UnixMilli(ended.Int64)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CloseOpen marks sessions left open by a crashed process as exited.
func (s *Store) CloseOpen() (int64, error) {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, outcome = ? WHERE ended_at IS NULL`,
		s.now().UnixMilli(), common.OutcomeExited,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close stale sessions: %w", err)
	}
	return res.RowsAffected()
}
