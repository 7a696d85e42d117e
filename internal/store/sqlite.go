// ABOUTME: SQLite implementation of the TurnStore interface using modernc.org/sqlite
// ABOUTME: Provides conversation log persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements TurnStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			media_type TEXT,
			input TEXT NOT NULL,
			reply TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,

			CHECK (status IN ('ok', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_user_created
			ON turns(user_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_turns_created
			ON turns(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTurn inserts a turn record.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *TurnRecord) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if turn.Status == "" {
		turn.Status = TurnStatusOK
	}

	query := `
		INSERT INTO turns (id, user_id, session_id, media_type, input, reply, status, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.UserID,
		nullString(turn.SessionID),
		nullString(turn.MediaType),
		turn.Input,
		turn.Reply,
		turn.Status,
		nullString(turn.Error),
		turn.Latency.Milliseconds(),
		turn.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	s.logger.Debug("saved turn", "id", turn.ID, "user_id", turn.UserID, "status", turn.Status)
	return nil
}

// nullString converts empty strings to SQL NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const turnColumns = `id, user_id, session_id, media_type, input, reply, status, error, latency_ms, created_at`

// GetTurn retrieves a turn by ID.
// Returns ErrNotFound if the turn doesn't exist.
func (s *SQLiteStore) GetTurn(ctx context.Context, id string) (*TurnRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	turn, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// ListTurns retrieves turns, newest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, userID string, limit int) ([]*TurnRecord, error) {
	query := `SELECT ` + turnColumns + ` FROM turns WHERE 1=1`
	args := []any{}

	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*TurnRecord
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}

	return turns, nil
}

// Stats returns aggregate counts over the whole log.
func (s *SQLiteStore) Stats(ctx context.Context) (*TurnStats, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) as failed,
			COUNT(DISTINCT user_id) as users,
			COALESCE(AVG(latency_ms), 0) as avg_latency
		FROM turns
	`

	var stats TurnStats
	var avgMillis float64
	err := s.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Failed, &stats.Users, &avgMillis)
	if err != nil {
		return nil, fmt.Errorf("querying turn stats: %w", err)
	}
	stats.AvgLatency = time.Duration(avgMillis * float64(time.Millisecond))

	return &stats, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTurn scans a single turn row into a TurnRecord.
func scanTurn(row rowScanner) (*TurnRecord, error) {
	var turn TurnRecord
	var sessionID, mediaType, errText sql.NullString
	var latencyMillis int64
	var createdAtStr string

	err := row.Scan(
		&turn.ID,
		&turn.UserID,
		&sessionID,
		&mediaType,
		&turn.Input,
		&turn.Reply,
		&turn.Status,
		&errText,
		&latencyMillis,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning turn row: %w", err)
	}

	turn.SessionID = sessionID.String
	turn.MediaType = mediaType.String
	turn.Error = errText.String
	turn.Latency = time.Duration(latencyMillis) * time.Millisecond

	turn.CreatedAt, err = time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &turn, nil
}

// Ensure SQLiteStore implements TurnStore interface.
var _ TurnStore = (*SQLiteStore)(nil)
