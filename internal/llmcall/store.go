package llmcall

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides access to call records in a SQLite database.
type Store struct {
	db *sql.DB
}

// QueryFilter specifies filters for listing calls.
type QueryFilter struct {
	SessionID  string
	Definition string
	Provider   string
	Model      string
	After      *time.Time
	Before     *time.Time
	Success    *bool
	Limit      int
	Offset     int
}

// Open opens (creating if needed) the call database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

// init creates the necessary tables if they don't exist.
func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS llm_calls (
			id             TEXT PRIMARY KEY,
			timestamp      INTEGER NOT NULL, -- unix nanoseconds
			latency_ms     INTEGER NOT NULL,
			session_id     TEXT NOT NULL,
			attempt        INTEGER NOT NULL,
			definition     TEXT,
			prompt         TEXT NOT NULL,
			provider       TEXT,
			model          TEXT,
			temperature    REAL,
			input_tokens   INTEGER NOT NULL DEFAULT 0,
			output_tokens  INTEGER NOT NULL DEFAULT 0,
			response       TEXT,
			stop_reason    TEXT,
			success        INTEGER NOT NULL,
			failures       TEXT,
			error          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_llm_calls_session ON llm_calls(session_id, attempt);
		CREATE INDEX IF NOT EXISTS idx_llm_calls_timestamp ON llm_calls(timestamp);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a call.
func (s *Store) Insert(ctx context.Context, c *Call) error {
	var temperature any
	if c.Temperature != nil {
		temperature = *c.Temperature
	}
	var failures any
	if len(c.Failures) > 0 {
		failures = string(c.Failures)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_calls (
			id, timestamp, latency_ms, session_id, attempt, definition, prompt,
			provider, model, temperature, input_tokens, output_tokens,
			response, stop_reason, success, failures, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Timestamp.UnixNano(), c.LatencyMs, c.SessionID, c.Attempt,
		c.Definition, c.Prompt, c.Provider, c.Model, temperature, c.InputTokens, c.OutputTokens,
		c.Response, c.StopReason, c.Success, failures, c.Error,
	)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", c.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, timestamp, latency_ms, session_id, attempt, definition, prompt,
		provider, model, temperature, input_tokens, output_tokens,
		response, stop_reason, success, failures, error
	FROM llm_calls`

// Get retrieves a single call by ID. Returns nil, nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return call, nil
}

// List retrieves calls matching the filter, newest session first and
// attempts in order within a session.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Definition != "" {
		conditions = append(conditions, "definition = ?")
		args = append(args, filter.Definition)
	}
	if filter.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *filter.Success)
	}
	if filter.After != nil {
		conditions = append(conditions, "timestamp > ?")
		args = append(args, filter.After.UnixNano())
	}
	if filter.Before != nil {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Before.UnixNano())
	}

	query := selectColumns
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	// Sessions are ranked by their latest attempt, then kept together.
	query += ` ORDER BY (
		SELECT MAX(s.timestamp) FROM llm_calls s WHERE s.session_id = llm_calls.session_id
	) DESC, session_id, attempt ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, *call)
	}
	return calls, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(sc scanner) (*Call, error) {
	var (
		c           Call
		timestamp   int64
		definition  sql.NullString
		provider    sql.NullString
		model       sql.NullString
		temperature sql.NullFloat64
		response    sql.NullString
		stopReason  sql.NullString
		failures    sql.NullString
		errMsg      sql.NullString
	)
	if err := sc.Scan(
		&c.ID, &timestamp, &c.LatencyMs, &c.SessionID, &c.Attempt, &definition, &c.Prompt,
		&provider, &model, &temperature, &c.InputTokens, &c.OutputTokens,
		&response, &stopReason, &c.Success, &failures, &errMsg,
	); err != nil {
		return nil, err
	}

	c.Timestamp = time.Unix(0, timestamp).UTC()
	c.Definition = definition.String
	c.Provider = provider.String
	c.Model = model.String
	if temperature.Valid {
		v := temperature.Float64
		c.Temperature = &v
	}
	c.Response = response.String
	c.StopReason = stopReason.String
	if failures.Valid && failures.String != "" {
		c.Failures = []byte(failures.String)
	}
	c.Error = errMsg.String
	return &c, nil
}
