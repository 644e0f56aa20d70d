package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/storage/models"
	"github.com/chatrag/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingestion_runs (
		id TEXT PRIMARY KEY,
		source_uri TEXT NOT NULL,
		outcome TEXT NOT NULL,
		shape TEXT,
		chats INTEGER NOT NULL DEFAULT 0,
		skipped_chats INTEGER NOT NULL DEFAULT 0,
		units INTEGER NOT NULL DEFAULT 0,
		chunks INTEGER NOT NULL DEFAULT 0,
		accessibility TEXT,
		confidence REAL,
		error TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON ingestion_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_source ON ingestion_runs(source_uri);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		user_filter TEXT NOT NULL DEFAULT '',
		query_text TEXT NOT NULL,
		answer TEXT,
		candidate_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_filter);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS query_citations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		marker TEXT NOT NULL,
		number INTEGER NOT NULL,
		chunk_id TEXT,
		chat_id TEXT,
		turn_id TEXT,
		title TEXT,
		timestamp TEXT,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_citations_query ON query_citations(query_id);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	query := `
		INSERT INTO ingestion_runs (id, source_uri, outcome, shape, chats, skipped_chats, units, chunks,
			accessibility, confidence, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.SourceURI,
		run.Outcome,
		run.Shape,
		run.Chats,
		run.SkippedChats,
		run.Units,
		run.Chunks,
		run.Accessibility,
		run.Confidence,
		run.Error,
		run.LatencyMS,
		run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ingestion run: %w", err)
	}

	logger.Debug("Ingestion run recorded", zap.String("run_id", run.ID), zap.String("outcome", run.Outcome))
	return nil
}

func (c *Client) ListIngestionRuns(ctx context.Context, limit int) ([]models.IngestionRun, error) {
	query := `
		SELECT id, source_uri, outcome, shape, chats, skipped_chats, units, chunks,
			accessibility, confidence, error, latency_ms, created_at
		FROM ingestion_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.IngestionRun, 0)
	for rows.Next() {
		var r models.IngestionRun
		var createdAt int64
		err := rows.Scan(&r.ID, &r.SourceURI, &r.Outcome, &r.Shape, &r.Chats, &r.SkippedChats,
			&r.Units, &r.Chunks, &r.Accessibility, &r.Confidence, &r.Error, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ingestion runs: %w", err)
	}
	return runs, nil
}

// InsertQueryRecord stores a query and its citations atomically.
func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_history (id, user_filter, query_text, answer, candidate_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.UserFilter,
		record.QueryText,
		record.Answer,
		record.CandidateCount,
		record.LatencyMS,
		record.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, cit := range record.Citations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO query_citations (query_id, marker, number, chunk_id, chat_id, turn_id, title, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, record.ID, cit.Marker, cit.Number, cit.ChunkID, cit.ChatID, cit.TurnID, cit.Title, cit.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert query citation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Int("citations", len(record.Citations)),
	)
	return nil
}

// GetQueryHistory returns the newest queries for a user filter, citations
// included. An empty filter selects unscoped queries.
func (c *Client) GetQueryHistory(ctx context.Context, userFilter string, limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_filter, query_text, answer, candidate_count, latency_ms, created_at
		FROM query_history
		WHERE user_filter = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}

	records := make([]models.QueryRecord, 0)
	for rows.Next() {
		var r models.QueryRecord
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.UserFilter, &r.QueryText, &r.Answer, &r.CandidateCount, &r.LatencyMS, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate query history: %w", err)
	}
	rows.Close()

	for i := range records {
		cits, err := c.citations(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Citations = cits
	}
	return records, nil
}

func (c *Client) citations(ctx context.Context, queryID string) ([]models.QueryCitation, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, query_id, marker, number, chunk_id, chat_id, turn_id, title, timestamp
		FROM query_citations
		WHERE query_id = ?
		ORDER BY number
	`, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query citations: %w", err)
	}
	defer rows.Close()

	out := make([]models.QueryCitation, 0)
	for rows.Next() {
		var q models.QueryCitation
		if err := rows.Scan(&q.ID, &q.QueryID, &q.Marker, &q.Number, &q.ChunkID, &q.ChatID, &q.TurnID, &q.Title, &q.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
