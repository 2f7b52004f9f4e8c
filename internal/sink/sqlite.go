package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/textsieve/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	profile TEXT,
	inputs TEXT NOT NULL,
	stats TEXT NOT NULL,
	error TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS blocks (
	run_id TEXT NOT NULL,
	id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	source TEXT,
	text TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS blocks_run_seq ON blocks (run_id, seq);
`

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite stores kept blocks and run history in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and creates the tables if needed.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// One writer at a time; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create tables: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// NewSink returns a sink writing one run into the database. All blocks of
// the run are committed together with its run row on Finish.
func (s *SQLite) NewSink(profile string, inputs []string) *SQLiteSink {
	return &SQLiteSink{store: s, profile: profile, inputs: inputs}
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, profile, inputs, stats, error, started_at, completed_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunRecord{}
	for rows.Next() {
		var (
			rec                          models.RunRecord
			status, inputs, stats, start string
			profile, runErr, completed   sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &status, &profile, &inputs, &stats, &runErr, &start, &completed); err != nil {
			return nil, fmt.Errorf("sqlite: scan run: %w", err)
		}
		rec.Status = models.RunStatus(status)
		rec.Profile = profile.String
		if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
			return nil, fmt.Errorf("sqlite: decode inputs of %s: %w", rec.RunID, err)
		}
		if err := json.Unmarshal([]byte(stats), &rec.Stats); err != nil {
			return nil, fmt.Errorf("sqlite: decode stats of %s: %w", rec.RunID, err)
		}
		if runErr.Valid {
			msg := runErr.String
			rec.Error = &msg
		}
		if rec.StartedAt, err = time.Parse(timeLayout, start); err != nil {
			return nil, fmt.Errorf("sqlite: parse started_at of %s: %w", rec.RunID, err)
		}
		if completed.Valid {
			t, err := time.Parse(timeLayout, completed.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse completed_at of %s: %w", rec.RunID, err)
			}
			rec.CompletedAt = &t
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// Blocks returns the blocks kept by a run in output order.
func (s *SQLite) Blocks(ctx context.Context, runID string) ([]models.Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, source, text FROM blocks WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.Block
	for rows.Next() {
		b := models.Block{RunID: runID}
		var source sql.NullString
		if err := rows.Scan(&b.ID, &b.Seq, &source, &b.Text); err != nil {
			return nil, fmt.Errorf("sqlite: scan block: %w", err)
		}
		b.Source = source.String
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// SQLiteSink writes one run inside a single transaction.
type SQLiteSink struct {
	store   *SQLite
	profile string
	inputs  []string
	tx      *sql.Tx
	insert  *sql.Stmt
}

func (s *SQLiteSink) begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO blocks (run_id, id, seq, source, text) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	s.tx, s.insert = tx, stmt
	return nil
}

func (s *SQLiteSink) Accept(ctx context.Context, b models.Block) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if _, err := s.insert.ExecContext(ctx, b.RunID, b.ID, b.Seq, nullable(b.Source), b.Text); err != nil {
		return fmt.Errorf("sqlite: insert block %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLiteSink) Finish(ctx context.Context, stats models.RunStats) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer func() { s.tx, s.insert = nil, nil }()

	rec := models.NewRunRecord(stats, s.profile, s.inputs)
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		_ = s.tx.Rollback()
		return fmt.Errorf("sqlite: encode inputs: %w", err)
	}
	statsJSON, err := json.Marshal(rec.Stats)
	if err != nil {
		_ = s.tx.Rollback()
		return fmt.Errorf("sqlite: encode stats: %w", err)
	}

	var completed any
	if rec.CompletedAt != nil {
		completed = rec.CompletedAt.UTC().Format(timeLayout)
	}
	var runErr any
	if rec.Error != nil {
		runErr = *rec.Error
	}

	_, err = s.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, status, profile, inputs, stats, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, string(rec.Status), nullable(rec.Profile), string(inputs), string(statsJSON),
		runErr, rec.StartedAt.UTC().Format(timeLayout), completed,
	)
	if err != nil {
		_ = s.tx.Rollback()
		return fmt.Errorf("sqlite: save run %s: %w", rec.RunID, err)
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit run %s: %w", rec.RunID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
