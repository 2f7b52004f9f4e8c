package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/textsieve/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// runRow mirrors the run table. Stats are stored as a flexible object and
// round-trip through JSON so every counter keeps its JSON name.
type runRow struct {
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	Profile     *string        `json:"profile,omitempty"`
	Inputs      []string       `json:"inputs"`
	Stats       map[string]any `json:"stats"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (r runRow) record() (models.RunRecord, error) {
	rec := models.RunRecord{
		RunID:       r.RunID,
		Status:      models.RunStatus(r.Status),
		Inputs:      r.Inputs,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.Profile != nil {
		rec.Profile = *r.Profile
	}
	if rec.Inputs == nil {
		rec.Inputs = []string{}
	}
	data, err := json.Marshal(r.Stats)
	if err != nil {
		return rec, fmt.Errorf("encode stats of %s: %w", r.RunID, err)
	}
	if err := json.Unmarshal(data, &rec.Stats); err != nil {
		return rec, fmt.Errorf("decode stats of %s: %w", r.RunID, err)
	}
	return rec, nil
}

func statsObject(stats models.RunStats) (map[string]any, error) {
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// blockKey is the record id of a block: unique across runs.
func blockKey(b models.Block) string {
	return b.RunID + "_" + b.ID
}

// QueryInsertBlocks upserts a batch of blocks in one round trip.
func (c *Client) QueryInsertBlocks(ctx context.Context, blocks []models.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	rows := make([]map[string]any, len(blocks))
	for i, b := range blocks {
		rows[i] = map[string]any{
			"key":      blockKey(b),
			"run_id":   b.RunID,
			"block_id": b.ID,
			"seq":      b.Seq,
			"source":   optional(b.Source),
			"text":     b.Text,
		}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		FOR $b IN $rows {
			UPSERT type::record("block", $b.key) SET
				run_id = $b.run_id,
				block_id = $b.block_id,
				seq = $b.seq,
				source = $b.source,
				text = $b.text;
		};
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("insert blocks: %w", wrapQueryError(err))
	}
	return nil
}

// QueryListBlocks returns the blocks kept by a run in output order.
func (c *Client) QueryListBlocks(ctx context.Context, runID string) ([]models.Block, error) {
	results, err := surrealdb.Query[[]models.Block](ctx, c.db, `
		SELECT block_id AS id, run_id, seq, source, text
		FROM block WHERE run_id = $run_id ORDER BY seq
	`, map[string]any{"run_id": runID})
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Block{}, nil
	}
	return (*results)[0].Result, nil
}

// QuerySaveRun creates or replaces the run row for rec.
func (c *Client) QuerySaveRun(ctx context.Context, rec models.RunRecord) error {
	stats, err := statsObject(rec.Stats)
	if err != nil {
		return fmt.Errorf("save run: encode stats: %w", err)
	}

	vars := map[string]any{
		"id":         rec.RunID,
		"status":     string(rec.Status),
		"profile":    optional(rec.Profile),
		"inputs":     rec.Inputs,
		"stats":      stats,
		"error":      rec.Error,
		"started_at": rec.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.CompletedAt != nil {
		vars["completed_at"] = rec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("run", $id) SET
			status = $status,
			profile = $profile,
			inputs = $inputs,
			stats = $stats,
			error = $error,
			started_at = type::datetime($started_at),
			completed_at = IF $completed_at THEN type::datetime($completed_at) ELSE NONE END
	`, vars)
	if err != nil {
		return fmt.Errorf("save run: %w", wrapQueryError(err))
	}
	return nil
}

const runFields = `record::id(id) AS run_id, status, profile, inputs, stats, error, started_at, completed_at`

// QueryGetRun retrieves a run by id. Returns ErrNotFound if it does not exist.
func (c *Client) QueryGetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	results, err := surrealdb.Query[[]runRow](ctx, c.db,
		`SELECT `+runFields+` FROM type::record("run", $id)`,
		map[string]any{"id": runID})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get run %s: %w", runID, ErrNotFound)
	}
	rec, err := (*results)[0].Result[0].record()
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &rec, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	sql := `SELECT ` + runFields + ` FROM run ORDER BY started_at DESC`
	vars := map[string]any{}
	if limit > 0 {
		sql += ` LIMIT $limit`
		vars["limit"] = limit
	}

	results, err := surrealdb.Query[[]runRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := []models.RunRecord{}
	if results == nil || len(*results) == 0 {
		return runs, nil
	}
	for _, row := range (*results)[0].Result {
		rec, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, nil
}
