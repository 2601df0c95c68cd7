package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
	_ "github.com/marcboeker/go-duckdb"
)

// History is the append-only execution audit store. Rows are written once
// and only ever read back for inspection; nothing here is loaded into the
// scheduler at startup.
type History struct {
	db *sql.DB
}

var _ ports.HistoryRepository = (*History)(nil)

func NewHistory(path string) (*History, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	h := &History{db: db}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			node_id VARCHAR,
			action VARCHAR,
			success BOOLEAN,
			output VARCHAR,
			error VARCHAR,
			elapsed_ms BIGINT,
			at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR,
			type VARCHAR,
			priority VARCHAR,
			status VARCHAR,
			subagent_id VARCHAR,
			retries INTEGER,
			error VARCHAR,
			result VARCHAR,
			created_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate history: %w", err)
		}
	}
	return nil
}

func (h *History) AppendExecution(ctx context.Context, rec ports.ExecutionRecord) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO executions (node_id, action, success, output, error, elapsed_ms, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(rec.NodeID), string(rec.Action), rec.Success, rec.Output, rec.Error, rec.ElapsedMs, rec.At,
	)
	return err
}

func (h *History) AppendJob(ctx context.Context, job domain.Job) error {
	resultJSON := ""
	if job.Result != nil {
		if data, err := json.Marshal(job.Result); err == nil {
			resultJSON = string(data)
		}
	}
	var completedAt any
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, priority, status, subagent_id, retries, error, result, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(job.ID), job.Type, string(job.Priority), string(job.Status),
		string(job.SubagentID), job.Retries, job.Error, resultJSON, job.CreatedAt, completedAt,
	)
	return err
}

func (h *History) ListExecutions(ctx context.Context, limit int) ([]ports.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT node_id, action, success, output, error, elapsed_ms, at FROM executions ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ports.ExecutionRecord
	for rows.Next() {
		var rec ports.ExecutionRecord
		var nodeID, action string
		if err := rows.Scan(&nodeID, &action, &rec.Success, &rec.Output, &rec.Error, &rec.ElapsedMs, &rec.At); err != nil {
			return nil, err
		}
		rec.NodeID = domain.NodeID(nodeID)
		rec.Action = domain.NodeAction(action)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (h *History) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, type, priority, status, subagent_id, retries, error, result, created_at, completed_at FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var (
			job         domain.Job
			id, sub     string
			prio, st    string
			resultJSON  string
			completedAt sql.NullTime
		)
		if err := rows.Scan(&id, &job.Type, &prio, &st, &sub, &job.Retries, &job.Error, &resultJSON, &job.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		job.ID = domain.JobID(id)
		job.Priority = domain.JobPriority(prio)
		job.Status = domain.JobStatus(st)
		job.SubagentID = domain.SubagentID(sub)
		if resultJSON != "" {
			_ = json.Unmarshal([]byte(resultJSON), &job.Result)
		}
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (h *History) Close() error {
	return h.db.Close()
}
