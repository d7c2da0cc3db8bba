package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

// Run is one execution of the control loop.
type Run struct {
	ID        string     `json:"run_id"`
	Name      string     `json:"name"`
	Source    string     `json:"source"`
	Config    string     `json:"config_json,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// StartRun records a new run and returns it with a fresh id.
func (db *DB) StartRun(ctx context.Context, name, source, configJSON string, startedAt time.Time) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		Config:    configJSON,
		StartedAt: startedAt.UTC(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, name, source, config_json, started_unix) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Source, nullString(configJSON), unixSeconds(startedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return r, nil
}

// FinishRun stamps the end time of a run.
func (db *DB) FinishRun(ctx context.Context, runID string, endedAt time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE runs SET ended_unix = ? WHERE run_id = ?`, unixSeconds(endedAt), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx,
		`SELECT run_id, name, source, config_json, started_unix, ended_unix FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// Runs lists the most recent runs first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, name, source, config_json, started_unix, ended_unix FROM runs ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r       Run
		config  sql.NullString
		started float64
		ended   sql.NullFloat64
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Source, &config, &started, &ended); err != nil {
		return nil, err
	}
	r.Config = config.String
	r.StartedAt = fromUnixSeconds(started)
	if ended.Valid {
		t := fromUnixSeconds(ended.Float64)
		r.EndedAt = &t
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
