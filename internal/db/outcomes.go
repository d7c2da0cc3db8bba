package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/traffic.control/internal/coordination"
	"github.com/banshee-data/traffic.control/internal/segment"
	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/timeutil"
)

// OutcomeRow is a stored coordination.Outcome.
type OutcomeRow struct {
	RunID string `json:"run_id"`
	coordination.Outcome
	RecordedAt time.Time `json:"recorded_at"`
}

// CongestionRow is a stored coordination.CongestionEvent.
type CongestionRow struct {
	RunID string `json:"run_id"`
	coordination.CongestionEvent
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordOutcome inserts one outcome. Re-recording the same run, tick and
// intersection replaces the earlier row.
func (db *DB) RecordOutcome(ctx context.Context, runID string, o coordination.Outcome, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO tick_outcomes (
			run_id, tick, intersection_id, intersection_name, action, green_seconds, reward,
			rationale, queue_length, avg_speed_kmph, flow_rate, waiting_time, default_telemetry, recorded_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(o.Tick), o.IntersectionID, o.IntersectionName, o.Action.String(),
		o.GreenDuration.Seconds(), o.Reward, nullString(o.Rationale),
		o.Telemetry.QueueLength, o.Telemetry.AvgSpeed, o.Telemetry.FlowRate, o.Telemetry.WaitingTimeIntegral,
		o.DefaultTelemetry, unixSeconds(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s at tick %d: %w", o.IntersectionID, o.Tick, err)
	}
	return nil
}

// RecordCongestion inserts one congestion event.
func (db *DB) RecordCongestion(ctx context.Context, runID string, ev coordination.CongestionEvent, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO congestion_events (
			run_id, tick, segment_id, segment_name, saturation, level, recorded_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(ev.Tick), ev.SegmentID, ev.SegmentName, ev.Saturation, ev.Level.String(), unixSeconds(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record congestion on %s at tick %d: %w", ev.SegmentID, ev.Tick, err)
	}
	return nil
}

const outcomeColumns = `run_id, tick, intersection_id, intersection_name, action, green_seconds, reward,
	rationale, queue_length, avg_speed_kmph, flow_rate, waiting_time, default_telemetry, recorded_unix`

// OutcomeFilter narrows outcome queries. Empty fields match everything.
type OutcomeFilter struct {
	RunID          string
	IntersectionID string
	Limit          int
}

// RecentOutcomes returns the newest outcomes first.
func (db *DB) RecentOutcomes(ctx context.Context, f OutcomeFilter) ([]OutcomeRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	return db.queryOutcomes(ctx, `SELECT `+outcomeColumns+` FROM tick_outcomes
		WHERE (? = '' OR run_id = ?) AND (? = '' OR intersection_id = ?)
		ORDER BY recorded_unix DESC, tick DESC, outcome_id DESC LIMIT ?`,
		f.RunID, f.RunID, f.IntersectionID, f.IntersectionID, limit)
}

// IntersectionSeries returns every outcome of one intersection in a run in
// tick order.
func (db *DB) IntersectionSeries(ctx context.Context, runID, intersectionID string) ([]OutcomeRow, error) {
	return db.queryOutcomes(ctx, `SELECT `+outcomeColumns+` FROM tick_outcomes
		WHERE run_id = ? AND intersection_id = ? ORDER BY tick`, runID, intersectionID)
}

// RunOutcomes returns every outcome of a run ordered by tick then
// intersection.
func (db *DB) RunOutcomes(ctx context.Context, runID string) ([]OutcomeRow, error) {
	return db.queryOutcomes(ctx, `SELECT `+outcomeColumns+` FROM tick_outcomes
		WHERE run_id = ? ORDER BY tick, intersection_id`, runID)
}

func (db *DB) queryOutcomes(ctx context.Context, query string, args ...interface{}) ([]OutcomeRow, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRow
	for rows.Next() {
		var (
			r         OutcomeRow
			tick      int64
			action    string
			green     float64
			rationale *string
			recorded  float64
		)
		if err := rows.Scan(&r.RunID, &tick, &r.IntersectionID, &r.IntersectionName, &action, &green, &r.Reward,
			&rationale, &r.Telemetry.QueueLength, &r.Telemetry.AvgSpeed, &r.Telemetry.FlowRate,
			&r.Telemetry.WaitingTimeIntegral, &r.DefaultTelemetry, &recorded); err != nil {
			return nil, err
		}
		a, err := signal.ParseAction(action)
		if err != nil {
			return nil, fmt.Errorf("tick_outcomes row for %s: %w", r.IntersectionID, err)
		}
		r.Tick = uint64(tick)
		r.Action = a
		r.GreenDuration = time.Duration(green * float64(time.Second))
		if rationale != nil {
			r.Rationale = *rationale
		}
		r.RecordedAt = fromUnixSeconds(recorded)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CongestionEvents returns a run's congestion events in tick order. An
// empty runID matches every run and a non-positive limit returns all rows.
func (db *DB) CongestionEvents(ctx context.Context, runID string, limit int) ([]CongestionRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, tick, segment_id, segment_name, saturation, level, recorded_unix
		FROM congestion_events WHERE (? = '' OR run_id = ?)
		ORDER BY tick, segment_id LIMIT ?`, runID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CongestionRow
	for rows.Next() {
		var (
			r        CongestionRow
			tick     int64
			level    string
			recorded float64
		)
		if err := rows.Scan(&r.RunID, &tick, &r.SegmentID, &r.SegmentName, &r.Saturation, &level, &recorded); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		if r.Level, err = segment.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("congestion_events row for %s: %w", r.SegmentID, err)
		}
		r.RecordedAt = fromUnixSeconds(recorded)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recorder is a coordination.Sink writing into one run.
type Recorder struct {
	db    *DB
	runID string
	clock timeutil.Clock
}

// NewRecorder returns a sink bound to runID.
func NewRecorder(db *DB, runID string, clock timeutil.Clock) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{db: db, runID: runID, clock: clock}
}

// RunID is the run this recorder writes to.
func (r *Recorder) RunID() string { return r.runID }

// Congestion implements coordination.Sink.
func (r *Recorder) Congestion(ev coordination.CongestionEvent) error {
	return r.db.RecordCongestion(context.Background(), r.runID, ev, r.clock.Now())
}

// Outcome implements coordination.Sink.
func (r *Recorder) Outcome(o coordination.Outcome) error {
	return r.db.RecordOutcome(context.Background(), r.runID, o, r.clock.Now())
}
