package db

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// IntersectionSummary aggregates one intersection's outcomes in a run.
type IntersectionSummary struct {
	IntersectionID   string         `json:"intersection_id"`
	IntersectionName string         `json:"intersection_name"`
	Ticks            int            `json:"ticks"`
	MeanReward       float64        `json:"mean_reward"`
	StdDevReward     float64        `json:"stddev_reward"`
	MinReward        float64        `json:"min_reward"`
	MaxReward        float64        `json:"max_reward"`
	MeanGreenSeconds float64        `json:"mean_green_seconds"`
	MeanQueue        float64        `json:"mean_queue"`
	Actions          map[string]int `json:"actions"`
	Defaulted        int            `json:"default_telemetry_ticks"`
}

// SegmentSummary aggregates congestion events of one segment in a run.
type SegmentSummary struct {
	SegmentID      string  `json:"segment_id"`
	SegmentName    string  `json:"segment_name"`
	Events         int     `json:"events"`
	MeanSaturation float64 `json:"mean_saturation"`
	MaxSaturation  float64 `json:"max_saturation"`
}

// RunSummary is the aggregate view of a stored run.
type RunSummary struct {
	Run           Run                   `json:"run"`
	Ticks         uint64                `json:"ticks"`
	Duration      time.Duration         `json:"duration_ns"`
	Intersections []IntersectionSummary `json:"intersections"`
	Segments      []SegmentSummary      `json:"segments"`
}

// SummarizeRun computes per-intersection and per-segment statistics for a
// run.
func (db *DB) SummarizeRun(ctx context.Context, runID string) (*RunSummary, error) {
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	outcomes, err := db.RunOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := db.CongestionEvents(ctx, runID, -1)
	if err != nil {
		return nil, err
	}

	sum := &RunSummary{
		Run:           *run,
		Intersections: summarizeOutcomes(outcomes),
		Segments:      summarizeCongestion(events),
	}
	for _, o := range outcomes {
		if o.Tick > sum.Ticks {
			sum.Ticks = o.Tick
		}
	}
	if run.EndedAt != nil {
		sum.Duration = run.EndedAt.Sub(run.StartedAt)
	}
	return sum, nil
}

func summarizeOutcomes(rows []OutcomeRow) []IntersectionSummary {
	type acc struct {
		s      IntersectionSummary
		reward []float64
		green  []float64
		queue  []float64
	}
	byID := make(map[string]*acc)
	for _, r := range rows {
		a, ok := byID[r.IntersectionID]
		if !ok {
			a = &acc{s: IntersectionSummary{
				IntersectionID:   r.IntersectionID,
				IntersectionName: r.IntersectionName,
				Actions:          make(map[string]int),
			}}
			byID[r.IntersectionID] = a
		}
		a.reward = append(a.reward, r.Reward)
		a.green = append(a.green, r.GreenDuration.Seconds())
		a.queue = append(a.queue, float64(r.Telemetry.QueueLength))
		a.s.Actions[r.Action.String()]++
		if r.DefaultTelemetry {
			a.s.Defaulted++
		}
	}

	out := make([]IntersectionSummary, 0, len(byID))
	for _, a := range byID {
		s := a.s
		s.Ticks = len(a.reward)
		if len(a.reward) > 1 {
			s.MeanReward, s.StdDevReward = stat.MeanStdDev(a.reward, nil)
		} else {
			s.MeanReward = a.reward[0]
		}
		s.MinReward = floats.Min(a.reward)
		s.MaxReward = floats.Max(a.reward)
		s.MeanGreenSeconds = stat.Mean(a.green, nil)
		s.MeanQueue = stat.Mean(a.queue, nil)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntersectionID < out[j].IntersectionID })
	return out
}

func summarizeCongestion(rows []CongestionRow) []SegmentSummary {
	sat := make(map[string][]float64)
	names := make(map[string]string)
	for _, r := range rows {
		sat[r.SegmentID] = append(sat[r.SegmentID], r.Saturation)
		names[r.SegmentID] = r.SegmentName
	}
	out := make([]SegmentSummary, 0, len(sat))
	for id, xs := range sat {
		out = append(out, SegmentSummary{
			SegmentID:      id,
			SegmentName:    names[id],
			Events:         len(xs),
			MeanSaturation: stat.Mean(xs, nil),
			MaxSaturation:  floats.Max(xs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out
}
