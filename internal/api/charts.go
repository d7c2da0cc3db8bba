package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/gorilla/mux"

	"github.com/banshee-data/traffic.control/internal/db"
	"github.com/banshee-data/traffic.control/internal/httputil"
)

// chart renders an HTML line chart of one intersection's green duration,
// reward and queue across a run.
func (s *Server) chart(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := mux.Vars(r)["id"]
	runID := r.URL.Query().Get("run")
	if runID == "" {
		runID = s.runID
	}
	if runID == "" {
		httputil.BadRequest(w, "run query parameter is required")
		return
	}

	rows, err := s.store.IntersectionSeries(r.Context(), runID, id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(rows) == 0 {
		httputil.NotFound(w, fmt.Sprintf("no outcomes for intersection %s in run %s", id, runID))
		return
	}

	var buf bytes.Buffer
	if err := renderSeries(&buf, runID, rows); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func renderSeries(buf *bytes.Buffer, runID string, rows []db.OutcomeRow) error {
	ticks := make([]string, 0, len(rows))
	green := make([]opts.LineData, 0, len(rows))
	reward := make([]opts.LineData, 0, len(rows))
	queue := make([]opts.LineData, 0, len(rows))
	for _, row := range rows {
		ticks = append(ticks, strconv.FormatUint(row.Tick, 10))
		green = append(green, opts.LineData{Value: row.GreenDuration.Seconds()})
		reward = append(reward, opts.LineData{Value: row.Reward})
		queue = append(queue, opts.LineData{Value: row.Telemetry.QueueLength})
	}

	name := rows[0].IntersectionName
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: name, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: name, Subtitle: fmt.Sprintf("run=%s ticks=%d", runID, len(rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Tick", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(ticks).
		AddSeries("green (s)", green).
		AddSeries("reward", reward).
		AddSeries("queue", queue)
	return line.Render(buf)
}
