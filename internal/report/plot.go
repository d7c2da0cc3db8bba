package report

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/traffic.control/internal/db"
	"github.com/banshee-data/traffic.control/internal/security"
)

// ErrNoOutcomes is returned when a run has nothing to plot.
var ErrNoOutcomes = errors.New("no outcomes to plot")

var (
	greenColor  = color.RGBA{R: 46, G: 160, B: 67, A: 255}
	rewardColor = color.RGBA{R: 207, G: 34, B: 46, A: 255}
	queueColor  = color.RGBA{R: 9, G: 105, B: 218, A: 255}
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// SeriesPlots is the pair of chart files written for one intersection.
type SeriesPlots struct {
	IntersectionID string `json:"intersection_id"`
	Green          string `json:"green_plot"`
	Reward         string `json:"reward_plot"`
}

// PlotRun writes green-duration and reward charts for every intersection
// of a run into dir, which is created if needed.
func PlotRun(rows []db.OutcomeRow, dir string) ([]SeriesPlots, error) {
	if len(rows) == 0 {
		return nil, ErrNoOutcomes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	byID := make(map[string][]db.OutcomeRow)
	for _, r := range rows {
		byID[r.IntersectionID] = append(byID[r.IntersectionID], r)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]SeriesPlots, 0, len(ids))
	for _, id := range ids {
		series := byID[id]
		sort.Slice(series, func(i, j int) bool { return series[i].Tick < series[j].Tick })
		sp, err := plotIntersection(series, dir)
		if err != nil {
			return out, err
		}
		out = append(out, sp)
	}
	return out, nil
}

func plotIntersection(series []db.OutcomeRow, dir string) (SeriesPlots, error) {
	first := series[0]
	sp := SeriesPlots{IntersectionID: first.IntersectionID}

	green := make(plotter.XYs, 0, len(series))
	reward := make(plotter.XYs, 0, len(series))
	queue := make(plotter.XYs, 0, len(series))
	for _, r := range series {
		x := float64(r.Tick)
		green = append(green, plotter.XY{X: x, Y: r.GreenDuration.Seconds()})
		reward = append(reward, plotter.XY{X: x, Y: r.Reward})
		queue = append(queue, plotter.XY{X: x, Y: float64(r.Telemetry.QueueLength)})
	}

	pGreen := plot.New()
	pGreen.Title.Text = fmt.Sprintf("%s - Green Duration", first.IntersectionName)
	pGreen.X.Label.Text = "Tick"
	pGreen.Y.Label.Text = "Green (s)"
	if err := addLine(pGreen, "green", green, greenColor); err != nil {
		return sp, err
	}

	pReward := plot.New()
	pReward.Title.Text = fmt.Sprintf("%s - Reward", first.IntersectionName)
	pReward.X.Label.Text = "Tick"
	pReward.Y.Label.Text = "Reward / queue"
	if err := addLine(pReward, "reward", reward, rewardColor); err != nil {
		return sp, err
	}
	if err := addLine(pReward, "queue", queue, queueColor); err != nil {
		return sp, err
	}

	for _, p := range []*plot.Plot{pGreen, pReward} {
		p.Add(plotter.NewGrid())
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	var err error
	if sp.Green, err = security.OutputPath(dir, fmt.Sprintf("%s_green.png", first.IntersectionID)); err != nil {
		return sp, err
	}
	if sp.Reward, err = security.OutputPath(dir, fmt.Sprintf("%s_reward.png", first.IntersectionID)); err != nil {
		return sp, err
	}
	if err := pGreen.Save(plotWidth, plotHeight, sp.Green); err != nil {
		return sp, fmt.Errorf("save green plot: %w", err)
	}
	if err := pReward.Save(plotWidth, plotHeight, sp.Reward); err != nil {
		return sp, fmt.Errorf("save reward plot: %w", err)
	}
	return sp, nil
}

func addLine(p *plot.Plot, name string, pts plotter.XYs, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s line: %w", name, err)
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}
