// Package report renders measured and planned temperature curves as HTML charts.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/itohio/goreflow/pkg/monitor"
	"github.com/itohio/goreflow/pkg/sample"
	"github.com/itohio/goreflow/pkg/session"
	"github.com/itohio/goreflow/pkg/trajectory"
)

// DefaultMaxPoints bounds each series so long sessions stay responsive in a browser.
const DefaultMaxPoints = 2000

// AssetsHost serves the echarts scripts. Override it for offline use.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Curves is what a chart shows. Times are oven elapsed seconds.
type Curves struct {
	Title    string
	Subtitle string
	Measured []sample.Point
	Planned  []sample.Point
}

// FromSnapshot takes the curves of a live monitor.
func FromSnapshot(s monitor.Snapshot) Curves {
	c := Curves{
		Title:    "Oven",
		Measured: s.Points,
		Planned:  s.Trajectory,
	}
	if s.Profile != "" {
		c.Title = "Oven: " + s.Profile
	}
	if s.Valid {
		c.Subtitle = fmt.Sprintf("T=%.1f °C peak=%.1f °C", s.Latest.Value, s.Peak)
	}
	return c
}

// FromTrajectory takes the planned curve of a bake that has not run yet.
func FromTrajectory(t trajectory.Trajectory) Curves {
	return Curves{
		Title:    "Plan: " + t.Profile,
		Subtitle: fmt.Sprintf("%d setpoints over %.0f s", t.Len(), t.Duration()),
		Planned:  sample.Points(t.Times, t.Temps),
	}
}

// SessionStore is the part of session.Recorder a report reads.
type SessionStore interface {
	Session(id string) (session.Session, error)
	Samples(id string) ([]sample.Point, error)
	Points(id string) ([]session.TrajectoryPoint, error)
}

var _ SessionStore = (*session.Recorder)(nil)

// FromSession loads the curves of a recorded session. The trajectory is shifted onto
// the sample time axis.
func FromSession(store SessionStore, id string) (Curves, error) {
	s, err := store.Session(id)
	if err != nil {
		return Curves{}, err
	}
	measured, err := store.Samples(id)
	if err != nil {
		return Curves{}, err
	}
	points, err := store.Points(id)
	if err != nil {
		return Curves{}, err
	}

	planned := make([]sample.Point, len(points))
	for i, p := range points {
		planned[i] = sample.Point{Time: s.StartElapsed + p.Time, Value: p.Temperature}
	}

	title := "Session " + s.ID
	if s.Profile != "" {
		title = s.Profile + " " + s.StartedAt.Local().Format("2006-01-02 15:04")
	}
	return Curves{
		Title:    title,
		Subtitle: fmt.Sprintf("%d samples, peak %.1f °C", s.Samples, s.Peak),
		Measured: measured,
		Planned:  planned,
	}, nil
}

// Chart builds a line chart of the curves, each downsampled to maxPoints.
func Chart(c Curves, maxPoints int) *charts.Line {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: c.Title, Width: "100%", Height: "640px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: c.Title, Subtitle: c.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "T (°C)"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)

	line.AddSeries("planned", lineData(c.Planned, maxPoints),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.AddSeries("measured", lineData(c.Measured, maxPoints),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func lineData(points []sample.Point, maxPoints int) []opts.LineData {
	points = sample.Downsample(nil, points, maxPoints)
	data := make([]opts.LineData, len(points))
	for i, p := range points {
		data[i] = opts.LineData{Value: []interface{}{p.Time, p.Value}}
	}
	return data
}

// Render writes a standalone HTML page with one chart per curve set.
func Render(w io.Writer, maxPoints int, curves ...Curves) error {
	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	for _, c := range curves {
		page.AddCharts(Chart(c, maxPoints))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}
