package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/httputil"
)

// maxChartScanPoints caps the scan series so the page stays small.
const maxChartScanPoints = 4000

// RenderChart writes an HTML scatter of the trajectory and the latest scan,
// both in the world frame, to w.
func (m *Monitor) RenderChart(w io.Writer) error {
	traj := m.Trajectory()
	scan := m.LatestScan()

	trajData := make([]opts.ScatterData, 0, len(traj))
	extent := 0.0
	for _, p := range traj {
		trajData = append(trajData, opts.ScatterData{Value: []interface{}{p.Pose.X, p.Pose.Y, float64(p.Seq)}})
		extent = math.Max(extent, math.Max(math.Abs(p.Pose.X), math.Abs(p.Pose.Y)))
	}

	stride := 1
	if scan.Len() > maxChartScanPoints {
		stride = int(math.Ceil(float64(scan.Len()) / float64(maxChartScanPoints)))
	}
	scanData := make([]opts.ScatterData, 0, scan.Len()/stride+1)
	for i := 0; i < scan.Len(); i += stride {
		p := scan.At(i)
		scanData = append(scanData, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		extent = math.Max(extent, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}

	// symmetric axes keep the plot square
	pad := extent * 1.05
	if pad == 0 {
		pad = 1.0
	}

	var pose geom.Pose2d
	if len(traj) > 0 {
		pose = traj[len(traj)-1].Pose
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan-matching odometry", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Trajectory",
			Subtitle: fmt.Sprintf("poses=%d scan=%d stride=%d pose=(%.3f, %.3f, %.3f)", len(trajData), len(scanData), stride, pose.X, pose.Y, pose.Theta),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("scan", scanData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
	scatter.AddSeries("trajectory", trajData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	return scatter.Render(w)
}

func (m *Monitor) handleChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := m.RenderChart(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
