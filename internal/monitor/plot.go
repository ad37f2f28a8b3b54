package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/icp"
)

// ErrNothingToPlot is returned when every series of a plot is empty.
var ErrNothingToPlot = errors.New("nothing to plot")

func cloudXYs(c geom.PointCloud) plotter.XYs {
	xys := make(plotter.XYs, 0, c.Len())
	for _, p := range c.All() {
		xys = append(xys, plotter.XY{X: p.X, Y: p.Y})
	}
	return xys
}

func newScatter(xys plotter.XYs, c color.Color, radius vg.Length) (*plotter.Scatter, error) {
	s, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = radius
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	return s, nil
}

func placeLegend(p *plot.Plot) {
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
}

func save(p *plot.Plot, w, h vg.Length, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	logf("wrote %s", path)
	return nil
}

// SaveAlignmentPlot draws the model, the raw scene and the scene mapped by
// res onto the model, and writes it to path as a PNG.
func SaveAlignmentPlot(path string, scene, model geom.PointCloud, res icp.Result) error {
	if scene.IsEmpty() && model.IsEmpty() {
		return ErrNothingToPlot
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Alignment: %s after %d iterations, mse=%.3g", res.State, res.Iterations, res.Error)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	colors := generateColors(3)
	series := []struct {
		name  string
		cloud geom.PointCloud
	}{
		{"model", model},
		{"scene", scene},
		{"aligned", scene.Transform(res.Pose, res.Scale)},
	}
	for i, s := range series {
		if s.cloud.IsEmpty() {
			continue
		}
		sc, err := newScatter(cloudXYs(s.cloud), colors[i], vg.Points(1.5))
		if err != nil {
			return err
		}
		p.Add(sc)
		p.Legend.Add(s.name, sc)
	}
	placeLegend(p)
	return save(p, 8*vg.Inch, 8*vg.Inch, path)
}

// SaveTrajectoryPlot draws the path through traj and writes it to path as a
// PNG.
func SaveTrajectoryPlot(path string, traj []TrajectoryPoint) error {
	if len(traj) == 0 {
		return ErrNothingToPlot
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory (%d poses)", len(traj))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(traj))
	for i, tp := range traj {
		pts[i] = plotter.XY{X: tp.Pose.X, Y: tp.Pose.Y}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	colors := generateColors(2)
	line.Color = colors[0]
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("path", line)

	ends, err := newScatter(plotter.XYs{pts[0], pts[len(pts)-1]}, colors[1], vg.Points(3))
	if err != nil {
		return err
	}
	p.Add(ends)
	p.Legend.Add("start/end", ends)

	placeLegend(p)
	return save(p, 8*vg.Inch, 8*vg.Inch, path)
}

// SaveConvergencePlot draws the error history of each result, one line per
// alignment, and writes it to path as a PNG.
func SaveConvergencePlot(path string, results []icp.Result) error {
	p := plot.New()
	p.Title.Text = "ICP convergence"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Mean squared error (m²)"

	colors := generateColors(len(results))
	drawn := 0
	for i, res := range results {
		if len(res.ErrorHistory) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(res.ErrorHistory))
		for j, e := range res.ErrorHistory {
			pts[j] = plotter.XY{X: float64(j + 1), Y: e}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		drawn++
	}
	if drawn == 0 {
		return ErrNothingToPlot
	}
	return save(p, 14*vg.Inch, 6*vg.Inch, path)
}

// generateColors spreads n colors evenly around the hue circle.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL in [0,1] to 8-bit RGB.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
