package training

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// lineColor is the single series color of all metric plots.
var lineColor = color.RGBA{R: 30, G: 144, B: 255, A: 255} // dodger blue

// RenderPlots writes one PNG per tracked metric series into dir, named
// <expName>_<metric>.png, with the event index on the x axis.
func RenderPlots(dir, expName string, names []string, series map[string][]float64) error {
	if len(names) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("render plots: %w", err)
	}
	for _, name := range names {
		values := series[name]
		p := plot.New()
		p.X.Label.Text = "epoch"
		p.Y.Label.Text = name

		pts := make(plotter.XYs, len(values))
		for i, v := range values {
			pts[i].X = float64(i)
			pts[i].Y = v
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("render plots: %s: %w", name, err)
		}
		line.Color = lineColor
		p.Add(line)

		out := filepath.Join(dir, fmt.Sprintf("%s_%s.png", expName, name))
		if err := p.Save(6*vg.Inch, 4*vg.Inch, out); err != nil {
			return fmt.Errorf("render plots: %s: %w", name, err)
		}
	}
	return nil
}
