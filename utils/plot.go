package utils

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotConvergence writes residual histories on a log scale. Non-positive
// entries are skipped since they cannot be shown on a log axis.
func PlotConvergence(fileName, title string, histories map[string][]float64) (err error) {
	var (
		p     = plot.New()
		names = make([]string, 0, len(histories))
		drawn int
	)
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "residual norm"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	for name := range histories {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		pts := make(plotter.XYs, 0, len(histories[name]))
		for it, r := range histories[name] {
			if r > 0 {
				pts = append(pts, plotter.XY{X: float64(it), Y: r})
			}
		}
		if len(pts) == 0 {
			continue
		}
		var line *plotter.Line
		if line, err = plotter.NewLine(pts); err != nil {
			return
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
		drawn++
	}
	if drawn == 0 {
		return fmt.Errorf("no positive residual values to plot in %q", title)
	}
	return p.Save(6*vg.Inch, 4*vg.Inch, fileName)
}
