package metrics

import (
	"image/color"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Point is one value of a series.
type Point struct {
	Step  int
	Value float64
}

// History keeps every scalar in memory, grouped by phase and tag.
// It implements ScalarLogger through Phase.
type History struct {
	series map[string]map[string][]Point // phase -> tag -> points
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{series: make(map[string]map[string][]Point)}
}

// Phase returns a ScalarLogger recording into the named phase.
func (h *History) Phase(name string) ScalarLogger {
	return phaseHistory{h: h, phase: name}
}

// Series returns the points recorded for phase and tag.
func (h *History) Series(phase, tag string) []Point {
	return h.series[phase][tag]
}

// Phases returns the recorded phase names, sorted.
func (h *History) Phases() []string {
	names := make([]string, 0, len(h.series))
	for name := range h.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *History) add(phase, tag string, p Point) {
	tags, ok := h.series[phase]
	if !ok {
		tags = make(map[string][]Point)
		h.series[phase] = tags
	}
	tags[tag] = append(tags[tag], p)
}

type phaseHistory struct {
	h     *History
	phase string
}

func (p phaseHistory) ScalarSummary(tag string, value float64, step int) error {
	p.h.add(p.phase, tag, Point{Step: step, Value: value})
	return nil
}

var phaseColors = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
}

// Plot renders one line per phase for tag and saves it as a PNG.
func (h *History) Plot(tag, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = title
	p.Legend.Top = true

	for i, phase := range h.Phases() {
		series := h.Series(phase, tag)
		if len(series) == 0 {
			continue
		}
		points := make(plotter.XYs, len(series))
		for j, pt := range series {
			points[j] = plotter.XY{X: float64(pt.Step), Y: pt.Value}
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return errors.Wrapf(err, "plot %s %s", phase, tag)
		}
		line.Color = phaseColors[i%len(phaseColors)]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(phase, line)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}

// PlotAll writes loss.png and accuracy.png into dir.
func (h *History) PlotAll(dir string) error {
	if err := h.Plot("loss: ", "loss", filepath.Join(dir, "loss.png")); err != nil {
		return err
	}
	return h.Plot("accuracy: ", "accuracy", filepath.Join(dir, "accuracy.png"))
}
