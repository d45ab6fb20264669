// Package report turns cost traces into summaries and plots. It sits
// outside the optimizer core so the driver itself performs no I/O.
package report

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/varifit/varifit/internal/opt"
)

// Summary condenses a cost trace for logging and status output.
type Summary struct {
	Iterations    int
	InitialCost   float64
	FinalCost     float64
	BestCost      float64
	BestIteration int

	// TailMean and TailStdDev describe the trailing window of the trace;
	// a near-zero stddev indicates the run plateaued.
	TailMean   float64
	TailStdDev float64
}

// Summarize computes a Summary over the trace. tail is the size of the
// trailing window; values below 1 or beyond the trace length clamp to the
// whole trace. An empty trace yields a zero Summary.
func Summarize(trace opt.Trace, tail int) Summary {
	if len(trace) == 0 {
		return Summary{}
	}

	bestIdx, bestCost := trace.Best()

	if tail < 1 || tail > len(trace) {
		tail = len(trace)
	}
	window := []float64(trace[len(trace)-tail:])
	mean, std := stat.MeanStdDev(window, nil)
	if tail == 1 {
		std = 0
	}

	return Summary{
		Iterations:    len(trace),
		InitialCost:   trace[0],
		FinalCost:     trace[len(trace)-1],
		BestCost:      bestCost,
		BestIteration: bestIdx,
		TailMean:      mean,
		TailStdDev:    std,
	}
}

// Improvement returns the absolute cost reduction over the run.
func (s Summary) Improvement() float64 {
	return s.InitialCost - s.BestCost
}

func tracePlot(trace opt.Trace, title string) (*plot.Plot, error) {
	if len(trace) == 0 {
		return nil, fmt.Errorf("cannot plot an empty trace")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "cost"

	pts := make(plotter.XYs, len(trace))
	for i, c := range trace {
		pts[i] = plotter.XY{X: float64(i), Y: c}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Add(plotter.NewGrid())

	return p, nil
}

// PlotTrace renders the cost-vs-iteration curve to a PNG file at path.
func PlotTrace(trace opt.Trace, title, path string) error {
	p, err := tracePlot(trace, title)
	if err != nil {
		return err
	}

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save trace plot: %w", err)
	}
	return nil
}

// RenderTrace writes the cost-vs-iteration curve as PNG bytes to w, for
// HTTP responses.
func RenderTrace(w io.Writer, trace opt.Trace, title string) error {
	p, err := tracePlot(trace, title)
	if err != nil {
		return err
	}

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to build PNG writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write PNG: %w", err)
	}
	return nil
}
