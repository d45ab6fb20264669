package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varifit/varifit/internal/opt"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	trace := opt.Trace{10, 5, 2, 1, 1.5}
	s := Summarize(trace, 3)

	assert.Equal(t, 5, s.Iterations)
	assert.Equal(t, 10.0, s.InitialCost)
	assert.Equal(t, 1.5, s.FinalCost)
	assert.Equal(t, 1.0, s.BestCost)
	assert.Equal(t, 3, s.BestIteration)
	assert.InDelta(t, (2.0+1.0+1.5)/3, s.TailMean, 1e-12)
	assert.Equal(t, 9.0, s.Improvement())
}

func TestSummarizeEmptyTrace(t *testing.T) {
	t.Parallel()

	s := Summarize(opt.Trace{}, 10)
	assert.Zero(t, s.Iterations)
	assert.Zero(t, s.BestCost)
}

func TestSummarizeTailClamping(t *testing.T) {
	t.Parallel()

	trace := opt.Trace{4, 3, 2}

	// Oversized and non-positive tails clamp to the whole trace.
	whole := Summarize(trace, 100)
	assert.InDelta(t, 3.0, whole.TailMean, 1e-12)

	zero := Summarize(trace, 0)
	assert.Equal(t, whole.TailMean, zero.TailMean)

	single := Summarize(trace, 1)
	assert.Equal(t, 2.0, single.TailMean)
	assert.Zero(t, single.TailStdDev)
}

func TestPlotTraceWritesPNG(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "trace.png")
	trace := opt.Trace{5, 3, 2, 1.2, 0.9, 0.85}

	require.NoError(t, PlotTrace(trace, "test run", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPlotTraceEmpty(t *testing.T) {
	t.Parallel()

	err := PlotTrace(opt.Trace{}, "empty", filepath.Join(t.TempDir(), "x.png"))
	assert.Error(t, err)
}

func TestRenderTrace(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, RenderTrace(&buf, opt.Trace{3, 2, 1}, "render"))

	// PNG magic header.
	require.Greater(t, buf.Len(), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, buf.Bytes()[:4])
}
