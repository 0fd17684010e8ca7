package sitepacer

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// ReportMode selects where a report goes.
type ReportMode string

const (
	ReportDisplay ReportMode = "display" // Text charts on standard output
	ReportSave    ReportMode = "save"    // PNG chart saved as ReportFileName under a directory
)

// ReportFileName is the image written in ReportSave mode.
const ReportFileName = "search_report.png"

// reportWidth is the number of columns a category chart is squeezed into.
const reportWidth = 64

// Size of one category panel in the saved chart.
const (
	panelWidth  = 8 * vg.Inch
	panelHeight = 3 * vg.Inch
)

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

// CategoryReport is a snapshot of one category for reporting.
type CategoryReport struct {
	Name         string
	Calibrated   bool
	BurnIn       int
	Baseline     Baseline
	Responses    []float64
	RollingMeans []float64
	Stats        Statistics
}

// Snapshot copies the reportable state of every category.
func (m *Monitor) Snapshot() []CategoryReport {
	states := m.registry.all()
	out := make([]CategoryReport, 0, len(states))
	for _, s := range states {
		b, ok := s.Baseline()
		out = append(out, CategoryReport{
			Name:         s.name,
			Calibrated:   ok,
			BurnIn:       s.BurnInCount(),
			Baseline:     b,
			Responses:    s.Responses(),
			RollingMeans: s.RollingMeans(),
			Stats:        CalculateStatistics(s.observations),
		})
	}
	return out
}

// Report renders the history of every category. In ReportSave mode the
// chart is saved as ReportFileName inside dir (the working directory when
// dir is empty); dir is ignored in ReportDisplay mode.
func (m *Monitor) Report(mode ReportMode, dir string) error {
	switch mode {
	case ReportDisplay:
		return m.WriteReport(os.Stdout)
	case ReportSave:
		path := filepath.Join(dir, ReportFileName)
		if err := m.SaveReport(path); err != nil {
			return err
		}
		m.logger.Info("report saved", "path", path)
		return nil
	default:
		return fmt.Errorf("%w: unknown report mode %q", ErrConfiguration, mode)
	}
}

// WriteReport renders the report to w.
//
// Each category gets a summary block and two charts over the same x axis:
// raw responses and rolling means, scaled between 0.8x the fastest response
// and 2x the control limit. The '|' marker on the axis line is the end of
// burn-in.
func (m *Monitor) WriteReport(w io.Writer) error {
	bw := bufio.NewWriter(w)

	snapshots := m.Snapshot()
	longest := 0
	for _, c := range snapshots {
		longest = max(longest, len(c.Responses))
	}

	fmt.Fprintf(bw, "sitepacer report: %d categories, burn-in %d\n", len(snapshots), m.cfg.BurnIn)
	for _, c := range snapshots {
		fmt.Fprintf(bw, "\n[%s] responses=%d", c.Name, len(c.Responses))
		if !c.Calibrated {
			fmt.Fprintf(bw, " burn-in %d/%d (uncalibrated)\n", c.BurnIn, m.cfg.BurnIn)
		} else {
			fmt.Fprintf(bw, " baseline avg=%.3f std=%.3f max=%.3f\n",
				c.Baseline.Avg, c.Baseline.Std, c.Baseline.Max)
		}
		if c.Stats.Count > 0 {
			fmt.Fprintf(bw, "  latency mean=%.3f std=%.3f p50=%.3f p95=%.3f p99=%.3f\n",
				c.Stats.Mean, c.Stats.Stddev, c.Stats.P50, c.Stats.P95, c.Stats.P99)
		}
		if longest == 0 {
			continue
		}

		lo, hi := chartRange(c)
		fmt.Fprintf(bw, "  responses %s\n", sparkline(c.Responses, 0, longest, lo, hi))
		if len(c.RollingMeans) > 0 {
			fmt.Fprintf(bw, "  rolling   %s\n", sparkline(c.RollingMeans, c.BurnIn, longest, lo, hi))
		}
		fmt.Fprintf(bw, "            %s\n", axis(c.BurnIn, longest))
	}
	fmt.Fprintf(bw, "\nNumber of responses: %d\n", longest)

	return bw.Flush()
}

// SaveReport renders one panel per category into a PNG at path. Responses
// are drawn as points and rolling means as a line. Dashed lines mark the end
// of burn-in and the control limit.
func (m *Monitor) SaveReport(path string) error {
	snapshots := m.Snapshot()
	longest := 0
	for _, c := range snapshots {
		longest = max(longest, len(c.Responses))
	}

	rows := max(len(snapshots), 1)
	plots := make([][]*plot.Plot, rows)
	if len(snapshots) == 0 {
		p := plot.New()
		p.Title.Text = "no responses"
		p.X.Min, p.X.Max = 0, 1
		p.Y.Min, p.Y.Max = 0, 1
		plots[0] = []*plot.Plot{p}
	}
	for i, c := range snapshots {
		p, err := categoryPanel(c, m.cfg.BurnIn, longest)
		if err != nil {
			return fmt.Errorf("plot %s: %w", c.Name, err)
		}
		plots[i] = []*plot.Plot{p}
	}

	img := vgimg.New(panelWidth, panelHeight*vg.Length(rows))
	dc := draw.New(img)
	canvases := plot.Align(plots, draw.Tiles{Rows: rows, Cols: 1, PadY: vg.Millimeter * 4}, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("encode report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}

func categoryPanel(c CategoryReport, burnIn, total int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = c.Name
	p.X.Label.Text = "response"
	p.Y.Label.Text = "latency (s)"
	p.Legend.Top = true

	if len(c.Responses) > 0 {
		sc, err := plotter.NewScatter(series(c.Responses, 0))
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		p.Add(sc)
		p.Legend.Add("responses", sc)
	}

	// Rolling means start after the burn-in observations.
	if len(c.RollingMeans) > 0 {
		l, err := plotter.NewLine(series(c.RollingMeans, c.BurnIn))
		if err != nil {
			return nil, err
		}
		l.LineStyle.Width = vg.Points(1.5)
		l.LineStyle.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		p.Add(l)
		p.Legend.Add("rolling mean", l)
	}

	lo, hi := chartRange(c)
	xMax := float64(max(total, 1))

	if burnIn > 0 && burnIn < total {
		l, err := dashed(plotter.XYs{{X: float64(burnIn), Y: lo}, {X: float64(burnIn), Y: hi}})
		if err != nil {
			return nil, err
		}
		p.Add(l)
	}
	if c.Calibrated {
		l, err := dashed(plotter.XYs{{X: 0, Y: c.Baseline.Max}, {X: xMax, Y: c.Baseline.Max}})
		if err != nil {
			return nil, err
		}
		p.Add(l)
		p.Legend.Add("baseline max", l)
	}

	p.X.Min, p.X.Max = 0, xMax
	p.Y.Min, p.Y.Max = lo, hi
	return p, nil
}

func series(values []float64, offset int) plotter.XYs {
	xys := make(plotter.XYs, len(values))
	for i, v := range values {
		xys[i].X = float64(offset + i)
		xys[i].Y = v
	}
	return xys
}

func dashed(xys plotter.XYs) (*plotter.Line, error) {
	l, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	l.LineStyle.Color = color.Gray{Y: 96}
	return l, nil
}

func chartRange(c CategoryReport) (lo, hi float64) {
	lo = math.Inf(1)
	for _, v := range c.Responses {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	lo *= 0.8
	if c.Calibrated && c.Baseline.Max > 0 {
		hi = c.Baseline.Max * 2
	}
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// sparkline draws values, which start at index offset of a series of total
// points, into reportWidth columns. Columns without data are blank.
func sparkline(values []float64, offset, total int, lo, hi float64) string {
	var sb strings.Builder
	for col := 0; col < reportWidth; col++ {
		from := col * total / reportWidth
		to := max((col+1)*total/reportWidth, from+1)

		var sum float64
		var n int
		for i := from; i < to && i < total; i++ {
			j := i - offset
			if j < 0 || j >= len(values) {
				continue
			}
			sum += values[j]
			n++
		}
		if n == 0 {
			sb.WriteRune(' ')
			continue
		}

		level := (sum/float64(n) - lo) / (hi - lo)
		idx := int(level * float64(len(sparkLevels)-1))
		idx = min(max(idx, 0), len(sparkLevels)-1)
		sb.WriteRune(sparkLevels[idx])
	}
	return strings.TrimRight(sb.String(), " ")
}

func axis(burnIn, total int) string {
	line := []rune(strings.Repeat("─", reportWidth))
	if burnIn > 0 && burnIn < total {
		line[burnIn*reportWidth/total] = '|'
	}
	return string(line)
}
