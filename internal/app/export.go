package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart/v2"

	"bond-screener/internal/bonds"
	"bond-screener/internal/filter"
)

// Export writes the screened list as CSV and/or a yield-duration PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if err := opts.Criteria.Validate(); err != nil {
		return err
	}
	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	s, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	list, err := s.loader.ListRecords(ctx)
	if err != nil {
		return err
	}
	matched := filter.Apply(list, opts.Criteria)
	if len(matched) == 0 {
		a.Logger.Info().Msg("no bonds match the export filter")
		return nil
	}
	if len(matched) > opts.MaxRows {
		matched = matched[:opts.MaxRows]
	}
	a.Logger.Info().Int("total", len(list)).Int("exported", len(matched)).Msg("exporting bonds")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeListCSV(w, matched) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeYieldChart(w, matched) }); err != nil {
			return err
		}
	}
	return nil
}

func writeListCSV(w io.Writer, records []bonds.ListRecord) error {
	writer := csv.NewWriter(w)

	header := make([]string, len(listColumns))
	for i, c := range listColumns {
		header[i] = c.field
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	row := make([]string, len(listColumns))
	for _, r := range records {
		for i, c := range listColumns {
			row[i] = c.render(r)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// yieldPoints pairs duration in years with yield, fixed and floating
// coupons apart. Records missing either value are left out.
func yieldPoints(records []bonds.ListRecord) map[bonds.CouponRegime][2][]float64 {
	points := make(map[bonds.CouponRegime][2][]float64)
	for _, r := range records {
		if r.Duration == nil || r.YieldAtPrevWAPrice == nil {
			continue
		}
		p := points[r.CouponType]
		p[0] = append(p[0], *r.Duration/365)
		p[1] = append(p[1], *r.YieldAtPrevWAPrice)
		points[r.CouponType] = p
	}
	return points
}

func writeYieldChart(w io.Writer, records []bonds.ListRecord) error {
	points := yieldPoints(records)
	if len(points) == 0 {
		return errors.New("no bonds with both duration and yield to chart")
	}

	series := make([]chart.Series, 0, len(points))
	for _, regime := range []bonds.CouponRegime{bonds.RegimeFixed, bonds.RegimeFloating, ""} {
		p, ok := points[regime]
		if !ok {
			continue
		}
		name := string(regime)
		if name == "" {
			name = "unknown"
		}
		series = append(series, chart.ContinuousSeries{
			Name:    name,
			XValues: p[0],
			YValues: p[1],
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    3,
			},
		})
	}

	formatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Duration (years)",
			ValueFormatter: formatter,
		},
		YAxis: chart.YAxis{
			Name:           "Yield (%)",
			ValueFormatter: formatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
