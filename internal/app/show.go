package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"bond-screener/internal/bonds"
	"bond-screener/internal/filter"
	"bond-screener/internal/loader"
)

// column renders one list field.
type column struct {
	field  string
	render func(bonds.ListRecord) string
}

var listColumns = []column{
	{"SECID", func(r bonds.ListRecord) string { return r.SecID }},
	{"BOARDID", func(r bonds.ListRecord) string { return r.BoardID }},
	{"SHORTNAME", func(r bonds.ListRecord) string { return r.ShortName }},
	{"COUPONPERCENT", func(r bonds.ListRecord) string { return formatFloat(r.CouponPercent, 2) }},
	{"COUPONVALUE", func(r bonds.ListRecord) string { return formatFloat(r.CouponValue, 2) }},
	{"COUPON_TYPE", func(r bonds.ListRecord) string { return string(r.CouponType) }},
	{"YIELDATPREVWAPRICE", func(r bonds.ListRecord) string { return formatFloat(r.YieldAtPrevWAPrice, 2) }},
	{"PREVPRICE", func(r bonds.ListRecord) string { return formatFloat(r.PrevPrice, 2) }},
	{"DURATION", func(r bonds.ListRecord) string { return formatFloat(r.Duration, 0) }},
	{"MATDATE", func(r bonds.ListRecord) string { return formatDate(r.MatDate) }},
	{"FACEUNIT", func(r bonds.ListRecord) string { return r.FaceUnit }},
	{"LISTLEVEL", func(r bonds.ListRecord) string { return formatInt(r.ListLevel) }},
	{"BONDTYPE", func(r bonds.ListRecord) string { return r.BondType }},
	{"RATING_LEVEL", func(r bonds.ListRecord) string { return r.RatingLevel }},
	{"RATING_AGENCY", func(r bonds.ListRecord) string { return r.RatingAgency }},
}

// Show prints the screened bond list.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if err := opts.Criteria.Validate(); err != nil {
		return err
	}

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
		fmt.Fprintln(a.Out, "no bonds match")
		return nil
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	titles := a.columnTitles(ctx, s.loader)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	header := make([]string, len(listColumns))
	for i, c := range listColumns {
		header[i] = titles(c.field)
	}
	fmt.Fprintln(writer, strings.Join(header, "\t"))

	row := make([]string, len(listColumns))
	for _, r := range matched {
		for i, c := range listColumns {
			row[i] = sanitizeInline(c.render(r))
		}
		fmt.Fprintln(writer, strings.Join(row, "\t"))
	}
	return writer.Flush()
}

// Options prints the distinct values usable in set filters.
func (a *App) Options(ctx context.Context) error {
	s, err := a.newServices(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	opts, err := s.loader.FilterOptions(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(opts)
}

// Runs prints the latest refresh runs from the ledger.
func (a *App) Runs(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; no refresh ledger")
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no refresh runs recorded")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tKind\tStatus\tTotal\tUpdated\tErrors\tSkipped\tError")
	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Kind,
			run.Status,
			run.Total,
			run.Updated,
			run.Errors,
			run.Skipped,
			errMsg,
		)
	}
	return writer.Flush()
}

// columnTitles prefers the exchange's short titles and falls back to the
// field name when the mapping document is unavailable.
func (a *App) columnTitles(ctx context.Context, l *loader.Loader) func(string) string {
	mapping, err := l.ColumnMapping(ctx)
	if err != nil {
		a.Logger.Debug().Err(err).Msg("column mapping unavailable")
	}
	return func(field string) string {
		if title := mapping[field]; title != "" {
			return title
		}
		return field
	}
}

func formatFloat(v *float64, places int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', places, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(bonds.DateLayout)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
