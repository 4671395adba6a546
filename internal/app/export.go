package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/xuri/excelize/v2"

	"market-intel/internal/storage"
)

const xlsxSheet = "Sheet1"

var outcomeHeader = []string{
	"position", "item_id", "status", "refreshed", "average_sold_price", "suggested_price",
	"sample_size", "flag_status", "flag_pct", "checked_at", "error",
}

// Export renders the outcomes of a run as CSV, PNG and/or XLSX. The latest
// run is used when no run id is given.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.XLSXPath == "" {
		return errors.New("at least one of --csv, --png or --xlsx must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	runID := opts.RunID
	if runID == "" {
		runID, err = store.LatestRunID(ctx)
		if err != nil {
			return err
		}
	}

	outcomes, err := store.ListRunOutcomes(ctx, runID)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		a.Logger.Info().Str("run_id", runID).Msg("no outcomes found for run")
		return nil
	}

	return a.exportOutcomes(runID, outcomes, opts)
}

func (a *App) exportOutcomes(runID string, outcomes []storage.OutcomeRecord, opts ExportOptions) error {
	a.Logger.Info().Str("run_id", runID).Int("total", len(outcomes)).Msg("exporting outcomes")

	if opts.CSVPath != "" {
		if err := writeOutcomesCSV(opts.CSVPath, outcomes); err != nil {
			return err
		}
	}

	if opts.XLSXPath != "" {
		if err := writeOutcomesXLSX(opts.XLSXPath, outcomes); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		flagged := withFlagPct(outcomes)
		if len(flagged) == 0 {
			a.Logger.Warn().Str("run_id", runID).Msg("no flagged outcomes to chart")
			return nil
		}
		if err := writeOutcomesPNG(opts.PNGPath, runID, downsample(flagged, opts.MaxPoints)); err != nil {
			return err
		}
	}

	return nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[:1]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func withFlagPct(outcomes []storage.OutcomeRecord) []storage.OutcomeRecord {
	flagged := make([]storage.OutcomeRecord, 0, len(outcomes))
	for _, o := range outcomes {
		if o.FlagPct != nil && o.FlagStatus != nil && *o.FlagStatus != "unknown" {
			flagged = append(flagged, o)
		}
	}
	return flagged
}

func outcomeRow(o storage.OutcomeRecord) []string {
	row := make([]string, len(outcomeHeader))
	row[0] = strconv.Itoa(o.Position)
	row[1] = o.ItemID
	row[2] = o.Status
	row[3] = strconv.FormatBool(o.Refreshed)
	if o.AverageSoldPrice != nil {
		row[4] = o.AverageSoldPrice.String()
	}
	if o.SuggestedPrice != nil {
		row[5] = o.SuggestedPrice.String()
	}
	if o.SampleSize != nil {
		row[6] = strconv.Itoa(*o.SampleSize)
	}
	if o.FlagStatus != nil {
		row[7] = *o.FlagStatus
	}
	if o.FlagPct != nil {
		row[8] = strconv.FormatInt(*o.FlagPct, 10)
	}
	if o.CheckedAt != nil {
		row[9] = o.CheckedAt.UTC().Format(time.RFC3339)
	}
	if o.Error != nil {
		row[10] = *o.Error
	}
	return row
}

func writeOutcomesCSV(path string, outcomes []storage.OutcomeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(outcomeHeader); err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := writer.Write(outcomeRow(o)); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeOutcomesXLSX(path string, outcomes []storage.OutcomeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(outcomeHeader))
	for i, h := range outcomeHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create xlsx style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(outcomeHeader))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(xlsxSheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("style xlsx header: %w", err)
	}

	for i, o := range outcomes {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(xlsxSheet, cell, xlsxRow(o)); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", i+1, err)
		}
	}

	return f.SaveAs(path)
}

// xlsxRow keeps numbers numeric so the sheet can be sorted and summed.
func xlsxRow(o storage.OutcomeRecord) *[]interface{} {
	text := outcomeRow(o)
	row := make([]interface{}, len(text))
	for i, v := range text {
		row[i] = v
	}
	row[0] = o.Position
	row[3] = o.Refreshed
	if o.AverageSoldPrice != nil {
		row[4] = o.AverageSoldPrice.InexactFloat64()
	}
	if o.SuggestedPrice != nil {
		row[5] = o.SuggestedPrice.InexactFloat64()
	}
	if o.SampleSize != nil {
		row[6] = *o.SampleSize
	}
	if o.FlagPct != nil {
		row[8] = *o.FlagPct
	}
	return &row
}

func writeOutcomesPNG(path, runID string, outcomes []storage.OutcomeRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	bars := make([]chart.Value, len(outcomes))
	for i, o := range outcomes {
		bars[i] = chart.Value{
			Label: o.ItemID,
			Value: float64(*o.FlagPct),
			Style: barStyle(*o.FlagStatus),
		}
	}

	width, spacing := barLayout(len(bars))
	graph := chart.BarChart{
		Title:        "Price deviation from market average (%) run " + runID,
		Width:        1280,
		Height:       720,
		BarWidth:     width,
		BarSpacing:   spacing,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f%%")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// barLayout splits the plot width between n bars and their gaps.
func barLayout(n int) (width, spacing int) {
	slot := 1100 / n
	width = min(max(slot*2/3, 2), 60)
	spacing = min(max(slot-width, 1), 40)
	return width, spacing
}

func barStyle(status string) chart.Style {
	color := chart.ColorBlue
	switch status {
	case "overpriced":
		color = chart.ColorRed
	case "underpriced":
		color = chart.ColorGreen
	}
	return chart.Style{FillColor: color, StrokeColor: color, StrokeWidth: 1}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
