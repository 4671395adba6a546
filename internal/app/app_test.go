package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"market-intel/internal/config"
	"market-intel/internal/market"
	"market-intel/internal/storage"
)

func newTestApp(baseURL string) (*App, *bytes.Buffer) {
	cfg := &config.Config{
		Source: config.SourceConfig{BaseURL: baseURL, SearchPath: "/api/sold", Timeout: time.Second},
		Reconcile: config.ReconcileConfig{
			Concurrency:   2,
			SampleBound:   5,
			BatchSize:     10,
			SuggestFactor: 1,
		},
		Export: config.ExportConfig{MaxDataPoints: 50},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func ptr[T any](v T) *T { return &v }

func sampleOutcomes() []storage.OutcomeRecord {
	checked := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	return []storage.OutcomeRecord{
		{
			RunID: "run-1", Position: 0, ItemID: "a", Status: "succeeded", Refreshed: true,
			AverageSoldPrice: ptr(decimal.RequireFromString("120")), SuggestedPrice: ptr(decimal.RequireFromString("120")),
			SampleSize: ptr(3), FlagStatus: ptr("overpriced"), FlagPct: ptr(int64(25)), CheckedAt: &checked,
		},
		{
			RunID: "run-1", Position: 1, ItemID: "b", Status: "succeeded",
			AverageSoldPrice: ptr(decimal.RequireFromString("100")), SuggestedPrice: ptr(decimal.RequireFromString("100")),
			SampleSize: ptr(2), FlagStatus: ptr("underpriced"), FlagPct: ptr(int64(-30)), CheckedAt: &checked,
		},
		{RunID: "run-1", Position: 2, ItemID: "c", Status: "failed", Error: ptr("source unavailable: timeout")},
		{RunID: "run-1", Position: 3, ItemID: "d", Status: "succeeded", SampleSize: ptr(0), FlagStatus: ptr("unknown"), FlagPct: ptr(int64(0))},
	}
}

func TestDownsample(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	if got := downsample(items, 0); len(got) != 10 {
		t.Fatalf("max 0 must keep everything, got %d", len(got))
	}
	got := downsample(items, 4)
	want := []int{0, 3, 6, 9}
	if len(got) != len(want) {
		t.Fatalf("unexpected length %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("downsample = %v, want %v", got, want)
		}
	}
	if got := downsample(items, 1); len(got) != 1 || got[0] != 0 {
		t.Fatalf("max 1 = %v", got)
	}
}

func TestWithFlagPctSkipsUnknownAndFailed(t *testing.T) {
	flagged := withFlagPct(sampleOutcomes())
	if len(flagged) != 2 || flagged[0].ItemID != "a" || flagged[1].ItemID != "b" {
		t.Fatalf("unexpected flagged outcomes %+v", flagged)
	}
}

func TestWriteOutcomesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.csv")
	if err := writeOutcomesCSV(path, sampleOutcomes()); err != nil {
		t.Fatalf("writeOutcomesCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected header + 4 rows, got %d", len(records))
	}
	if records[1][1] != "a" || records[1][8] != "25" || records[1][9] != "2024-03-02T10:00:00Z" {
		t.Fatalf("unexpected first row %v", records[1])
	}
	if records[3][10] != "source unavailable: timeout" || records[3][4] != "" {
		t.Fatalf("unexpected failed row %v", records[3])
	}
}

func TestWriteOutcomesXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.xlsx")
	if err := writeOutcomesXLSX(path, sampleOutcomes()); err != nil {
		t.Fatalf("writeOutcomesXLSX: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected header + 4 rows, got %d", len(rows))
	}
	if rows[0][0] != "position" || rows[2][1] != "b" || rows[2][8] != "-30" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestWriteOutcomesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.png")
	if err := writeOutcomesPNG(path, "run-1", withFlagPct(sampleOutcomes())); err != nil {
		t.Fatalf("writeOutcomesPNG: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
}

func TestBarLayout(t *testing.T) {
	for _, n := range []int{1, 10, 120, 5000} {
		width, spacing := barLayout(n)
		if width < 2 || width > 60 || spacing < 1 || spacing > 40 {
			t.Fatalf("barLayout(%d) = %d, %d", n, width, spacing)
		}
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := newTestApp("http://localhost")
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected error without output paths")
	}
}

func TestStoreCommandsRequireDatabase(t *testing.T) {
	a, _ := newTestApp("http://localhost")
	ctx := context.Background()

	if err := a.Show(ctx, ShowOptions{Limit: 5}); err == nil {
		t.Fatal("show without database should fail")
	}
	if err := a.Reconcile(ctx, ReconcileOptions{IDs: []string{"a"}}); err == nil {
		t.Fatal("reconcile without database should fail")
	}
	if err := a.Reconcile(ctx, ReconcileOptions{}); err == nil {
		t.Fatal("reconcile without ids should fail")
	}
}

func TestClassify(t *testing.T) {
	a, out := newTestApp("http://localhost")
	if err := a.Classify(decimal.NewFromInt(150), decimal.NewFromInt(120)); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "overpriced (+25%)" {
		t.Fatalf("unexpected output %q", got)
	}
}

func soldServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"title":"Oak chair","price":"100","sold_date":"2024-02-01"},
			{"title":"Oak chair set","price":"120","sold_date":"2024-02-20","condition":"used"},
			{"title":"Oak chair","price":"140","sold_date":"2024-01-15"}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupPrintsTable(t *testing.T) {
	a, out := newTestApp(soldServer(t).URL)
	if err := a.Lookup(context.Background(), LookupOptions{Query: "oak chair"}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + 3 rows, got %q", out.String())
	}
	if !strings.Contains(lines[2], "120.00") || !strings.Contains(lines[2], "used") {
		t.Fatalf("unexpected row %q", lines[2])
	}
}

func TestLookupEstimate(t *testing.T) {
	a, out := newTestApp(soldServer(t).URL)
	if err := a.Lookup(context.Background(), LookupOptions{Query: "oak chair", Estimate: true}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	var snap market.Snapshot
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SampleSize != 3 || !snap.AverageSoldPrice.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.LastSoldDate == nil || !snap.LastSoldDate.Equal(time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last sold date %v", snap.LastSoldDate)
	}
}

func TestLookupBlankQuery(t *testing.T) {
	a, _ := newTestApp(soldServer(t).URL)
	err := a.Lookup(context.Background(), LookupOptions{Query: "   "})
	if err == nil || !strings.Contains(err.Error(), "invalid query") {
		t.Fatalf("expected invalid query error, got %v", err)
	}
}

func TestPrintReport(t *testing.T) {
	a, out := newTestApp("http://localhost")
	snap := market.Snapshot{AverageSoldPrice: decimal.NewFromInt(120), SampleSize: 3}
	report := market.Report{
		RunID: "run-1",
		Outcomes: []market.Outcome{
			{ItemID: "a", Status: market.OutcomeSucceeded, Refreshed: true, Snapshot: &snap,
				Flag: &market.PriceFlag{Status: market.FlagOverpriced, Percentage: 25}},
			{ItemID: "b", Status: market.OutcomeFailed, Error: "line one\nline two"},
		},
	}
	report.Tally()

	if err := a.printReport(report); err != nil {
		t.Fatalf("printReport: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "1 succeeded, 1 failed, 0 not attempted, 1 refreshed") {
		t.Fatalf("missing summary: %q", text)
	}
	if !strings.Contains(text, "line one line two") {
		t.Fatalf("error not sanitised: %q", text)
	}
}
