package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-intel/internal/market"
	"market-intel/internal/reconcile"
)

type fakeEngine struct {
	lookupLimit int
	gotOpts     reconcile.Options
	gotIDs      []string
	err         error
}

func (f *fakeEngine) Lookup(_ context.Context, query string, limit int) ([]market.SoldItem, error) {
	f.lookupLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(query) == "" {
		return nil, market.ErrInvalidQuery
	}
	return []market.SoldItem{{
		Title:    "Oak chair",
		Price:    decimal.NewFromInt(100),
		SoldDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}}, nil
}

func (f *fakeEngine) Estimate(_ context.Context, query string, _ int) (market.Snapshot, error) {
	if f.err != nil {
		return market.Snapshot{}, f.err
	}
	return market.Snapshot{AverageSoldPrice: decimal.NewFromInt(120), SuggestedPrice: decimal.NewFromInt(120), SampleSize: 3}, nil
}

func (f *fakeEngine) Reconcile(_ context.Context, ids []string, opts reconcile.Options) (market.Report, error) {
	f.gotIDs = ids
	f.gotOpts = opts
	report := market.Report{RunID: "run-1"}
	for _, id := range ids {
		report.Outcomes = append(report.Outcomes, market.Outcome{ItemID: id, Status: market.OutcomeSucceeded})
	}
	report.Tally()
	return report, nil
}

type fakeRuns struct {
	trigger string
	saved   int
}

func (f *fakeRuns) SaveRun(_ context.Context, trigger string, _ market.Report) error {
	f.trigger = trigger
	f.saved++
	return nil
}

var defaultOpts = reconcile.Options{Concurrency: 2, TTL: time.Hour, SampleBound: 20}

func newTestRouter(engine Engine, runs RunRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(NewHandler(engine, runs, defaultOpts, zerolog.Nop()))
}

func do(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(&fakeEngine{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestComparables(t *testing.T) {
	engine := &fakeEngine{}
	r := newTestRouter(engine, nil)

	rec := do(t, r, http.MethodGet, "/api/v1/comparables?q=oak+chair&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, engine.lookupLimit)

	var body struct {
		Query string            `json:"query"`
		Count int               `json:"count"`
		Items []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "oak chair", body.Query)
	assert.Equal(t, 1, body.Count)

	rec = do(t, r, http.MethodGet, "/api/v1/comparables?q=oak", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultOpts.SampleBound, engine.lookupLimit)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target string
		want   int
	}{
		{name: "blank query", target: "/api/v1/comparables?q=+", want: http.StatusBadRequest},
		{name: "bad limit", target: "/api/v1/comparables?q=a&limit=0", want: http.StatusBadRequest},
		{name: "source down", err: fmt.Errorf("%w: timeout", market.ErrSourceUnavailable), target: "/api/v1/estimate?q=a", want: http.StatusBadGateway},
		{name: "other", err: fmt.Errorf("boom"), target: "/api/v1/estimate?q=a", want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeEngine{err: tc.err}, nil), http.MethodGet, tc.target, "")
			assert.Equal(t, tc.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestEstimate(t *testing.T) {
	rec := do(t, newTestRouter(&fakeEngine{}, nil), http.MethodGet, "/api/v1/estimate?q=oak", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap market.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 3, snap.SampleSize)
	assert.True(t, decimal.NewFromInt(120).Equal(snap.AverageSoldPrice))
}

func TestReconcile(t *testing.T) {
	engine := &fakeEngine{}
	runs := &fakeRuns{}
	r := newTestRouter(engine, runs)

	rec := do(t, r, http.MethodPost, "/api/v1/reconcile", `{"item_ids":["a","b"],"concurrency":5,"ttl":"6h"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a", "b"}, engine.gotIDs)
	assert.Equal(t, 5, engine.gotOpts.Concurrency)
	assert.Equal(t, 6*time.Hour, engine.gotOpts.TTL)
	assert.Equal(t, defaultOpts.SampleBound, engine.gotOpts.SampleBound)
	assert.Equal(t, 1, runs.saved)
	assert.Equal(t, TriggerAPI, runs.trigger)

	var report market.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "a", report.Outcomes[0].ItemID)
}

func TestReconcileRejectsBadRequests(t *testing.T) {
	r := newTestRouter(&fakeEngine{}, nil)
	for _, body := range []string{
		`not json`,
		`{"item_ids":[]}`,
		`{"item_ids":["a"],"ttl":"soon"}`,
		`{"item_ids":["a"],"concurrency":-1}`,
	} {
		rec := do(t, r, http.MethodPost, "/api/v1/reconcile", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestReconcileDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := &fakeEngine{}
	r := NewRouter(NewHandler(engine, nil, defaultOpts, zerolog.Nop()).WithoutReconcile())

	rec := do(t, r, http.MethodPost, "/api/v1/reconcile", `{"item_ids":["a"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Nil(t, engine.gotIDs)
}
