package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BRKME/LP/internal/scanner"
	"github.com/BRKME/LP/internal/store"
	"github.com/BRKME/LP/internal/token"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	Ready(map[string]Pinger{"postgres": ok, "redis": ok}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Ready(map[string]Pinger{"postgres": ok, "redis": down}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","failed":["redis"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Ready(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeRunner struct {
	run *scanner.Run
	err error
	got scanner.RunOptions
	cfg scanner.ServiceConfig
}

func (f *fakeRunner) RunOnce(_ context.Context, opts scanner.RunOptions) (*scanner.Run, error) {
	f.got = opts
	return f.run, f.err
}

func (f *fakeRunner) Config() scanner.ServiceConfig { return f.cfg }

func sampleRun() *scanner.Run {
	return &scanner.Run{
		ID:       "abc",
		Notified: true,
		Results: scanner.RankedResult{
			"arbitrum": {{
				PairLabel: "WETH-USDC",
				APRPct:    36.5,
				TVLUSD:    1_000_000,
				FeeSeries: []scanner.FeeDay{{FeesUSD: "1000"}},
			}},
		},
	}
}

func TestTriggerRun(t *testing.T) {
	r := &fakeRunner{run: sampleRun()}

	rec := httptest.NewRecorder()
	TriggerRun(r, time.Minute).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run?force=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, r.got.Force)

	var body struct {
		ID       string                      `json:"id"`
		Notified bool                        `json:"notified"`
		Total    int                         `json:"total"`
		Networks map[string][]map[string]any `json:"networks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "abc", body.ID)
	assert.True(t, body.Notified)
	assert.Equal(t, 1, body.Total)
	assert.NotContains(t, body.Networks["arbitrum"][0], "fee_series")
}

func TestTriggerRunConflict(t *testing.T) {
	r := &fakeRunner{err: scanner.ErrRunInProgress}

	rec := httptest.NewRecorder()
	TriggerRun(r, time.Minute).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, r.got.Force)
}

func TestTriggerRunDeliveryFailure(t *testing.T) {
	r := &fakeRunner{run: sampleRun(), err: errors.New("notify telegram: chat 1: forbidden")}

	rec := httptest.NewRecorder()
	TriggerRun(r, time.Minute).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/run", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "forbidden")
}

func TestScanConfig(t *testing.T) {
	r := &fakeRunner{cfg: scanner.ServiceConfig{
		Networks: []scanner.Network{{Name: "arbitrum", Chain: "Arbitrum"}},
		Filter: scanner.FilterConfig{
			MinTVLUSD:    300_000,
			MinAPRPct:    8,
			TopN:         15,
			TargetTokens: token.NewSet([]string{"USDC", "ETH"}),
		},
		Report: scanner.ReportOptions{Limit: 10},
	}}

	rec := httptest.NewRecorder()
	ScanConfig(r).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Filter struct {
			MinTVLUSD    float64  `json:"min_tvl_usd"`
			TopN         int      `json:"top_n"`
			TargetTokens []string `json:"target_tokens"`
		} `json:"filter"`
		ReportLimit int               `json:"report_limit"`
		Networks    []scanner.Network `json:"networks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 300_000.0, body.Filter.MinTVLUSD)
	assert.Equal(t, []string{"ETH", "USDC"}, body.Filter.TargetTokens)
	assert.Equal(t, 10, body.ReportLimit)
	assert.Equal(t, "Arbitrum", body.Networks[0].Chain)
}

type fakeRecipients struct {
	list    []store.Recipient
	listErr error
	removed []int64
}

func (f *fakeRecipients) ListRecipients(context.Context) ([]store.Recipient, error) {
	return f.list, f.listErr
}

func (f *fakeRecipients) RemoveRecipient(_ context.Context, chatID int64) error {
	for _, r := range f.list {
		if r.ChatID == chatID {
			f.removed = append(f.removed, chatID)
			return nil
		}
	}
	return store.ErrNotFound
}

func TestListRecipients(t *testing.T) {
	rec := httptest.NewRecorder()
	ListRecipients(&fakeRecipients{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recipients", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = httptest.NewRecorder()
	ListRecipients(&fakeRecipients{listErr: errors.New("db")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/recipients", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDeleteRecipient(t *testing.T) {
	rs := &fakeRecipients{list: []store.Recipient{{ChatID: 42}}}
	r := chi.NewRouter()
	r.Delete("/api/recipients/{chatID}", DeleteRecipient(rs))

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/recipients/42", http.StatusNoContent},
		{"/api/recipients/7", http.StatusNotFound},
		{"/api/recipients/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, tt.path, nil))
		assert.Equal(t, tt.wantStatus, rec.Code, tt.path)
	}
	assert.Equal(t, []int64{42}, rs.removed)
}
