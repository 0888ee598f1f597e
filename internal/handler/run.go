package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/BRKME/LP/internal/scanner"
)

// Runner triggers scans and exposes their configuration.
type Runner interface {
	RunOnce(ctx context.Context, opts scanner.RunOptions) (*scanner.Run, error)
	Config() scanner.ServiceConfig
}

type runResponse struct {
	ID           string                               `json:"id"`
	StartedAt    time.Time                            `json:"started_at"`
	FinishedAt   time.Time                            `json:"finished_at"`
	Notified     bool                                 `json:"notified"`
	Deduplicated bool                                 `json:"deduplicated"`
	Total        int                                  `json:"total"`
	Networks     map[string][]scanner.PoolObservation `json:"networks"`
	Error        string                               `json:"error,omitempty"`
}

// TriggerRun runs a scan synchronously. The scan is detached from the
// request so a disconnecting client does not abort delivery.
func TriggerRun(svc Runner, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
		defer cancel()

		run, err := svc.RunOnce(ctx, scanner.RunOptions{Force: force})
		if errors.Is(err, scanner.ErrRunInProgress) {
			http.Error(w, `{"error":"scan already in progress"}`, http.StatusConflict)
			return
		}
		if run == nil {
			http.Error(w, `{"error":"scan failed"}`, http.StatusInternalServerError)
			return
		}

		resp := runResponse{
			ID:           run.ID,
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
			Notified:     run.Notified,
			Deduplicated: run.Deduplicated,
			Total:        run.Results.Total(),
			Networks:     withoutFeeSeries(run.Results),
		}
		status := http.StatusOK
		if err != nil {
			resp.Error = err.Error()
			status = http.StatusBadGateway
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func withoutFeeSeries(result scanner.RankedResult) map[string][]scanner.PoolObservation {
	out := make(map[string][]scanner.PoolObservation, len(result))
	for name, pools := range result {
		cp := make([]scanner.PoolObservation, len(pools))
		for i, p := range pools {
			p.FeeSeries = nil
			cp[i] = p
		}
		out[name] = cp
	}
	return out
}

// ScanConfig returns the effective filter and network list.
func ScanConfig(svc Runner) http.HandlerFunc {
	type filter struct {
		MinTVLUSD    float64  `json:"min_tvl_usd"`
		MinAPRPct    float64  `json:"min_apr_pct"`
		TopN         int      `json:"top_n"`
		TargetTokens []string `json:"target_tokens"`
	}
	type response struct {
		Filter      filter            `json:"filter"`
		ReportLimit int               `json:"report_limit"`
		Networks    []scanner.Network `json:"networks"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		cfg := svc.Config()
		targets := make([]string, 0, len(cfg.Filter.TargetTokens))
		for sym := range cfg.Filter.TargetTokens {
			targets = append(targets, sym)
		}
		sort.Strings(targets)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{
			Filter: filter{
				MinTVLUSD:    cfg.Filter.MinTVLUSD,
				MinAPRPct:    cfg.Filter.MinAPRPct,
				TopN:         cfg.Filter.TopN,
				TargetTokens: targets,
			},
			ReportLimit: cfg.Report.Limit,
			Networks:    cfg.Networks,
		})
	}
}
