package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"brokerlink/internal/apperr"
	"brokerlink/internal/metrics"
)

// Compile-time interface check.
var _ Pilot = (*PilotClient)(nil)

// PilotOptions configures NewPilotClient.
type PilotOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // 0 disables the transport timeout
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// PilotClient calls the PortfolioPilot REST API. Every call is a GET with
// the API key and the JSON-encoded weights in the query string.
type PilotClient struct {
	apiKey  string
	http    *resty.Client
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewPilotClient creates a client for the PortfolioPilot API at
// opts.BaseURL.
func NewPilotClient(opts PilotOptions) (*PilotClient, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing portfolio pilot url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("portfolio pilot url %q must be absolute", opts.BaseURL)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}
	return &PilotClient{apiKey: opts.APIKey, http: hc, metrics: opts.Metrics, log: log}, nil
}

// Score implements Pilot.
func (p *PilotClient) Score(ctx context.Context, w Weights) (*Score, error) {
	var out Score
	if err := p.get(ctx, "portfolio_score", "/get_portfolio_score", w, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PerformanceStats implements Pilot.
func (p *PilotClient) PerformanceStats(ctx context.Context, w Weights) (*PerformanceStats, error) {
	var out PerformanceStats
	if err := p.get(ctx, "portfolio_performance_stats", "/get_portfolio_performance_stats", w, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Assessment implements Pilot. An empty targetRisk is not sent.
func (p *PilotClient) Assessment(ctx context.Context, w Weights, targetRisk string) (*Assessment, error) {
	var extra map[string]string
	if targetRisk != "" {
		extra = map[string]string{"target_risk": targetRisk}
	}
	var out Assessment
	if err := p.get(ctx, "portfolio_assessment", "/get_portfolio_assessment", w, extra, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Insights implements Pilot.
func (p *PilotClient) Insights(ctx context.Context, w Weights) (*Insight, error) {
	var out Insight
	if err := p.get(ctx, "portfolio_insights", "/get_portfolio_insights", w, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DailyInsights implements Pilot.
func (p *PilotClient) DailyInsights(ctx context.Context) (*Insight, error) {
	var out Insight
	if err := p.get(ctx, "daily_insights", "/get_daily_insights", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *PilotClient) get(ctx context.Context, op, path string, w Weights, extra map[string]string, out any) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.ObserveBackend(op, err, time.Since(start))
	}()

	req := p.http.R().
		SetContext(ctx).
		SetQueryParam("api_key", p.apiKey).
		SetQueryParams(extra)
	if w != nil {
		raw, err := json.Marshal(w)
		if err != nil {
			return &apperr.OperationError{Op: op, Err: fmt.Errorf("encoding portfolio: %w", err)}
		}
		req.SetQueryParam("portfolio_dict", string(raw))
	}

	resp, err := req.Get(path)
	if err != nil {
		return &apperr.OperationError{Op: op, Err: err}
	}
	p.log.Debug("portfolio pilot call", "op", op, "status", resp.StatusCode(), "elapsed", time.Since(start))

	if resp.IsError() {
		return &apperr.OperationError{
			Op:     op,
			Status: http.StatusBadGateway,
			Msg:    fmt.Sprintf("Portfolio analysis failed with status %d", resp.StatusCode()),
		}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &apperr.OperationError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
