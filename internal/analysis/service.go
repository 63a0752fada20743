// Package analysis scores and assesses a portfolio through PortfolioPilot.
// A portfolio is a map of ticker to weight, given directly or derived from
// the positions of a linked account.
package analysis

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
)

// Weights maps a ticker to its share of the portfolio in percent, e.g.
// {"AAPL": 30, "GOOG": 70}.
type Weights map[string]float64

// Score is PortfolioPilot's overall portfolio rating.
type Score struct {
	PortfolioScore          float64  `json:"portfolio_score"`
	ScoreRemark             string   `json:"score_remark"`
	PercentileRank          float64  `json:"percentile_rank"`
	RiskMatchScore          *float64 `json:"risk_match_score"`
	SharpeRatioScore        float64  `json:"sharpe_ratio_score"`
	DownsideProtectionScore float64  `json:"downside_protection_score"`
}

// PerformanceStats are the portfolio's historical return figures.
type PerformanceStats struct {
	Returns     float64 `json:"returns"`
	Risk        float64 `json:"risk"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}

// Assessment is a free-text review of the portfolio.
type Assessment struct {
	Assessment string `json:"assessment"`
}

// Insight is one market or portfolio insight.
type Insight struct {
	Insight     string `json:"insight"`
	Timestamp   string `json:"timestamp"`
	Category    string `json:"category"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description"`
	Tickers     string `json:"tickers"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Pilot is the PortfolioPilot API.
type Pilot interface {
	Score(ctx context.Context, w Weights) (*Score, error)
	PerformanceStats(ctx context.Context, w Weights) (*PerformanceStats, error)
	Assessment(ctx context.Context, w Weights, targetRisk string) (*Assessment, error)
	Insights(ctx context.Context, w Weights) (*Insight, error)
	DailyInsights(ctx context.Context) (*Insight, error)
}

// Portfolio names what to analyse: explicit Weights, or else the positions
// of AccountID read with Identity.
type Portfolio struct {
	Weights   Weights
	Identity  domain.Identity
	AccountID string
}

// Service validates input, resolves account portfolios and forwards to
// PortfolioPilot.
type Service struct {
	pilot    Pilot
	accounts broker.Accounts
}

// NewService creates a Service. accounts may be nil, in which case only
// explicit weights are accepted.
func NewService(pilot Pilot, accounts broker.Accounts) *Service {
	return &Service{pilot: pilot, accounts: accounts}
}

// Score rates the portfolio.
func (s *Service) Score(ctx context.Context, p Portfolio) (*Score, error) {
	w, err := s.weights(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := s.pilot.Score(ctx, w)
	if err != nil {
		return nil, apperr.Operation("portfolio score", err)
	}
	return res, nil
}

// PerformanceStats returns the portfolio's return, risk and Sharpe ratio.
func (s *Service) PerformanceStats(ctx context.Context, p Portfolio) (*PerformanceStats, error) {
	w, err := s.weights(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := s.pilot.PerformanceStats(ctx, w)
	if err != nil {
		return nil, apperr.Operation("portfolio performance stats", err)
	}
	return res, nil
}

// Assessment reviews the portfolio, against targetRisk when it is set.
func (s *Service) Assessment(ctx context.Context, p Portfolio, targetRisk string) (*Assessment, error) {
	w, err := s.weights(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := s.pilot.Assessment(ctx, w, strings.TrimSpace(targetRisk))
	if err != nil {
		return nil, apperr.Operation("portfolio assessment", err)
	}
	return res, nil
}

// Insights returns an insight specific to the portfolio.
func (s *Service) Insights(ctx context.Context, p Portfolio) (*Insight, error) {
	w, err := s.weights(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := s.pilot.Insights(ctx, w)
	if err != nil {
		return nil, apperr.Operation("portfolio insights", err)
	}
	return res, nil
}

// DailyInsights returns the insight of the day. It needs no portfolio.
func (s *Service) DailyInsights(ctx context.Context) (*Insight, error) {
	res, err := s.pilot.DailyInsights(ctx)
	if err != nil {
		return nil, apperr.Operation("daily insights", err)
	}
	return res, nil
}

func (s *Service) weights(ctx context.Context, p Portfolio) (Weights, error) {
	if len(p.Weights) > 0 {
		return cleanWeights(p.Weights)
	}
	if strings.TrimSpace(p.AccountID) == "" || s.accounts == nil {
		return nil, apperr.MissingFields("portfolio_dict or accountId")
	}
	if strings.TrimSpace(p.Identity.UserID) == "" || p.Identity.UserSecret == "" {
		return nil, apperr.MissingFields("userId", "userSecret")
	}
	h, err := s.accounts.GetHoldings(ctx, p.Identity, strings.TrimSpace(p.AccountID))
	if err != nil {
		return nil, apperr.Operation("get holdings", err)
	}
	w := WeightsFromHoldings(h)
	if len(w) == 0 {
		return nil, apperr.Validation("The account has no positions to analyze")
	}
	return w, nil
}

func cleanWeights(in Weights) (Weights, error) {
	out := make(Weights, len(in))
	for ticker, weight := range in {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			return nil, apperr.Validation("portfolio_dict has an empty ticker")
		}
		if weight < 0 {
			return nil, apperr.Validation("portfolio_dict weight of %s is negative", ticker)
		}
		out[ticker] += weight
	}
	return out, nil
}

// WeightsFromHoldings converts equity positions to percentage weights of
// their combined market value, rounded to two decimals. Option positions
// and positions without a positive market value are left out.
func WeightsFromHoldings(h *domain.Holdings) Weights {
	if h == nil {
		return nil
	}
	values := map[string]decimal.Decimal{}
	total := decimal.Zero
	for _, p := range h.Positions {
		ticker := strings.ToUpper(strings.TrimSpace(p.Symbol))
		if ticker == "" || !p.MarketValue.IsPositive() {
			continue
		}
		values[ticker] = values[ticker].Add(p.MarketValue)
		total = total.Add(p.MarketValue)
	}
	if total.IsZero() {
		return nil
	}
	w := make(Weights, len(values))
	hundred := decimal.NewFromInt(100)
	for ticker, v := range values {
		w[ticker] = v.Mul(hundred).DivRound(total, 2).InexactFloat64()
	}
	return w
}
