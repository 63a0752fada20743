package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
	"brokerlink/internal/util"
)

// fakePilot serves canned PortfolioPilot answers and records each query.
type fakePilot struct {
	mu      sync.Mutex
	queries map[string]url.Values
	status  int
}

func newFakePilot(t *testing.T) (*fakePilot, *PilotClient) {
	t.Helper()
	f := &fakePilot{queries: map[string]url.Values{}, status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries[r.URL.Path] = r.URL.Query()
		status := f.status
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"detail":"bad key"}`)
			return
		}
		switch r.URL.Path {
		case "/get_portfolio_score":
			_, _ = io.WriteString(w, `{"portfolio_score":505.19,"score_remark":"Good","percentile_rank":11.73,"risk_match_score":null,"sharpe_ratio_score":60,"downside_protection_score":70}`)
		case "/get_portfolio_performance_stats":
			_, _ = io.WriteString(w, `{"returns":12.5,"risk":15.25,"sharpe_ratio":0.8}`)
		case "/get_portfolio_assessment":
			_, _ = io.WriteString(w, `{"assessment":"Well diversified."}`)
		case "/get_portfolio_insights", "/get_daily_insights":
			_, _ = io.WriteString(w, `{"insight":"Rates","timestamp":"2025-01-02","category":"macro","url":"https://example.com/i","description":"Rates fell.","tickers":"TLT","image_url":null}`)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewPilotClient(PilotOptions{BaseURL: srv.URL + "/", APIKey: "pilot-key", Timeout: 5 * time.Second, Logger: util.Discard()})
	require.NoError(t, err)
	return f, c
}

func (f *fakePilot) fail(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakePilot) query(path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[path]
}

func portfolioDict(t *testing.T, q url.Values) Weights {
	t.Helper()
	var w Weights
	require.NoError(t, json.Unmarshal([]byte(q.Get("portfolio_dict")), &w))
	return w
}

func TestNewPilotClientRejectsRelativeURL(t *testing.T) {
	_, err := NewPilotClient(PilotOptions{BaseURL: "/pilot"})
	assert.Error(t, err)
}

func TestPilotClientSendsKeyAndPortfolio(t *testing.T) {
	f, c := newFakePilot(t)
	ctx := context.Background()
	w := Weights{"AAPL": 30, "GOOG": 70}

	score, err := c.Score(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, 505.19, score.PortfolioScore)
	assert.Equal(t, "Good", score.ScoreRemark)
	assert.Nil(t, score.RiskMatchScore)

	q := f.query("/get_portfolio_score")
	assert.Equal(t, "pilot-key", q.Get("api_key"))
	assert.Equal(t, w, portfolioDict(t, q))

	_, err = c.Assessment(ctx, w, "")
	require.NoError(t, err)
	assert.False(t, f.query("/get_portfolio_assessment").Has("target_risk"))

	a, err := c.Assessment(ctx, w, "moderate")
	require.NoError(t, err)
	assert.Equal(t, "Well diversified.", a.Assessment)
	assert.Equal(t, "moderate", f.query("/get_portfolio_assessment").Get("target_risk"))

	daily, err := c.DailyInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TLT", daily.Tickers)
	assert.Empty(t, daily.ImageURL)
	assert.False(t, f.query("/get_daily_insights").Has("portfolio_dict"))
	assert.Equal(t, "pilot-key", f.query("/get_daily_insights").Get("api_key"))
}

func TestPilotClientUpstreamError(t *testing.T) {
	f, c := newFakePilot(t)
	f.fail(http.StatusUnauthorized)

	_, err := c.PerformanceStats(context.Background(), Weights{"AAPL": 100})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(err))
	assert.Equal(t, "Portfolio analysis failed with status 401", apperr.Message(err))
}

func TestWeightsFromHoldings(t *testing.T) {
	h := &domain.Holdings{
		Positions: []domain.Position{
			{Symbol: "aapl", MarketValue: decimal.NewFromInt(100)},
			{Symbol: "MSFT", MarketValue: decimal.NewFromInt(150)},
			{Symbol: "AAPL", MarketValue: decimal.NewFromInt(50)},
			{Symbol: "SHORT", MarketValue: decimal.NewFromInt(-20)},
			{Symbol: "", MarketValue: decimal.NewFromInt(10)},
		},
		OptionPositions: []domain.OptionPosition{{Ticker: "AAPL 250117C00150000", MarketValue: decimal.NewFromInt(999)}},
	}
	assert.Equal(t, Weights{"AAPL": 50, "MSFT": 50}, WeightsFromHoldings(h))

	h.Positions = append(h.Positions, domain.Position{Symbol: "VTI", MarketValue: decimal.NewFromInt(150)})
	assert.Equal(t, Weights{"AAPL": 33.33, "MSFT": 33.33, "VTI": 33.33}, WeightsFromHoldings(h))

	assert.Nil(t, WeightsFromHoldings(&domain.Holdings{}))
	assert.Nil(t, WeightsFromHoldings(nil))
}

func TestServiceValidatesBeforeCalling(t *testing.T) {
	f, c := newFakePilot(t)
	s := NewService(c, broker.NewSimulatorBroker(broker.SimulatorOptions{}))
	ctx := context.Background()

	_, err := s.Score(ctx, Portfolio{})
	assert.EqualError(t, err, "Missing required fields: portfolio_dict or accountId")

	_, err = s.Score(ctx, Portfolio{AccountID: "acc"})
	assert.EqualError(t, err, "Missing required fields: userId, userSecret")

	_, err = s.Score(ctx, Portfolio{Weights: Weights{"AAPL": -1}})
	assert.True(t, apperr.IsValidation(err))

	_, err = s.Score(ctx, Portfolio{Weights: Weights{" ": 1}})
	assert.True(t, apperr.IsValidation(err))

	assert.Nil(t, f.query("/get_portfolio_score"))

	_, err = s.Score(ctx, Portfolio{Weights: Weights{" aapl ": 40, "AAPL": 60}})
	require.NoError(t, err)
	assert.Equal(t, Weights{"AAPL": 100}, portfolioDict(t, f.query("/get_portfolio_score")))
}

func TestServiceDerivesWeightsFromAccount(t *testing.T) {
	f, c := newFakePilot(t)
	ctx := context.Background()
	sim := broker.NewSimulatorBroker(broker.SimulatorOptions{})

	secret, err := sim.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	id := domain.Identity{UserID: "u1", UserSecret: secret}
	_, err = sim.Login(ctx, id, "ALPACA")
	require.NoError(t, err)
	accounts, err := sim.ListAccounts(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, accounts)
	accountID := accounts[0].ID

	s := NewService(c, sim)
	p := Portfolio{Identity: id, AccountID: accountID}

	_, err = s.Score(ctx, p)
	assert.EqualError(t, err, "The account has no positions to analyze")

	units := decimal.NewFromInt(2)
	_, err = sim.PlaceForceOrder(ctx, id, domain.OrderRequest{
		AccountID:   accountID,
		Action:      domain.ActionBuy,
		Instrument:  domain.InstrumentRef{Symbol: "VTI"},
		OrderType:   domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceDay,
		Units:       &units,
	})
	require.NoError(t, err)

	stats, err := s.PerformanceStats(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 0.8, stats.SharpeRatio)
	assert.Equal(t, Weights{"VTI": 100}, portfolioDict(t, f.query("/get_portfolio_performance_stats")))

	in, err := s.Insights(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Rates", in.Insight)
}
