package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerlink/internal/analysis"
	"brokerlink/internal/broker"
	"brokerlink/internal/connection"
	"brokerlink/internal/domain"
	"brokerlink/internal/metrics"
	"brokerlink/internal/portfolio"
	"brokerlink/internal/trading"
	"brokerlink/internal/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const prefix = "/api/snaptrade"

func newTestHandler(b broker.Broker) http.Handler {
	m := metrics.New()
	log := util.Discard()
	s := NewServer(
		connection.NewManager(b, m, log),
		portfolio.NewService(b),
		trading.NewService(b),
		m, log,
		Options{PathPrefix: prefix},
	)
	return s.Handler()
}

func post(t *testing.T, h http.Handler, route string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, prefix+route, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestConnectBrokerFlow(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))

	code, body := post(t, h, "/connect-broker", map[string]any{"broker": "ALPACA"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields: userId, broker", body["error"])

	code, body = post(t, h, "/connect-broker", map[string]any{"userId": "u1", "broker": "ALPACA"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Broker connection initiated", body["message"])
	secret, _ := body["userSecret"].(string)
	require.NotEmpty(t, secret)
	status := body["connectionStatus"].(map[string]any)
	assert.NotEmpty(t, status["redirectURI"])

	code, body = post(t, h, "/connect-broker", map[string]any{"userId": "u1", "broker": "alpaca", "userSecret": secret})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Existing connection found; refresh triggered for broker alpaca", body["message"])
	assert.Equal(t, secret, body["userSecret"])
	status = body["connectionStatus"].(map[string]any)
	assert.NotEmpty(t, status["existingConnectionId"])
	assert.Equal(t, "alpaca", status["broker"])

	code, body = post(t, h, "/get-connections", map[string]any{"userId": "u1", "userSecret": secret})
	require.Equal(t, http.StatusOK, code)
	conns := body["connections"].([]any)
	require.Len(t, conns, 1)
	assert.Equal(t, "ALPACA", conns[0].(map[string]any)["brokerName"])
}

// linked registers u1 with one account through the HTTP surface.
func linked(t *testing.T, h http.Handler) (secret, accountID string) {
	t.Helper()
	_, body := post(t, h, "/connect-broker", map[string]any{"userId": "u1", "broker": "Alpaca"})
	secret = body["userSecret"].(string)

	code, body := post(t, h, "/get-accounts", map[string]any{"userId": "u1", "userSecret": secret})
	require.Equal(t, http.StatusOK, code)
	accounts := body["accounts"].([]any)
	require.Len(t, accounts, 1)
	return secret, accounts[0].(map[string]any)["id"].(string)
}

func TestStagedOrderOverHTTP(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))
	secret, acc := linked(t, h)

	code, body := post(t, h, "/impact", map[string]any{
		"userId": "u1", "userSecret": secret, "account_id": acc,
		"action": "BUY", "universal_symbol_id": "sym-aapl",
		"order_type": "Market", "time_in_force": "Day", "units": 2,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Order impact fetched successfully", body["message"])
	data := body["data"].(map[string]any)
	tradeID := data["trade"].(map[string]any)["id"].(string)
	require.NotEmpty(t, tradeID)

	code, body = post(t, h, "/place-checked-order", map[string]any{"userId": "u1", "userSecret": secret, "tradeId": tradeID})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Order placed successfully", body["message"])
	assert.NotEmpty(t, body["data"].(map[string]any)["brokerage_order_id"])

	// The trade was consumed; the backend's 404 passes through with its message.
	code, body = post(t, h, "/place-checked-order", map[string]any{"userId": "u1", "userSecret": secret, "tradeId": tradeID})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Trade not found", body["error"])

	code, body = post(t, h, "/get-account-holdings", map[string]any{"userId": "u1", "userSecret": secret, "accountId": acc})
	require.Equal(t, http.StatusOK, code)
	positions := body["positions"].([]any)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].(map[string]any)["symbol"])

	code, body = post(t, h, "/get-transactions", map[string]any{"userId": "u1", "userSecret": secret, "accountId": acc})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["transactions"].([]any), 1)
	assert.Equal(t, float64(1000), body["pagination"].(map[string]any)["limit"])
}

func TestImpactRequiresUniversalSymbolID(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))
	secret, acc := linked(t, h)

	code, body := post(t, h, "/impact", map[string]any{
		"userId": "u1", "userSecret": secret, "account_id": acc,
		"action": "BUY", "symbol": "AAPL", "order_type": "Market", "time_in_force": "Day",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields: universal_symbol_id", body["error"])
}

func TestForceOrderAndCancel(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))
	secret, acc := linked(t, h)

	code, body := post(t, h, "/place-order", map[string]any{
		"userId": "u1", "userSecret": secret, "account_id": acc,
		"action": "BUY", "symbol": "MSFT", "order_type": "Limit", "time_in_force": "GTC",
		"units": "1", "price": "400.50",
	})
	require.Equal(t, http.StatusOK, code, body)
	orderID := body["data"].(map[string]any)["brokerage_order_id"].(string)

	code, body = post(t, h, "/cancel-order", map[string]any{"userId": "u1", "userSecret": secret, "accountId": acc, "brokerage_order_id": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields: brokerage_order_id", body["error"])

	code, body = post(t, h, "/cancel-order", map[string]any{"userId": "u1", "userSecret": secret, "accountId": acc, "brokerage_order_id": orderID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Order cancellation attempted", body["message"])
	assert.Equal(t, "CANCELED", body["data"].(map[string]any)["status"])
}

func TestSearchAndCheckConnection(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))
	secret, acc := linked(t, h)

	code, body := post(t, h, "/search-acc-symbols", map[string]any{"userId": "u1", "userSecret": secret, "accountId": acc, "substring": "VT"})
	require.Equal(t, http.StatusOK, code)
	symbols := body["symbols"].([]any)
	require.Len(t, symbols, 1)
	assert.Equal(t, "sym-vti", symbols[0].(map[string]any)["id"])

	code, body = post(t, h, "/check-broker-connection", map[string]any{"userId": "u1", "userSecret": secret, "brokerId": "brokerage-alpaca"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["hasActiveConnection"])
	assert.Len(t, body["connections"].([]any), 1)
}

// failingBackend fails every trading call with an internal error.
type failingBackend struct {
	broker.Broker
}

func (failingBackend) PlaceForceOrder(context.Context, domain.Identity, domain.OrderRequest) (*domain.OrderOutcome, error) {
	return nil, errors.New("dial tcp 10.0.0.1:443: connection refused")
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	h := newTestHandler(failingBackend{broker.NewSimulatorBroker(broker.SimulatorOptions{})})

	code, body := post(t, h, "/place-order", map[string]any{
		"userId": "u1", "userSecret": "s", "account_id": "a",
		"action": "SELL", "universal_symbol_id": "U1", "order_type": "Market", "time_in_force": "Day",
	})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Failed to place order", body["error"])
}

func TestEmptyAndMalformedBodies(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))

	req := httptest.NewRequest(http.MethodPost, prefix+"/get-accounts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing required fields: userId, userSecret")

	req = httptest.NewRequest(http.MethodPost, prefix+"/get-accounts", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON body")
}

func TestUnknownRouteAndPreflight(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"The requested resource /api/nope was not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, prefix+"/impact", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDAndMetrics(t *testing.T) {
	h := newTestHandler(broker.NewSimulatorBroker(broker.SimulatorOptions{}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, prefix+"/get-accounts", nil)
	req.Header.Set(requestIDHeader, "req-42")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/snaptrade/get-accounts",status="400"`)
}

// stubPilot answers like PortfolioPilot and remembers the last request.
type stubPilot struct {
	weights analysis.Weights
	risk    string
	err     error
}

func (p *stubPilot) Score(_ context.Context, w analysis.Weights) (*analysis.Score, error) {
	p.weights = w
	if p.err != nil {
		return nil, p.err
	}
	return &analysis.Score{PortfolioScore: 505.19, ScoreRemark: "Good"}, nil
}

func (p *stubPilot) PerformanceStats(_ context.Context, w analysis.Weights) (*analysis.PerformanceStats, error) {
	p.weights = w
	return &analysis.PerformanceStats{Returns: 12.5, Risk: 15.25, SharpeRatio: 0.8}, nil
}

func (p *stubPilot) Assessment(_ context.Context, w analysis.Weights, targetRisk string) (*analysis.Assessment, error) {
	p.weights, p.risk = w, targetRisk
	return &analysis.Assessment{Assessment: "Concentrated in tech."}, nil
}

func (p *stubPilot) Insights(_ context.Context, w analysis.Weights) (*analysis.Insight, error) {
	p.weights = w
	return &analysis.Insight{Insight: "Tech rally", Tickers: "AAPL"}, nil
}

func (p *stubPilot) DailyInsights(context.Context) (*analysis.Insight, error) {
	return &analysis.Insight{Insight: "Rates", Category: "macro"}, nil
}

func newAnalysisHandler(b broker.Broker, p analysis.Pilot) http.Handler {
	log := util.Discard()
	return NewServer(
		connection.NewManager(b, nil, log),
		portfolio.NewService(b),
		trading.NewService(b),
		nil, log,
		Options{PathPrefix: prefix, Analysis: analysis.NewService(p, b)},
	).Handler()
}

func TestPortfolioAnalysisRoutes(t *testing.T) {
	ctx := context.Background()
	sim := broker.NewSimulatorBroker(broker.SimulatorOptions{})
	stub := &stubPilot{}
	h := newAnalysisHandler(sim, stub)

	code, body := post(t, h, "/portfolio/score", map[string]any{"portfolio_dict": map[string]float64{"AAPL": 30, "GOOG": 70}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 505.19, body["portfolio_score"])
	assert.Equal(t, analysis.Weights{"AAPL": 30, "GOOG": 70}, stub.weights)

	code, body = post(t, h, "/portfolio/assessment", map[string]any{
		"portfolio_dict": map[string]float64{"AAPL": 100}, "target_risk": "aggressive",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Concentrated in tech.", body["assessment"])
	assert.Equal(t, "aggressive", stub.risk)

	code, body = post(t, h, "/portfolio/score", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing required fields: portfolio_dict or accountId", body["error"])

	// Weights derived from the account's positions.
	secret, err := sim.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	id := domain.Identity{UserID: "u1", UserSecret: secret}
	_, err = sim.Login(ctx, id, "ALPACA")
	require.NoError(t, err)
	accounts, err := sim.ListAccounts(ctx, id)
	require.NoError(t, err)
	units := decimal.NewFromInt(1)
	_, err = sim.PlaceForceOrder(ctx, id, domain.OrderRequest{
		AccountID: accounts[0].ID, Action: domain.ActionBuy, Instrument: domain.InstrumentRef{Symbol: "AAPL"},
		OrderType: domain.OrderTypeMarket, TimeInForce: domain.TimeInForceDay, Units: &units,
	})
	require.NoError(t, err)

	code, body = post(t, h, "/portfolio/performance-stats", map[string]any{
		"userId": "u1", "userSecret": secret, "accountId": accounts[0].ID,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.8, body["sharpe_ratio"])
	assert.Equal(t, analysis.Weights{"AAPL": 100}, stub.weights)

	code, body = post(t, h, "/portfolio/insights", map[string]any{
		"userId": "u1", "userSecret": secret, "accountId": accounts[0].ID,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Tech rally", body["insight"])

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, prefix+"/portfolio/daily-insights", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"insight":"Rates","timestamp":"","category":"macro","description":"","tickers":""}`, rec.Body.String())
}

func TestPortfolioAnalysisFailures(t *testing.T) {
	sim := broker.NewSimulatorBroker(broker.SimulatorOptions{})

	code, body := post(t, newTestHandler(sim), "/portfolio/score", map[string]any{"portfolio_dict": map[string]float64{"AAPL": 100}})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "Portfolio analysis is not configured", body["error"])

	stub := &stubPilot{err: errors.New("dial tcp: connection refused")}
	code, body = post(t, newAnalysisHandler(sim, stub), "/portfolio/score", map[string]any{"portfolio_dict": map[string]float64{"AAPL": 100}})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "An error occurred while scoring the portfolio", body["error"])
}
