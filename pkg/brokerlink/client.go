// Package brokerlink is the Go SDK for the brokerlink-server HTTP API.
//
// Client implements the account and trading ports of internal/broker, so the
// client-side coordinator and search helper run unchanged against a remote
// server.
package brokerlink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"brokerlink/internal/analysis"
	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/connection"
	"brokerlink/internal/domain"
)

// Compile-time interface checks.
var (
	_ broker.Accounts = (*Client)(nil)
	_ broker.Trading  = (*Client)(nil)
)

// Client provides a Go SDK for interacting with the brokerlink-server API.
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient creates a client for the API rooted at baseURL (including the
// path prefix, e.g. http://localhost:4000/api/snaptrade). A zero timeout
// disables the transport timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	hc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if timeout > 0 {
		hc.SetTimeout(timeout)
	}
	return &Client{baseURL: baseURL, http: hc}
}

// Name returns "brokerlink".
func (c *Client) Name() string { return "brokerlink" }

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// ConnectResult is the outcome of ConnectBroker. Either RedirectURI (a new
// link flow) or ExistingConnectionID (an enabled link was refreshed) is set.
type ConnectResult struct {
	Message              string
	UserSecret           string
	RedirectURI          string
	SessionID            string
	ExistingConnectionID string
	Refresh              *connection.RefreshResult
}

// Existing reports whether an enabled link was found.
func (r *ConnectResult) Existing() bool { return r.ExistingConnectionID != "" }

type connectStatus struct {
	RedirectURI          string                    `json:"redirectURI"`
	SessionID            string                    `json:"sessionId"`
	ExistingConnectionID string                    `json:"existingConnectionId"`
	Refresh              *connection.RefreshResult `json:"refresh"`
}

// ConnectBroker registers the user when userSecret is empty and links
// brokerSlug, or refreshes an existing enabled link. The returned
// UserSecret is authoritative and must replace any stored copy.
func (c *Client) ConnectBroker(ctx context.Context, userID, brokerSlug, userSecret string) (*ConnectResult, error) {
	body := map[string]string{"userId": userID, "broker": brokerSlug}
	if userSecret != "" {
		body["userSecret"] = userSecret
	}
	var resp struct {
		Message          string          `json:"message"`
		UserSecret       string          `json:"userSecret"`
		ConnectionStatus json.RawMessage `json:"connectionStatus"`
	}
	if err := c.post(ctx, "connect broker", "/connect-broker", body, &resp); err != nil {
		return nil, err
	}

	out := &ConnectResult{Message: resp.Message, UserSecret: resp.UserSecret}
	if len(resp.ConnectionStatus) > 0 {
		var st connectStatus
		if err := json.Unmarshal(resp.ConnectionStatus, &st); err == nil {
			out.RedirectURI = st.RedirectURI
			out.SessionID = st.SessionID
			out.ExistingConnectionID = st.ExistingConnectionID
			out.Refresh = st.Refresh
		}
	}
	return out, nil
}

// CheckConnection reports whether an enabled link to brokerageID exists.
func (c *Client) CheckConnection(ctx context.Context, id domain.Identity, brokerageID string) (*connection.CheckResult, error) {
	body := map[string]string{"userId": id.UserID, "userSecret": id.UserSecret, "brokerId": brokerageID}
	var resp connection.CheckResult
	if err := c.post(ctx, "check connection", "/check-broker-connection", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListConnections lists the identity's authorizations with their refresh
// results.
func (c *Client) ListConnections(ctx context.Context, id domain.Identity) ([]connection.Summary, error) {
	var resp struct {
		Connections []connection.Summary `json:"connections"`
	}
	if err := c.post(ctx, "list connections", "/get-connections", identityBody(id), &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// ListAccounts implements broker.Accounts.
func (c *Client) ListAccounts(ctx context.Context, id domain.Identity) ([]domain.Account, error) {
	var resp struct {
		Accounts []domain.Account `json:"accounts"`
	}
	if err := c.post(ctx, "list accounts", "/get-accounts", identityBody(id), &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// GetHoldings implements broker.Accounts.
func (c *Client) GetHoldings(ctx context.Context, id domain.Identity, accountID string) (*domain.Holdings, error) {
	body := identityBody(id)
	body["accountId"] = accountID
	var resp domain.Holdings
	if err := c.post(ctx, "get holdings", "/get-account-holdings", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetActivities implements broker.Accounts.
func (c *Client) GetActivities(ctx context.Context, id domain.Identity, q domain.ActivityQuery) (*domain.ActivityPage, error) {
	body := identityBody(id)
	body["accountId"] = q.AccountID
	if q.StartDate != "" {
		body["startDate"] = q.StartDate
	}
	if q.EndDate != "" {
		body["endDate"] = q.EndDate
	}
	if q.Type != "" {
		body["type"] = q.Type
	}
	if q.Offset > 0 {
		body["offset"] = q.Offset
	}
	if q.Limit > 0 {
		body["limit"] = q.Limit
	}
	var resp domain.ActivityPage
	if err := c.post(ctx, "get transactions", "/get-transactions", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchSymbols implements broker.Accounts.
func (c *Client) SearchSymbols(ctx context.Context, id domain.Identity, accountID, substring string) ([]domain.Symbol, error) {
	body := identityBody(id)
	body["accountId"] = accountID
	body["substring"] = substring
	var resp struct {
		Symbols []domain.Symbol `json:"symbols"`
	}
	if err := c.post(ctx, "search symbols", "/search-acc-symbols", body, &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

type orderBody struct {
	UserID            string       `json:"userId"`
	UserSecret        string       `json:"userSecret"`
	AccountID         string       `json:"account_id"`
	Action            string       `json:"action"`
	UniversalSymbolID *string      `json:"universal_symbol_id"`
	OrderType         string       `json:"order_type"`
	TimeInForce       string       `json:"time_in_force"`
	Price             *json.Number `json:"price,omitempty"`
	Stop              *json.Number `json:"stop,omitempty"`
	Units             *json.Number `json:"units,omitempty"`
	NotionalValue     *json.Number `json:"notional_value,omitempty"`
}

// forceOrderBody always carries both addressing keys, one of them null.
type forceOrderBody struct {
	orderBody
	Symbol *string `json:"symbol"`
}

func newOrderBody(id domain.Identity, req domain.OrderRequest) orderBody {
	return orderBody{
		UserID:        id.UserID,
		UserSecret:    id.UserSecret,
		AccountID:     req.AccountID,
		Action:        string(req.Action),
		OrderType:     string(req.OrderType),
		TimeInForce:   string(req.TimeInForce),
		Price:         number(req.Price),
		Stop:          number(req.Stop),
		Units:         number(req.Units),
		NotionalValue: number(req.Notional),
	}
}

type dataResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// CheckOrderImpact implements broker.Trading. Only the universal symbol id
// is sent.
func (c *Client) CheckOrderImpact(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.StagedTrade, error) {
	body := newOrderBody(id, req)
	usid := req.Instrument.UniversalSymbolID
	body.UniversalSymbolID = &usid

	var resp dataResponse[domain.StagedTrade]
	if err := c.post(ctx, "check order impact", "/impact", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// PlaceCheckedOrder implements broker.Trading. Only the trade id and the
// confirmation flag are sent.
func (c *Client) PlaceCheckedOrder(ctx context.Context, id domain.Identity, tradeID string, waitToConfirm bool) (*domain.OrderOutcome, error) {
	body := map[string]any{
		"userId":          id.UserID,
		"userSecret":      id.UserSecret,
		"tradeId":         tradeID,
		"wait_to_confirm": waitToConfirm,
	}
	var resp dataResponse[domain.OrderOutcome]
	if err := c.post(ctx, "place checked order", "/place-checked-order", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// PlaceForceOrder implements broker.Trading. Exactly one of
// universal_symbol_id and symbol is non-null; the id wins when both are set.
func (c *Client) PlaceForceOrder(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	body := forceOrderBody{orderBody: newOrderBody(id, req)}
	body.UniversalSymbolID, body.Symbol = req.Instrument.Resolve()

	var resp dataResponse[domain.OrderOutcome]
	if err := c.post(ctx, "place order", "/place-order", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// CancelOrder implements broker.Trading.
func (c *Client) CancelOrder(ctx context.Context, id domain.Identity, accountID, brokerageOrderID string) (*domain.OrderOutcome, error) {
	body := identityBody(id)
	body["accountId"] = accountID
	body["brokerage_order_id"] = brokerageOrderID
	var resp dataResponse[domain.OrderOutcome]
	if err := c.post(ctx, "cancel order", "/cancel-order", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// ---------------------------------------------------------------------------
// Portfolio analysis
// ---------------------------------------------------------------------------

func portfolioBody(p analysis.Portfolio) map[string]any {
	if len(p.Weights) > 0 {
		return map[string]any{"portfolio_dict": p.Weights}
	}
	body := identityBody(p.Identity)
	body["accountId"] = p.AccountID
	return body
}

// PortfolioScore rates p through the server's PortfolioPilot proxy.
func (c *Client) PortfolioScore(ctx context.Context, p analysis.Portfolio) (*analysis.Score, error) {
	var resp analysis.Score
	if err := c.post(ctx, "portfolio score", "/portfolio/score", portfolioBody(p), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PerformanceStats returns the return, risk and Sharpe ratio of p.
func (c *Client) PerformanceStats(ctx context.Context, p analysis.Portfolio) (*analysis.PerformanceStats, error) {
	var resp analysis.PerformanceStats
	if err := c.post(ctx, "portfolio performance stats", "/portfolio/performance-stats", portfolioBody(p), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Assessment reviews p, against targetRisk when it is non-empty.
func (c *Client) Assessment(ctx context.Context, p analysis.Portfolio, targetRisk string) (*analysis.Assessment, error) {
	body := portfolioBody(p)
	if targetRisk != "" {
		body["target_risk"] = targetRisk
	}
	var resp analysis.Assessment
	if err := c.post(ctx, "portfolio assessment", "/portfolio/assessment", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PortfolioInsights returns an insight specific to p.
func (c *Client) PortfolioInsights(ctx context.Context, p analysis.Portfolio) (*analysis.Insight, error) {
	var resp analysis.Insight
	if err := c.post(ctx, "portfolio insights", "/portfolio/insights", portfolioBody(p), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DailyInsights returns the insight of the day.
func (c *Client) DailyInsights(ctx context.Context) (*analysis.Insight, error) {
	var resp analysis.Insight
	if err := c.send(ctx, "daily insights", http.MethodGet, "/portfolio/daily-insights", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func identityBody(id domain.Identity) map[string]any {
	return map[string]any{"userId": id.UserID, "userSecret": id.UserSecret}
}

func number(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := json.Number(d.String())
	return &n
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	return c.send(ctx, op, http.MethodPost, path, body, out)
}

// send issues the request and decodes a 2xx response into out. Error
// responses become *apperr.OperationError carrying the status and the
// payload's error message.
func (c *Client) send(ctx context.Context, op, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return &apperr.OperationError{Op: op, Err: err}
	}

	if resp.IsError() {
		oe := &apperr.OperationError{Op: op, Status: resp.StatusCode()}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(resp.Body(), &payload); err == nil {
			oe.Msg = payload.Error
		}
		if oe.Msg == "" {
			oe.Msg = http.StatusText(resp.StatusCode())
		}
		return oe
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &apperr.OperationError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
