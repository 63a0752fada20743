package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"brokerlink/internal/apperr"
	"brokerlink/internal/domain"
	"brokerlink/internal/metrics"
	"brokerlink/internal/util"
)

// Compile-time interface checks.
var (
	_ Broker    = (*SnapTradeBroker)(nil)
	_ io.Closer = (*SnapTradeBroker)(nil)
)

// SnapTradeOptions configures NewSnapTradeBroker.
type SnapTradeOptions struct {
	ClientID        string
	ConsumerKey     string
	BaseURL         string        // e.g. https://api.snaptrade.com/api/v1
	Timeout         time.Duration // transport timeout; 0 disables it
	RateLimitPerSec float64       // 0 means unlimited
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// SnapTradeBroker implements Broker against the SnapTrade REST API. Every
// request is signed; none is retried.
type SnapTradeBroker struct {
	clientID string
	baseURL  string
	basePath string
	signer   *Signer
	http     *resty.Client
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewSnapTradeBroker creates a SnapTradeBroker configured with the given
// credentials and API endpoint.
func NewSnapTradeBroker(opts SnapTradeOptions) (*SnapTradeBroker, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing snaptrade base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("snaptrade base url %q must be absolute", opts.BaseURL)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	hc := resty.New().
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if opts.Timeout > 0 {
		hc.SetTimeout(opts.Timeout)
	}

	return &SnapTradeBroker{
		clientID: opts.ClientID,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		basePath: strings.TrimRight(u.Path, "/"),
		signer:   NewSigner(opts.ConsumerKey),
		http:     hc,
		limiter:  util.NewRateLimiter(opts.RateLimitPerSec, 1),
		metrics:  opts.Metrics,
		log:      log,
		now:      time.Now,
	}, nil
}

// Name returns "snaptrade".
func (b *SnapTradeBroker) Name() string {
	return "snaptrade"
}

// Close wipes the consumer key from memory. Requests signed afterwards are
// rejected by the backend.
func (b *SnapTradeBroker) Close() error {
	b.signer.Wipe()
	return nil
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// RegisterUser registers userID and returns the issued user secret.
func (b *SnapTradeBroker) RegisterUser(ctx context.Context, userID string) (string, error) {
	var resp stRegisterUserResponse
	err := b.do(ctx, "register_user", http.MethodPost, "/snapTrade/registerUser", nil,
		stRegisterUserRequest{UserID: userID}, &resp)
	if err != nil {
		return "", err
	}
	if resp.UserSecret == "" {
		return "", &apperr.OperationError{Op: "register_user", Msg: "backend returned no user secret"}
	}
	return resp.UserSecret, nil
}

// Login starts a link flow for broker and returns the redirect target.
func (b *SnapTradeBroker) Login(ctx context.Context, id domain.Identity, broker string) (*domain.LoginResult, error) {
	var resp domain.LoginResult
	err := b.do(ctx, "login", http.MethodPost, "/snapTrade/login", userQuery(id),
		stLoginRequest{Broker: broker, ImmediateRedirect: true}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAuthorizations returns every brokerage authorization of the identity.
func (b *SnapTradeBroker) ListAuthorizations(ctx context.Context, id domain.Identity) ([]domain.BrokerAuthorization, error) {
	var resp []domain.BrokerAuthorization
	if err := b.do(ctx, "list_authorizations", http.MethodGet, "/authorizations", userQuery(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// RefreshAuthorization triggers a holdings re-sync for one authorization.
func (b *SnapTradeBroker) RefreshAuthorization(ctx context.Context, id domain.Identity, authorizationID string) error {
	path := "/authorizations/" + url.PathEscape(authorizationID) + "/refresh"
	return b.do(ctx, "refresh_authorization", http.MethodPost, path, userQuery(id), nil, nil)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// ListAccounts returns every account visible to the identity.
func (b *SnapTradeBroker) ListAccounts(ctx context.Context, id domain.Identity) ([]domain.Account, error) {
	var resp []stAccount
	if err := b.do(ctx, "list_accounts", http.MethodGet, "/accounts", userQuery(id), nil, &resp); err != nil {
		return nil, err
	}
	accounts := make([]domain.Account, 0, len(resp))
	for _, a := range resp {
		accounts = append(accounts, toAccount(a))
	}
	return accounts, nil
}

// GetHoldings returns the positions snapshot of one account.
func (b *SnapTradeBroker) GetHoldings(ctx context.Context, id domain.Identity, accountID string) (*domain.Holdings, error) {
	var resp stHoldings
	path := "/accounts/" + url.PathEscape(accountID) + "/holdings"
	if err := b.do(ctx, "get_holdings", http.MethodGet, path, userQuery(id), nil, &resp); err != nil {
		return nil, err
	}
	return toHoldings(resp), nil
}

// GetActivities returns one page of account activities.
func (b *SnapTradeBroker) GetActivities(ctx context.Context, id domain.Identity, q domain.ActivityQuery) (*domain.ActivityPage, error) {
	q = q.WithDefaults()
	query := userQuery(id)
	if q.StartDate != "" {
		query.Set("startDate", q.StartDate)
	}
	if q.EndDate != "" {
		query.Set("endDate", q.EndDate)
	}
	if q.Type != "" {
		query.Set("type", q.Type)
	}
	query.Set("offset", strconv.Itoa(q.Offset))
	query.Set("limit", strconv.Itoa(q.Limit))

	var resp stActivities
	path := "/accounts/" + url.PathEscape(q.AccountID) + "/activities"
	if err := b.do(ctx, "get_activities", http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}

	page := &domain.ActivityPage{
		Transactions: make([]domain.Transaction, 0, len(resp.Data)),
		Pagination:   resp.Pagination,
	}
	for _, a := range resp.Data {
		page.Transactions = append(page.Transactions, toTransaction(a))
	}
	return page, nil
}

// SearchSymbols searches the instruments tradable in one account.
func (b *SnapTradeBroker) SearchSymbols(ctx context.Context, id domain.Identity, accountID, substring string) ([]domain.Symbol, error) {
	var resp []stUniversalSymbol
	path := "/accounts/" + url.PathEscape(accountID) + "/symbols"
	if err := b.do(ctx, "search_symbols", http.MethodPost, path, userQuery(id),
		stSymbolSearchRequest{Substring: substring}, &resp); err != nil {
		return nil, err
	}
	symbols := make([]domain.Symbol, 0, len(resp))
	for _, s := range resp {
		symbols = append(symbols, toSymbol(s))
	}
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

// CheckOrderImpact stages a trade. The instrument is addressed by universal
// symbol id only.
func (b *SnapTradeBroker) CheckOrderImpact(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.StagedTrade, error) {
	body := stImpactRequest{
		AccountID:         req.AccountID,
		Action:            string(req.Action),
		UniversalSymbolID: req.Instrument.UniversalSymbolID,
		OrderType:         string(req.OrderType),
		TimeInForce:       string(req.TimeInForce),
		Price:             number(req.Price),
		Stop:              number(req.Stop),
		Units:             number(req.Units),
		NotionalValue:     number(req.Notional),
	}
	var resp domain.StagedTrade
	if err := b.do(ctx, "check_order_impact", http.MethodPost, "/trade/impact", userQuery(id), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlaceCheckedOrder executes a staged trade by its id.
func (b *SnapTradeBroker) PlaceCheckedOrder(ctx context.Context, id domain.Identity, tradeID string, waitToConfirm bool) (*domain.OrderOutcome, error) {
	var resp domain.OrderOutcome
	path := "/trade/" + url.PathEscape(tradeID)
	if err := b.do(ctx, "place_checked_order", http.MethodPost, path, userQuery(id),
		stPlaceCheckedRequest{WaitToConfirm: waitToConfirm}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlaceForceOrder places an order without staging. Exactly one of
// universal_symbol_id and symbol is non-null in the request.
func (b *SnapTradeBroker) PlaceForceOrder(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	usid, sym := req.Instrument.Resolve()
	body := stForceOrderRequest{
		AccountID:         req.AccountID,
		Action:            string(req.Action),
		UniversalSymbolID: usid,
		Symbol:            sym,
		OrderType:         string(req.OrderType),
		TimeInForce:       string(req.TimeInForce),
		Price:             number(req.Price),
		Stop:              number(req.Stop),
		Units:             number(req.Units),
		NotionalValue:     number(req.Notional),
	}
	var resp domain.OrderOutcome
	if err := b.do(ctx, "place_force_order", http.MethodPost, "/trade/place", userQuery(id), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder requests cancellation of a brokerage order.
func (b *SnapTradeBroker) CancelOrder(ctx context.Context, id domain.Identity, accountID, brokerageOrderID string) (*domain.OrderOutcome, error) {
	var resp domain.OrderOutcome
	path := "/accounts/" + url.PathEscape(accountID) + "/orders/cancel"
	if err := b.do(ctx, "cancel_order", http.MethodPost, path, userQuery(id),
		stCancelRequest{BrokerageOrderID: brokerageOrderID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func userQuery(id domain.Identity) url.Values {
	q := url.Values{}
	q.Set("userId", id.UserID)
	if id.UserSecret != "" {
		q.Set("userSecret", id.UserSecret)
	}
	return q
}

// do signs and sends one request and decodes the response into out (when
// non-nil). Backend error payloads become *apperr.OperationError carrying the
// backend's status and message.
func (b *SnapTradeBroker) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (err error) {
	start := time.Now()
	defer func() {
		b.metrics.ObserveBackend(op, err, time.Since(start))
	}()

	if err := b.limiter.Wait(ctx); err != nil {
		return &apperr.OperationError{Op: op, Err: err}
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("clientId", b.clientID)
	query.Set("timestamp", strconv.FormatInt(b.now().Unix(), 10))
	rawQuery := query.Encode()

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return &apperr.OperationError{Op: op, Err: fmt.Errorf("encoding request: %w", err)}
		}
	}

	// path segments are already escaped; the signature covers the path as sent.
	sig, err := b.signer.Sign(b.basePath+path, rawQuery, payload)
	if err != nil {
		return &apperr.OperationError{Op: op, Err: fmt.Errorf("signing request: %w", err)}
	}

	req := b.http.R().
		SetContext(ctx).
		SetHeader("Signature", sig)
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	resp, err := req.Execute(method, b.baseURL+path+"?"+rawQuery)
	if err != nil {
		return &apperr.OperationError{Op: op, Err: err}
	}

	b.log.Debug("snaptrade call", "op", op, "status", resp.StatusCode(), "elapsed", time.Since(start))

	if resp.IsError() {
		return decodeError(op, resp.StatusCode(), resp.Body())
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &apperr.OperationError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func decodeError(op string, status int, body []byte) error {
	oe := &apperr.OperationError{Op: op, Status: status}
	var payload stError
	if err := json.Unmarshal(body, &payload); err == nil {
		oe.Msg = payload.message()
	}
	if oe.Msg == "" {
		oe.Msg = http.StatusText(status)
	}
	return oe
}
