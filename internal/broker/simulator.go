package broker

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brokerlink/internal/apperr"
	"brokerlink/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimSymbol is one instrument in the simulator's catalog.
type SimSymbol struct {
	ID          string
	Ticker      string
	Description string
	Price       decimal.Decimal
}

// SimulatorOptions configures NewSimulatorBroker. Zero values select the
// defaults.
type SimulatorOptions struct {
	Symbols      []SimSymbol
	StartingCash decimal.Decimal
	TradeTTL     time.Duration
	Now          func() time.Time
}

// DefaultSimSymbols is the catalog used when none is supplied.
func DefaultSimSymbols() []SimSymbol {
	return []SimSymbol{
		{ID: "sym-aapl", Ticker: "AAPL", Description: "Apple Inc.", Price: decimal.NewFromInt(190)},
		{ID: "sym-msft", Ticker: "MSFT", Description: "Microsoft Corporation", Price: decimal.NewFromInt(410)},
		{ID: "sym-vti", Ticker: "VTI", Description: "Vanguard Total Stock Market ETF", Price: decimal.NewFromInt(250)},
		{ID: "sym-shop", Ticker: "SHOP", Description: "Shopify Inc.", Price: decimal.NewFromInt(75)},
	}
}

const defaultTradeTTL = 5 * time.Minute

type simAccount struct {
	account   domain.Account
	userID    string
	cash      decimal.Decimal
	positions map[string]*simPosition // keyed by symbol id
	activity  []domain.Transaction
}

type simPosition struct {
	units    decimal.Decimal
	avgPrice decimal.Decimal
}

type simTrade struct {
	userID  string
	req     domain.OrderRequest
	expires time.Time
}

type simOrder struct {
	accountID string
	status    string
}

// SimulatorBroker implements Broker for paper trading and tests. It keeps
// users, authorizations, accounts, staged trades and orders in memory and
// never makes external calls. A link flow completes as soon as it starts.
type SimulatorBroker struct {
	mu       sync.Mutex
	symbols  []SimSymbol
	cash     decimal.Decimal
	tradeTTL time.Duration
	now      func() time.Time

	users    map[string]string // userID -> secret
	auths    map[string][]domain.BrokerAuthorization
	accounts map[string]*simAccount
	trades   map[string]*simTrade
	orders   map[string]*simOrder
}

// NewSimulatorBroker creates an empty SimulatorBroker.
func NewSimulatorBroker(opts SimulatorOptions) *SimulatorBroker {
	if len(opts.Symbols) == 0 {
		opts.Symbols = DefaultSimSymbols()
	}
	if opts.StartingCash.IsZero() {
		opts.StartingCash = decimal.NewFromInt(100000)
	}
	if opts.TradeTTL <= 0 {
		opts.TradeTTL = defaultTradeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SimulatorBroker{
		symbols:  opts.Symbols,
		cash:     opts.StartingCash,
		tradeTTL: opts.TradeTTL,
		now:      opts.Now,
		users:    make(map[string]string),
		auths:    make(map[string][]domain.BrokerAuthorization),
		accounts: make(map[string]*simAccount),
		trades:   make(map[string]*simTrade),
		orders:   make(map[string]*simOrder),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

func simErr(op string, status int, msg string) error {
	return &apperr.OperationError{Op: op, Status: status, Msg: msg}
}

// authenticate must be called with b.mu held.
func (b *SimulatorBroker) authenticate(op string, id domain.Identity) error {
	secret, ok := b.users[id.UserID]
	if !ok || secret != id.UserSecret {
		return simErr(op, http.StatusUnauthorized, "Invalid userID or userSecret provided")
	}
	return nil
}

// account must be called with b.mu held.
func (b *SimulatorBroker) account(op string, id domain.Identity, accountID string) (*simAccount, error) {
	acc, ok := b.accounts[accountID]
	if !ok || acc.userID != id.UserID {
		return nil, simErr(op, http.StatusNotFound, "Account not found")
	}
	return acc, nil
}

// ---------------------------------------------------------------------------
// Connections
// ---------------------------------------------------------------------------

// RegisterUser issues a fresh secret for a new user.
func (b *SimulatorBroker) RegisterUser(_ context.Context, userID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.users[userID]; ok {
		return "", simErr("register_user", http.StatusBadRequest, "User already exists")
	}
	secret := uuid.NewString()
	b.users[userID] = secret
	return secret, nil
}

// Login completes a link flow immediately: the first login for a broker
// creates its authorization and one account.
func (b *SimulatorBroker) Login(_ context.Context, id domain.Identity, broker string) (*domain.LoginResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate("login", id); err != nil {
		return nil, err
	}

	slug := strings.ToUpper(strings.TrimSpace(broker))
	if slug == "" {
		slug = "SIMULATOR"
	}

	linked := false
	for _, a := range b.auths[id.UserID] {
		if a.MatchesSlug(slug) {
			linked = true
			break
		}
	}
	if !linked {
		auth := domain.BrokerAuthorization{
			ID: uuid.NewString(),
			Brokerage: domain.Brokerage{
				ID:   "brokerage-" + strings.ToLower(slug),
				Slug: slug,
				Name: broker,
			},
		}
		b.auths[id.UserID] = append(b.auths[id.UserID], auth)

		cash := b.cash
		acc := &simAccount{
			account: domain.Account{
				ID:              uuid.NewString(),
				Name:            broker + " Paper",
				Number:          strings.ToUpper(uuid.NewString()[:8]),
				InstitutionName: broker,
				Status:          "open",
				Type:            "cash",
			},
			userID:    id.UserID,
			cash:      cash,
			positions: make(map[string]*simPosition),
		}
		b.accounts[acc.account.ID] = acc
	}

	session := uuid.NewString()
	return &domain.LoginResult{
		RedirectURI: "https://simulator.invalid/connect?session=" + session,
		SessionID:   session,
	}, nil
}

// ListAuthorizations returns the identity's authorizations.
func (b *SimulatorBroker) ListAuthorizations(_ context.Context, id domain.Identity) ([]domain.BrokerAuthorization, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate("list_authorizations", id); err != nil {
		return nil, err
	}
	out := make([]domain.BrokerAuthorization, len(b.auths[id.UserID]))
	copy(out, b.auths[id.UserID])
	return out, nil
}

// RefreshAuthorization fails for unknown or disabled authorizations.
func (b *SimulatorBroker) RefreshAuthorization(_ context.Context, id domain.Identity, authorizationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate("refresh_authorization", id); err != nil {
		return err
	}
	for _, a := range b.auths[id.UserID] {
		if a.ID != authorizationID {
			continue
		}
		if a.Disabled {
			return simErr("refresh_authorization", http.StatusBadRequest, "Connection is disabled and cannot be refreshed")
		}
		return nil
	}
	return simErr("refresh_authorization", http.StatusNotFound, "Authorization not found")
}

// SetDisabled flips the disabled flag of one authorization. It reports
// whether the authorization exists.
func (b *SimulatorBroker) SetDisabled(userID, authorizationID string, disabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, a := range b.auths[userID] {
		if a.ID == authorizationID {
			b.auths[userID][i].Disabled = disabled
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// ListAccounts returns the identity's accounts ordered by name.
func (b *SimulatorBroker) ListAccounts(_ context.Context, id domain.Identity) ([]domain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate("list_accounts", id); err != nil {
		return nil, err
	}
	var out []domain.Account
	for _, acc := range b.accounts {
		if acc.userID != id.UserID {
			continue
		}
		a := acc.account
		bal := acc.cash.Add(b.positionsValue(acc))
		a.Balance = &bal
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetHoldings values every position at the catalog price.
func (b *SimulatorBroker) GetHoldings(_ context.Context, id domain.Identity, accountID string) (*domain.Holdings, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate("get_holdings", id); err != nil {
		return nil, err
	}
	acc, err := b.account("get_holdings", id, accountID)
	if err != nil {
		return nil, err
	}

	total := acc.cash.Add(b.positionsValue(acc))
	h := &domain.Holdings{
		Account: domain.HoldingsAccount{
			ID:              acc.account.ID,
			Name:            acc.account.Name,
			InstitutionName: acc.account.InstitutionName,
			Balance:         &total,
		},
		Positions:       []domain.Position{},
		OptionPositions: []domain.OptionPosition{},
		TotalValue:      &domain.Money{Value: total, Currency: "USD"},
	}
	for _, sym := range b.symbols {
		p, ok := acc.positions[sym.ID]
		if !ok || p.units.IsZero() {
			continue
		}
		avg := p.avgPrice
		pnl := sym.Price.Sub(avg).Mul(p.units)
		h.Positions = append(h.Positions, domain.Position{
			Symbol:               sym.Ticker,
			Description:          sym.Description,
			Units:                p.units,
			Price:                sym.Price,
			AveragePurchasePrice: &avg,
			OpenPnL:              &pnl,
			MarketValue:          p.units.Mul(sym.Price),
		})
	}
	return h, nil
}

// GetActivities filters by date and type, newest first, then paginates.
func (b *SimulatorBroker) GetActivities(_ context.Context, id domain.Identity, q domain.ActivityQuery) (*domain.ActivityPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate("get_activities", id); err != nil {
		return nil, err
	}
	acc, err := b.account("get_activities", id, q.AccountID)
	if err != nil {
		return nil, err
	}
	q = q.WithDefaults()

	var types map[string]bool
	if q.Type != "" {
		types = make(map[string]bool)
		for _, t := range strings.Split(q.Type, ",") {
			types[strings.ToUpper(strings.TrimSpace(t))] = true
		}
	}

	var matched []domain.Transaction
	for i := len(acc.activity) - 1; i >= 0; i-- {
		tx := acc.activity[i]
		day := tx.TradeDate
		if len(day) > 10 {
			day = day[:10]
		}
		if q.StartDate != "" && day < q.StartDate {
			continue
		}
		if q.EndDate != "" && day > q.EndDate {
			continue
		}
		if types != nil && !types[tx.Type] {
			continue
		}
		matched = append(matched, tx)
	}

	page := &domain.ActivityPage{
		Transactions: []domain.Transaction{},
		Pagination:   &domain.Pagination{Offset: q.Offset, Limit: q.Limit, Total: len(matched)},
	}
	if q.Offset < len(matched) {
		end := min(q.Offset+q.Limit, len(matched))
		page.Transactions = append(page.Transactions, matched[q.Offset:end]...)
	}
	return page, nil
}

// SearchSymbols matches ticker or description case-insensitively.
func (b *SimulatorBroker) SearchSymbols(_ context.Context, id domain.Identity, accountID, substring string) ([]domain.Symbol, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate("search_symbols", id); err != nil {
		return nil, err
	}
	if _, err := b.account("search_symbols", id, accountID); err != nil {
		return nil, err
	}

	needle := strings.ToLower(substring)
	out := []domain.Symbol{}
	for _, s := range b.symbols {
		if strings.Contains(strings.ToLower(s.Ticker), needle) ||
			strings.Contains(strings.ToLower(s.Description), needle) {
			out = append(out, domain.Symbol{ID: s.ID, Symbol: s.Ticker, Description: s.Description})
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Trading
// ---------------------------------------------------------------------------

// CheckOrderImpact stages a trade valid for the configured TTL.
func (b *SimulatorBroker) CheckOrderImpact(_ context.Context, id domain.Identity, req domain.OrderRequest) (*domain.StagedTrade, error) {
	const op = "check_order_impact"
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate(op, id); err != nil {
		return nil, err
	}
	acc, err := b.account(op, id, req.AccountID)
	if err != nil {
		return nil, err
	}
	sym, ok := b.symbolByID(req.Instrument.UniversalSymbolID)
	if !ok {
		return nil, simErr(op, http.StatusBadRequest, "Symbol not found")
	}
	units, price, err := b.quote(op, req, sym)
	if err != nil {
		return nil, err
	}

	cost := units.Mul(price)
	remaining := acc.cash
	if req.Action == domain.ActionBuy {
		remaining = remaining.Sub(cost)
	} else {
		remaining = remaining.Add(cost)
	}
	zero := decimal.Zero

	tradeID := uuid.NewString()
	b.trades[tradeID] = &simTrade{userID: id.UserID, req: req, expires: b.now().Add(b.tradeTTL)}

	return &domain.StagedTrade{
		Trade: domain.TradeHandle{
			ID:                tradeID,
			Account:           acc.account.ID,
			Action:            string(req.Action),
			UniversalSymbolID: sym.ID,
			OrderType:         string(req.OrderType),
			TimeInForce:       string(req.TimeInForce),
			Price:             &price,
			Units:             &units,
		},
		Impacts: []domain.TradeImpact{{
			Account:              acc.account.ID,
			RemainingCash:        &remaining,
			EstimatedCommissions: &zero,
			ForexFees:            &zero,
		}},
	}, nil
}

// PlaceCheckedOrder executes a staged trade once. Unknown trades yield 404,
// expired ones 410.
func (b *SimulatorBroker) PlaceCheckedOrder(_ context.Context, id domain.Identity, tradeID string, _ bool) (*domain.OrderOutcome, error) {
	const op = "place_checked_order"
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate(op, id); err != nil {
		return nil, err
	}
	t, ok := b.trades[tradeID]
	if !ok || t.userID != id.UserID {
		return nil, simErr(op, http.StatusNotFound, "Trade not found")
	}
	if b.now().After(t.expires) {
		delete(b.trades, tradeID)
		return nil, simErr(op, http.StatusGone, "Trade has expired")
	}
	outcome, err := b.execute(op, id, t.req)
	if err != nil {
		return nil, err
	}
	delete(b.trades, tradeID)
	return outcome, nil
}

// PlaceForceOrder executes immediately, addressing the instrument by id or
// by ticker.
func (b *SimulatorBroker) PlaceForceOrder(_ context.Context, id domain.Identity, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	const op = "place_force_order"
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate(op, id); err != nil {
		return nil, err
	}
	return b.execute(op, id, req)
}

// CancelOrder cancels a working order.
func (b *SimulatorBroker) CancelOrder(_ context.Context, id domain.Identity, accountID, brokerageOrderID string) (*domain.OrderOutcome, error) {
	const op = "cancel_order"
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.authenticate(op, id); err != nil {
		return nil, err
	}
	if _, err := b.account(op, id, accountID); err != nil {
		return nil, err
	}
	o, ok := b.orders[brokerageOrderID]
	if !ok || o.accountID != accountID {
		return nil, simErr(op, http.StatusNotFound, "Order not found")
	}
	if o.status != "OPEN" {
		return nil, simErr(op, http.StatusBadRequest, "Order is "+o.status+" and cannot be cancelled")
	}
	o.status = "CANCELED"
	return &domain.OrderOutcome{BrokerageOrderID: brokerageOrderID, Status: o.status}, nil
}

// ---------------------------------------------------------------------------
// Internals (b.mu held)
// ---------------------------------------------------------------------------

func (b *SimulatorBroker) symbolByID(id string) (SimSymbol, bool) {
	for _, s := range b.symbols {
		if s.ID == id {
			return s, true
		}
	}
	return SimSymbol{}, false
}

func (b *SimulatorBroker) symbolByTicker(ticker string) (SimSymbol, bool) {
	for _, s := range b.symbols {
		if strings.EqualFold(s.Ticker, ticker) {
			return s, true
		}
	}
	return SimSymbol{}, false
}

func (b *SimulatorBroker) positionsValue(acc *simAccount) decimal.Decimal {
	total := decimal.Zero
	for _, s := range b.symbols {
		if p, ok := acc.positions[s.ID]; ok {
			total = total.Add(p.units.Mul(s.Price))
		}
	}
	return total
}

// quote returns the order size and the price it would execute at.
func (b *SimulatorBroker) quote(op string, req domain.OrderRequest, sym SimSymbol) (units, price decimal.Decimal, err error) {
	price = sym.Price
	if req.Price != nil && req.OrderType != domain.OrderTypeMarket {
		price = *req.Price
	}
	switch {
	case req.Units != nil && req.Units.IsPositive():
		units = *req.Units
	case req.Notional != nil && req.Notional.IsPositive():
		units = req.Notional.DivRound(price, 8)
	default:
		return units, price, simErr(op, http.StatusBadRequest, "Order size must be positive")
	}
	return units, price, nil
}

func (b *SimulatorBroker) execute(op string, id domain.Identity, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	acc, err := b.account(op, id, req.AccountID)
	if err != nil {
		return nil, err
	}

	usid, ticker := req.Instrument.Resolve()
	var sym SimSymbol
	var ok bool
	switch {
	case usid != nil:
		sym, ok = b.symbolByID(*usid)
	case ticker != nil:
		sym, ok = b.symbolByTicker(*ticker)
	}
	if !ok {
		return nil, simErr(op, http.StatusBadRequest, "Symbol not found")
	}

	units, price, err := b.quote(op, req, sym)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	if req.OrderType != domain.OrderTypeMarket && req.OrderType != "" {
		// Non-market orders rest until cancelled.
		b.orders[orderID] = &simOrder{accountID: acc.account.ID, status: "OPEN"}
		return &domain.OrderOutcome{BrokerageOrderID: orderID, Status: "OPEN"}, nil
	}

	cost := units.Mul(price)
	pos := acc.positions[sym.ID]
	switch req.Action {
	case domain.ActionBuy:
		if cost.GreaterThan(acc.cash) {
			return nil, simErr(op, http.StatusBadRequest, "Insufficient buying power")
		}
		if pos == nil {
			pos = &simPosition{}
			acc.positions[sym.ID] = pos
		}
		newUnits := pos.units.Add(units)
		pos.avgPrice = pos.avgPrice.Mul(pos.units).Add(cost).Div(newUnits)
		pos.units = newUnits
		acc.cash = acc.cash.Sub(cost)
	case domain.ActionSell:
		if pos == nil || pos.units.LessThan(units) {
			return nil, simErr(op, http.StatusBadRequest, "Insufficient position")
		}
		pos.units = pos.units.Sub(units)
		acc.cash = acc.cash.Add(cost)
	default:
		return nil, simErr(op, http.StatusBadRequest, "Unknown action")
	}

	amount := cost
	if req.Action == domain.ActionBuy {
		amount = cost.Neg()
	}
	fee := decimal.Zero
	now := b.now().UTC()
	acc.activity = append(acc.activity, domain.Transaction{
		ID:             orderID,
		Symbol:         sym.Ticker,
		Description:    sym.Description,
		Type:           string(req.Action),
		Units:          &units,
		Price:          &price,
		Amount:         &amount,
		Currency:       "USD",
		TradeDate:      now.Format(time.RFC3339),
		SettlementDate: now.AddDate(0, 0, 1).Format(time.RFC3339),
		Fee:            &fee,
		Institution:    acc.account.InstitutionName,
	})
	b.orders[orderID] = &simOrder{accountID: acc.account.ID, status: "EXECUTED"}
	return &domain.OrderOutcome{BrokerageOrderID: orderID, Status: "EXECUTED"}, nil
}
