// Package engine drives the client side of order execution: the staged
// trade protocol (impact check, then confirmed placement), forced
// placement, cancellation, and the account-scoped view that feeds it.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
	"brokerlink/internal/session"
)

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is the coordinator's placement state. It is one of Idle, Staged or
// Placed.
type State interface {
	state()
}

// Idle holds no staged trade.
type Idle struct{}

// Staged holds the trade id returned by a successful impact check. The
// trade id is the only order data carried into placement.
type Staged struct {
	TradeID   string
	AccountID string
	Impact    domain.StagedTrade
}

// Placed holds the result of the most recent successful placement.
type Placed struct {
	AccountID string
	Checked   bool // placed from a staged trade rather than forced
	Order     domain.OrderOutcome
}

func (Idle) state()   {}
func (Staged) state() {}
func (Placed) state() {}

// ---------------------------------------------------------------------------
// Outcomes
// ---------------------------------------------------------------------------

// Op names a mutating trading operation.
type Op string

const (
	OpImpact       Op = "impact"
	OpPlaceChecked Op = "place-checked"
	OpPlace        Op = "place"
	OpCancel       Op = "cancel"
)

// StatusStale is the journaled status of a checked placement the backend
// rejected as an unknown or expired trade. The trade id is dead.
const StatusStale = "stale"

var failurePrefix = map[Op]string{
	OpImpact:       "Failed to check order impact: ",
	OpPlaceChecked: "Failed to place checked order: ",
	OpPlace:        "Failed to place order: ",
	OpCancel:       "Failed to cancel order: ",
}

// Outcome is the raw result of one mutating operation. Outcomes are
// snapshots; a new one replaces the previous one and is never merged with
// it.
type Outcome struct {
	Op        Op
	At        time.Time
	AccountID string
	Staged    *domain.StagedTrade
	Order     *domain.OrderOutcome
	Err       error
}

// Message returns the human-readable failure text of o, or "" when o
// succeeded.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return failurePrefix[o.Op] + ErrorMessage(o.Err)
}

// ErrorMessage extracts the message carried by err, falling back to the
// error text and finally to a generic message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := apperr.Message(err); msg != "" {
		return msg
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error occurred"
}

func (o Outcome) record() domain.OutcomeRecord {
	rec := domain.OutcomeRecord{At: o.At, Op: string(o.Op), AccountID: o.AccountID}
	if o.Staged != nil {
		rec.TradeID = o.Staged.TradeID()
	}
	if o.Order != nil {
		rec.BrokerageOrderID = o.Order.BrokerageOrderID
		rec.Status = o.Order.Status
	}
	if o.Err != nil {
		rec.Error = ErrorMessage(o.Err)
		if o.Op == OpPlaceChecked && staleTrade(o.Err) {
			rec.Status = StatusStale
		}
	}
	return rec
}

// Journal records outcomes durably.
type Journal interface {
	RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error
}

// ---------------------------------------------------------------------------
// Coordinator
// ---------------------------------------------------------------------------

var (
	// ErrNoStagedTrade is returned by PlaceChecked when no impact check has
	// succeeded since the last placement.
	ErrNoStagedTrade = apperr.Validation("No tradeId. Please check order impact first.")

	// ErrPlacementInFlight is returned by PlaceChecked while the staged trade
	// is already being submitted.
	ErrPlacementInFlight = apperr.Validation("The staged trade is already being placed.")
)

// Coordinator is safe for concurrent use. Network calls run without holding
// its lock; a result only changes the state when no other state-changing
// operation started after the call was issued. A checked placement is the
// exception: once the backend accepts or rejects the trade id as stale, that
// id leaves Staged whatever started in between.
type Coordinator struct {
	trading broker.Trading
	session *session.Session
	journal Journal
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   State
	epoch   uint64
	placing bool
	last    *Outcome
}

// NewCoordinator creates a Coordinator in the Idle state. journal may be
// nil.
func NewCoordinator(trading broker.Trading, sess *session.Session, journal Journal, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		trading: trading,
		session: sess,
		journal: journal,
		log:     log,
		now:     time.Now,
		state:   Idle{},
	}
}

// State returns the current placement state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TradeID returns the staged trade id, or "" when nothing is staged.
func (c *Coordinator) TradeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.(Staged); ok {
		return s.TradeID
	}
	return ""
}

// LastOutcome returns the most recent outcome, or nil.
func (c *Coordinator) LastOutcome() *Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	cp := *c.last
	return &cp
}

// Reset drops any staged trade and returns to Idle.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.placing = false
	c.state = Idle{}
}

// Resume re-enters Staged for a trade staged by an earlier process. It only
// applies from Idle; the backend still decides whether the trade is live.
func (c *Coordinator) Resume(tradeID, accountID string) error {
	tradeID = trim(tradeID)
	if tradeID == "" {
		return ErrNoStagedTrade
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, idle := c.state.(Idle); !idle {
		return apperr.Validation("A trade is already in progress")
	}
	c.epoch++
	c.state = Staged{TradeID: tradeID, AccountID: trim(accountID), Impact: domain.StagedTrade{Trade: domain.TradeHandle{ID: tradeID}}}
	return nil
}

// CheckImpact stages req. An empty AccountID defaults to the session's
// selected account. On success the coordinator moves to Staged.
func (c *Coordinator) CheckImpact(ctx context.Context, req domain.OrderRequest) (*domain.StagedTrade, error) {
	id, err := c.credentials()
	if err != nil {
		return nil, err
	}
	if req.AccountID, err = c.account(req.AccountID); err != nil {
		return nil, err
	}
	if err := checkOrderFields(req, req.Instrument.UniversalSymbolID, "universal_symbol_id"); err != nil {
		return nil, err
	}
	req.Instrument = domain.InstrumentRef{UniversalSymbolID: trim(req.Instrument.UniversalSymbolID)}

	epoch := c.begin()
	staged, err := c.trading.CheckOrderImpact(ctx, id, req)
	if err == nil && (staged == nil || staged.TradeID() == "") {
		err = &apperr.OperationError{Op: "check order impact", Msg: "No trade id in impact response"}
	}

	out := Outcome{Op: OpImpact, AccountID: req.AccountID, Staged: staged, Err: err}
	c.finish(ctx, out, c.latest(epoch, func() State {
		if err != nil {
			return nil
		}
		return Staged{TradeID: staged.TradeID(), AccountID: req.AccountID, Impact: *staged}
	}))
	if err != nil {
		return nil, err
	}
	return staged, nil
}

// PlaceChecked submits the staged trade id and nothing else. Without a
// staged trade it fails locally and makes no call. A trade the backend
// reports as unknown or expired returns the coordinator to Idle; other
// failures keep the trade staged so the user can resubmit.
func (c *Coordinator) PlaceChecked(ctx context.Context, waitToConfirm bool) (*domain.OrderOutcome, error) {
	id, err := c.credentials()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	staged, ok := c.state.(Staged)
	switch {
	case !ok:
		c.mu.Unlock()
		return nil, ErrNoStagedTrade
	case c.placing:
		c.mu.Unlock()
		return nil, ErrPlacementInFlight
	}
	c.placing = true
	c.mu.Unlock()

	order, err := c.trading.PlaceCheckedOrder(ctx, id, staged.TradeID, waitToConfirm)
	if err == nil && order == nil {
		order = &domain.OrderOutcome{}
	}

	c.mu.Lock()
	c.placing = false
	c.mu.Unlock()

	out := Outcome{Op: OpPlaceChecked, AccountID: staged.AccountID, Staged: &staged.Impact, Order: order, Err: err}
	c.finish(ctx, out, func(cur State) State {
		if s, ok := cur.(Staged); !ok || s.TradeID != staged.TradeID {
			return nil
		}
		switch {
		case err == nil:
			return Placed{AccountID: staged.AccountID, Checked: true, Order: *order}
		case staleTrade(err):
			c.log.Info("staged trade rejected as stale", "trade_id", staged.TradeID)
			return Idle{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// PlaceForce places req without staging. Exactly one instrument addressing
// mode is sent; a universal symbol id wins over a raw symbol.
func (c *Coordinator) PlaceForce(ctx context.Context, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	id, err := c.credentials()
	if err != nil {
		return nil, err
	}
	if req.AccountID, err = c.account(req.AccountID); err != nil {
		return nil, err
	}
	usid, sym := req.Instrument.Resolve()
	instrument := ""
	if usid != nil || sym != nil {
		instrument = "set"
	}
	if err := checkOrderFields(req, instrument, "universal_symbol_id or symbol"); err != nil {
		return nil, err
	}
	req.Instrument = domain.InstrumentRef{}
	if usid != nil {
		req.Instrument.UniversalSymbolID = *usid
	} else {
		req.Instrument.Symbol = *sym
	}

	epoch := c.begin()
	order, err := c.trading.PlaceForceOrder(ctx, id, req)
	if err == nil && order == nil {
		order = &domain.OrderOutcome{}
	}

	out := Outcome{Op: OpPlace, AccountID: req.AccountID, Order: order, Err: err}
	c.finish(ctx, out, c.latest(epoch, func() State {
		if err != nil {
			return nil
		}
		return Placed{AccountID: req.AccountID, Order: *order}
	}))
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Cancel requests cancellation of a brokerage order. It does not touch the
// placement state.
func (c *Coordinator) Cancel(ctx context.Context, accountID, brokerageOrderID string) (*domain.OrderOutcome, error) {
	id, err := c.credentials()
	if err != nil {
		return nil, err
	}
	if accountID, err = c.account(accountID); err != nil {
		return nil, err
	}
	orderID := trim(brokerageOrderID)
	if orderID == "" {
		return nil, apperr.Validation("Enter brokerage order ID to cancel")
	}

	order, err := c.trading.CancelOrder(ctx, id, accountID, orderID)

	out := Outcome{Op: OpCancel, AccountID: accountID, Order: order, Err: err}
	c.finish(ctx, out, nil)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// begin marks the start of a state-changing call and returns its epoch.
func (c *Coordinator) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return c.epoch
}

// latest wraps next so that it only applies when no other state-changing
// call began after epoch. The returned func runs with c.mu held.
func (c *Coordinator) latest(epoch uint64, next func() State) func(State) State {
	return func(State) State {
		if epoch != c.epoch {
			return nil
		}
		return next()
	}
}

// finish records out and, when next is non-nil, calls it with the current
// state under the lock and moves to the state it returns. A nil state
// leaves the current state as is.
func (c *Coordinator) finish(ctx context.Context, out Outcome, next func(cur State) State) {
	out.At = c.now().UTC()

	c.mu.Lock()
	c.last = &out
	if next != nil {
		if s := next(c.state); s != nil {
			c.state = s
		}
	}
	c.mu.Unlock()

	if out.Err != nil {
		c.log.Warn("trading operation failed", "op", out.Op, "account_id", out.AccountID, "error", out.Err)
	} else {
		c.log.Info("trading operation completed", "op", out.Op, "account_id", out.AccountID)
	}

	if c.journal != nil {
		if err := c.journal.RecordOutcome(ctx, out.record()); err != nil {
			c.log.Warn("recording outcome failed", "op", out.Op, "error", err)
		}
	}
}

// staleTrade reports whether err is the backend rejecting a trade id as
// unknown or expired.
func staleTrade(err error) bool {
	var oe *apperr.OperationError
	if !errors.As(err, &oe) {
		return false
	}
	return oe.Status == http.StatusNotFound || oe.Status == http.StatusGone
}
