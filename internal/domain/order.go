package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the side of an order.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "Market"
	OrderTypeLimit     OrderType = "Limit"
	OrderTypeStop      OrderType = "Stop"
	OrderTypeStopLimit OrderType = "StopLimit"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "Day"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceIOC TimeInForce = "IOC"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

// Valid reports whether tif is a known time-in-force.
func (tif TimeInForce) Valid() bool {
	switch tif {
	case TimeInForceDay, TimeInForceGTC, TimeInForceFOK, TimeInForceIOC:
		return true
	}
	return false
}

// InstrumentRef addresses a tradable instrument either by the backend's
// resolved universal symbol id or by a raw ticker.
type InstrumentRef struct {
	UniversalSymbolID string
	Symbol            string
}

// Empty reports whether neither addressing mode is set.
func (r InstrumentRef) Empty() bool {
	return strings.TrimSpace(r.UniversalSymbolID) == "" && strings.TrimSpace(r.Symbol) == ""
}

// Resolve returns exactly one addressing mode: the universal symbol id when
// present, else the raw symbol. The other return value is nil.
func (r InstrumentRef) Resolve() (universalSymbolID, symbol *string) {
	if id := strings.TrimSpace(r.UniversalSymbolID); id != "" {
		return &id, nil
	}
	if s := strings.TrimSpace(r.Symbol); s != "" {
		return nil, &s
	}
	return nil, nil
}

// OrderRequest is the full description of an order before it reaches the
// backend.
type OrderRequest struct {
	AccountID   string
	Action      Action
	Instrument  InstrumentRef
	OrderType   OrderType
	TimeInForce TimeInForce
	Units       *decimal.Decimal
	Price       *decimal.Decimal
	Stop        *decimal.Decimal
	Notional    *decimal.Decimal
}

// TradeHandle is the backend's handle for a staged trade.
type TradeHandle struct {
	ID                string           `json:"id"`
	Account           string           `json:"account,omitempty"`
	Action            string           `json:"action,omitempty"`
	UniversalSymbolID string           `json:"universal_symbol_id,omitempty"`
	OrderType         string           `json:"order_type,omitempty"`
	TimeInForce       string           `json:"time_in_force,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	Units             *decimal.Decimal `json:"units,omitempty"`
}

// TradeImpact is the backend's estimate of what a staged trade does to an
// account.
type TradeImpact struct {
	Account              string           `json:"account,omitempty"`
	RemainingCash        *decimal.Decimal `json:"remaining_cash,omitempty"`
	EstimatedCommissions *decimal.Decimal `json:"estimated_commissions,omitempty"`
	ForexFees            *decimal.Decimal `json:"forex_fees,omitempty"`
}

// StagedTrade is a proposed, not yet executed order produced by an impact
// check. Its lifetime is enforced by the backend.
type StagedTrade struct {
	Trade   TradeHandle   `json:"trade"`
	Impacts []TradeImpact `json:"trade_impacts,omitempty"`
}

// TradeID returns the staged trade handle.
func (s StagedTrade) TradeID() string {
	return s.Trade.ID
}

// RemainingCash returns the first impact's remaining cash, if reported.
func (s StagedTrade) RemainingCash() *decimal.Decimal {
	if len(s.Impacts) == 0 {
		return nil
	}
	return s.Impacts[0].RemainingCash
}

// OrderOutcome is the terminal result of a placement or cancellation.
// Placements carry BrokerageOrderID; cancel acknowledgements carry Status.
type OrderOutcome struct {
	BrokerageOrderID string `json:"brokerage_order_id,omitempty"`
	Status           string `json:"status,omitempty"`
}

// OutcomeRecord is one journaled trading operation, successful or not.
type OutcomeRecord struct {
	At               time.Time
	Op               string // impact, place-checked, place, cancel
	AccountID        string
	TradeID          string
	BrokerageOrderID string
	Status           string
	Error            string
}
