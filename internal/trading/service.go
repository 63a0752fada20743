// Package trading serves the order operations: impact check, checked and
// forced placement, and cancellation. It never retries a backend call.
package trading

import (
	"context"
	"strings"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
)

// Service validates order input and forwards to the backend.
type Service struct {
	backend broker.Trading
}

// NewService creates a Service.
func NewService(backend broker.Trading) *Service {
	return &Service{backend: backend}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func requireIdentity(id domain.Identity, fields ...string) []string {
	var missing []string
	if blank(id.UserID) {
		missing = append(missing, "userId")
	}
	if id.UserSecret == "" {
		missing = append(missing, "userSecret")
	}
	return append(missing, fields...)
}

// validateOrder checks the fields shared by the impact and forced paths.
// instrument names the field reported when no instrument is given.
func validateOrder(id domain.Identity, req domain.OrderRequest, instrumentOK bool, instrument string) error {
	var missing []string
	if blank(req.AccountID) {
		missing = append(missing, "account_id")
	}
	if req.Action == "" {
		missing = append(missing, "action")
	}
	if !instrumentOK {
		missing = append(missing, instrument)
	}
	if req.OrderType == "" {
		missing = append(missing, "order_type")
	}
	if req.TimeInForce == "" {
		missing = append(missing, "time_in_force")
	}
	if missing = requireIdentity(id, missing...); len(missing) > 0 {
		return apperr.MissingFields(missing...)
	}

	if !req.Action.Valid() {
		return apperr.Validation("Invalid action %q: expected BUY or SELL", req.Action)
	}
	if !req.OrderType.Valid() {
		return apperr.Validation("Invalid order_type %q: expected Market, Limit, Stop or StopLimit", req.OrderType)
	}
	if !req.TimeInForce.Valid() {
		return apperr.Validation("Invalid time_in_force %q: expected Day, GTC, FOK or IOC", req.TimeInForce)
	}
	return nil
}

// CheckImpact stages a trade. The instrument must be a resolved universal
// symbol id; a raw ticker is not accepted on this path.
func (s *Service) CheckImpact(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.StagedTrade, error) {
	if err := validateOrder(id, req, !blank(req.Instrument.UniversalSymbolID), "universal_symbol_id"); err != nil {
		return nil, err
	}
	req.Instrument = domain.InstrumentRef{UniversalSymbolID: strings.TrimSpace(req.Instrument.UniversalSymbolID)}

	staged, err := s.backend.CheckOrderImpact(ctx, id, req)
	if err != nil {
		return nil, apperr.Operation("check order impact", err)
	}
	return staged, nil
}

// PlaceChecked executes a staged trade. waitToConfirm defaults to true when
// nil.
func (s *Service) PlaceChecked(ctx context.Context, id domain.Identity, tradeID string, waitToConfirm *bool) (*domain.OrderOutcome, error) {
	var fields []string
	if blank(tradeID) {
		fields = append(fields, "tradeId")
	}
	if missing := requireIdentity(id, fields...); len(missing) > 0 {
		return nil, apperr.MissingFields(missing...)
	}

	wait := true
	if waitToConfirm != nil {
		wait = *waitToConfirm
	}
	out, err := s.backend.PlaceCheckedOrder(ctx, id, strings.TrimSpace(tradeID), wait)
	if err != nil {
		return nil, apperr.Operation("place checked order", err)
	}
	return out, nil
}

// PlaceForce places an order without staging. Either a universal symbol id
// or a raw symbol must be given; when both are, the id is sent.
func (s *Service) PlaceForce(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	if err := validateOrder(id, req, !req.Instrument.Empty(), "universal_symbol_id or symbol"); err != nil {
		return nil, err
	}
	out, err := s.backend.PlaceForceOrder(ctx, id, req)
	if err != nil {
		return nil, apperr.Operation("place order", err)
	}
	return out, nil
}

// Cancel requests cancellation of a brokerage order.
func (s *Service) Cancel(ctx context.Context, id domain.Identity, accountID, brokerageOrderID string) (*domain.OrderOutcome, error) {
	var fields []string
	if blank(accountID) {
		fields = append(fields, "accountId")
	}
	if blank(brokerageOrderID) {
		fields = append(fields, "brokerage_order_id")
	}
	if missing := requireIdentity(id, fields...); len(missing) > 0 {
		return nil, apperr.MissingFields(missing...)
	}
	out, err := s.backend.CancelOrder(ctx, id, accountID, strings.TrimSpace(brokerageOrderID))
	if err != nil {
		return nil, apperr.Operation("cancel order", err)
	}
	return out, nil
}
