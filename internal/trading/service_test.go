package trading

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerlink/internal/apperr"
	"brokerlink/internal/domain"
)

type recordingBackend struct {
	calls     int
	lastReq   domain.OrderRequest
	lastTrade string
	lastWait  bool
	lastOrder string
	err       error
}

func (r *recordingBackend) CheckOrderImpact(_ context.Context, _ domain.Identity, req domain.OrderRequest) (*domain.StagedTrade, error) {
	r.calls++
	r.lastReq = req
	if r.err != nil {
		return nil, r.err
	}
	cash := decimal.NewFromInt(500)
	return &domain.StagedTrade{
		Trade:   domain.TradeHandle{ID: "T1"},
		Impacts: []domain.TradeImpact{{RemainingCash: &cash}},
	}, nil
}

func (r *recordingBackend) PlaceCheckedOrder(_ context.Context, _ domain.Identity, tradeID string, wait bool) (*domain.OrderOutcome, error) {
	r.calls++
	r.lastTrade, r.lastWait = tradeID, wait
	return &domain.OrderOutcome{BrokerageOrderID: "B1"}, r.err
}

func (r *recordingBackend) PlaceForceOrder(_ context.Context, _ domain.Identity, req domain.OrderRequest) (*domain.OrderOutcome, error) {
	r.calls++
	r.lastReq = req
	return &domain.OrderOutcome{BrokerageOrderID: "B2"}, r.err
}

func (r *recordingBackend) CancelOrder(_ context.Context, _ domain.Identity, _, orderID string) (*domain.OrderOutcome, error) {
	r.calls++
	r.lastOrder = orderID
	return &domain.OrderOutcome{Status: "CANCELED"}, r.err
}

var id = domain.Identity{UserID: "u1", UserSecret: "s1"}

func order(ref domain.InstrumentRef) domain.OrderRequest {
	return domain.OrderRequest{
		AccountID:   "acc1",
		Action:      domain.ActionBuy,
		Instrument:  ref,
		OrderType:   domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceDay,
	}
}

func TestCheckImpactRequiresUniversalSymbolID(t *testing.T) {
	b := &recordingBackend{}
	s := NewService(b)

	_, err := s.CheckImpact(context.Background(), id, order(domain.InstrumentRef{Symbol: "AAPL"}))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, "Missing required fields: universal_symbol_id", err.Error())
	assert.Zero(t, b.calls)
}

func TestCheckImpactReturnsStagedTrade(t *testing.T) {
	b := &recordingBackend{}
	s := NewService(b)

	staged, err := s.CheckImpact(context.Background(), id, order(domain.InstrumentRef{UniversalSymbolID: "U1", Symbol: "AAPL"}))
	require.NoError(t, err)
	assert.Equal(t, "T1", staged.TradeID())
	assert.True(t, staged.RemainingCash().Equal(decimal.NewFromInt(500)))
	assert.Equal(t, domain.InstrumentRef{UniversalSymbolID: "U1"}, b.lastReq.Instrument)
}

func TestValidateOrderReportsAllMissingFields(t *testing.T) {
	s := NewService(&recordingBackend{})
	_, err := s.PlaceForce(context.Background(), domain.Identity{}, domain.OrderRequest{})
	require.Error(t, err)
	assert.Equal(t,
		"Missing required fields: userId, userSecret, account_id, action, universal_symbol_id or symbol, order_type, time_in_force",
		err.Error())
}

func TestValidateOrderRejectsUnknownEnums(t *testing.T) {
	s := NewService(&recordingBackend{})
	req := order(domain.InstrumentRef{Symbol: "AAPL"})
	req.TimeInForce = "Week"
	_, err := s.PlaceForce(context.Background(), id, req)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "time_in_force")
}

func TestPlaceCheckedDefaultsWaitToConfirm(t *testing.T) {
	b := &recordingBackend{}
	s := NewService(b)

	_, err := s.PlaceChecked(context.Background(), id, "T1", nil)
	require.NoError(t, err)
	assert.Equal(t, "T1", b.lastTrade)
	assert.True(t, b.lastWait)

	no := false
	_, err = s.PlaceChecked(context.Background(), id, "T1", &no)
	require.NoError(t, err)
	assert.False(t, b.lastWait)
}

func TestPlaceCheckedRequiresTradeID(t *testing.T) {
	b := &recordingBackend{}
	s := NewService(b)
	_, err := s.PlaceChecked(context.Background(), id, " ", nil)
	require.Error(t, err)
	assert.Equal(t, "Missing required fields: tradeId", err.Error())
	assert.Zero(t, b.calls)
}

func TestPlaceForceAcceptsEitherAddressingMode(t *testing.T) {
	b := &recordingBackend{}
	s := NewService(b)

	out, err := s.PlaceForce(context.Background(), id, order(domain.InstrumentRef{Symbol: "AAPL"}))
	require.NoError(t, err)
	assert.Equal(t, "B2", out.BrokerageOrderID)

	_, err = s.PlaceForce(context.Background(), id, order(domain.InstrumentRef{UniversalSymbolID: "U1", Symbol: "AAPL"}))
	require.NoError(t, err)
	usid, sym := b.lastReq.Instrument.Resolve()
	require.NotNil(t, usid)
	assert.Equal(t, "U1", *usid)
	assert.Nil(t, sym)
}

func TestCancelRejectsBlankOrderID(t *testing.T) {
	b := &recordingBackend{}
	s := NewService(b)

	for _, orderID := range []string{"", "   ", "\t"} {
		_, err := s.Cancel(context.Background(), id, "acc1", orderID)
		require.Error(t, err)
		assert.True(t, apperr.IsValidation(err))
	}
	assert.Zero(t, b.calls)

	out, err := s.Cancel(context.Background(), id, "acc1", " B1 ")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", out.Status)
	assert.Equal(t, "B1", b.lastOrder)
}

func TestBackendFailureKeepsClassification(t *testing.T) {
	b := &recordingBackend{err: &apperr.OperationError{Op: "impact", Status: http.StatusUnprocessableEntity, Msg: "Market closed"}}
	s := NewService(b)

	_, err := s.CheckImpact(context.Background(), id, order(domain.InstrumentRef{UniversalSymbolID: "U1"}))
	require.Error(t, err)
	assert.Equal(t, 1, b.calls, "no automatic retry")
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.HTTPStatus(err))
	assert.Equal(t, "Market closed", apperr.Message(err))

	var oe *apperr.OperationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "check order impact", oe.Op)
}
