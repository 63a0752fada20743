package portfolio

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
)

func setup(t *testing.T) (*Service, *broker.SimulatorBroker, domain.Identity, string) {
	t.Helper()
	ctx := context.Background()
	sim := broker.NewSimulatorBroker(broker.SimulatorOptions{})
	secret, err := sim.RegisterUser(ctx, "u1")
	require.NoError(t, err)
	id := domain.Identity{UserID: "u1", UserSecret: secret}
	_, err = sim.Login(ctx, id, "Questrade")
	require.NoError(t, err)

	s := NewService(sim)
	accounts, err := s.Accounts(ctx, id)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	return s, sim, id, accounts[0].ID
}

func TestAccountsValidation(t *testing.T) {
	s := NewService(broker.NewSimulatorBroker(broker.SimulatorOptions{}))
	_, err := s.Accounts(context.Background(), domain.Identity{UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, "Missing required fields: userId, userSecret", err.Error())
}

func TestHoldingsAndTransactions(t *testing.T) {
	ctx := context.Background()
	s, sim, id, acc := setup(t)

	units := decimal.NewFromInt(2)
	_, err := sim.PlaceForceOrder(ctx, id, domain.OrderRequest{
		AccountID:  acc,
		Action:     domain.ActionBuy,
		Instrument: domain.InstrumentRef{Symbol: "MSFT"},
		OrderType:  domain.OrderTypeMarket,
		Units:      &units,
	})
	require.NoError(t, err)

	h, err := s.Holdings(ctx, id, acc)
	require.NoError(t, err)
	require.Len(t, h.Positions, 1)
	assert.True(t, h.Positions[0].MarketValue.Equal(decimal.NewFromInt(820)))

	page, err := s.Transactions(ctx, id, domain.ActivityQuery{AccountID: acc})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, 0, page.Pagination.Offset)
	assert.Equal(t, 1000, page.Pagination.Limit)

	_, err = s.Holdings(ctx, id, "")
	assert.Equal(t, "Missing required fields: userId, userSecret, accountId", err.Error())
}

func TestSearchSymbols(t *testing.T) {
	ctx := context.Background()
	s, _, id, acc := setup(t)

	syms, err := s.SearchSymbols(ctx, id, acc, " aap ")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, "AAPL", syms[0].Symbol)

	syms, err = s.SearchSymbols(ctx, id, acc, "zzzz")
	require.NoError(t, err)
	assert.NotNil(t, syms)
	assert.Empty(t, syms)

	_, err = s.SearchSymbols(ctx, id, acc, "")
	assert.True(t, apperr.IsValidation(err))
}

func TestBackendErrorIsOperationError(t *testing.T) {
	s, _, id, _ := setup(t)
	_, err := s.Holdings(context.Background(), id, "unknown")
	require.Error(t, err)
	assert.False(t, apperr.IsValidation(err))
	assert.Equal(t, 404, apperr.HTTPStatus(err))
	assert.Equal(t, "Account not found", apperr.Message(err))
}
