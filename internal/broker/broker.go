// Package broker defines the ports to the brokerage-aggregation backend and
// provides implementations: the SnapTrade REST client and an in-memory
// simulator for paper mode and tests.
package broker

import (
	"context"

	"brokerlink/internal/domain"
)

// Connections covers user registration and brokerage authorizations.
type Connections interface {
	// RegisterUser registers userID with the backend and returns the newly
	// issued user secret.
	RegisterUser(ctx context.Context, userID string) (string, error)

	// Login starts a link flow for the given broker slug.
	Login(ctx context.Context, id domain.Identity, broker string) (*domain.LoginResult, error)

	// ListAuthorizations returns every authorization of the identity.
	ListAuthorizations(ctx context.Context, id domain.Identity) ([]domain.BrokerAuthorization, error)

	// RefreshAuthorization asks the backend to re-sync one authorization.
	RefreshAuthorization(ctx context.Context, id domain.Identity, authorizationID string) error
}

// Accounts covers read-only account information.
type Accounts interface {
	ListAccounts(ctx context.Context, id domain.Identity) ([]domain.Account, error)
	GetHoldings(ctx context.Context, id domain.Identity, accountID string) (*domain.Holdings, error)
	GetActivities(ctx context.Context, id domain.Identity, q domain.ActivityQuery) (*domain.ActivityPage, error)
	SearchSymbols(ctx context.Context, id domain.Identity, accountID, substring string) ([]domain.Symbol, error)
}

// Trading covers the staged and forced order paths and cancellation.
type Trading interface {
	// CheckOrderImpact stages a trade and returns its handle and impact.
	CheckOrderImpact(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.StagedTrade, error)

	// PlaceCheckedOrder executes a previously staged trade.
	PlaceCheckedOrder(ctx context.Context, id domain.Identity, tradeID string, waitToConfirm bool) (*domain.OrderOutcome, error)

	// PlaceForceOrder places an order without staging it first.
	PlaceForceOrder(ctx context.Context, id domain.Identity, req domain.OrderRequest) (*domain.OrderOutcome, error)

	// CancelOrder requests cancellation of a brokerage order.
	CancelOrder(ctx context.Context, id domain.Identity, accountID, brokerageOrderID string) (*domain.OrderOutcome, error)
}

// Broker is the full aggregation-backend surface.
type Broker interface {
	// Name returns the backend identifier (e.g. "snaptrade", "simulator").
	Name() string

	Connections
	Accounts
	Trading
}
