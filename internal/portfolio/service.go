// Package portfolio serves read-only account data: accounts, holdings,
// transactions and account-scoped symbol search.
package portfolio

import (
	"context"
	"strings"

	"brokerlink/internal/apperr"
	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
)

// Service validates input and forwards to the backend.
type Service struct {
	backend broker.Accounts
}

// NewService creates a Service.
func NewService(backend broker.Accounts) *Service {
	return &Service{backend: backend}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// Accounts lists every account of the identity.
func (s *Service) Accounts(ctx context.Context, id domain.Identity) ([]domain.Account, error) {
	if blank(id.UserID) || id.UserSecret == "" {
		return nil, apperr.MissingFields("userId", "userSecret")
	}
	accounts, err := s.backend.ListAccounts(ctx, id)
	if err != nil {
		return nil, apperr.Operation("list accounts", err)
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return accounts, nil
}

// Holdings returns the positions snapshot of one account.
func (s *Service) Holdings(ctx context.Context, id domain.Identity, accountID string) (*domain.Holdings, error) {
	if blank(id.UserID) || id.UserSecret == "" || blank(accountID) {
		return nil, apperr.MissingFields("userId", "userSecret", "accountId")
	}
	h, err := s.backend.GetHoldings(ctx, id, accountID)
	if err != nil {
		return nil, apperr.Operation("get holdings", err)
	}
	return h, nil
}

// Transactions returns one page of account activity. Offset defaults to 0
// and limit to domain.DefaultActivityLimit.
func (s *Service) Transactions(ctx context.Context, id domain.Identity, q domain.ActivityQuery) (*domain.ActivityPage, error) {
	if blank(id.UserID) || id.UserSecret == "" || blank(q.AccountID) {
		return nil, apperr.MissingFields("userId", "userSecret", "accountId")
	}
	page, err := s.backend.GetActivities(ctx, id, q.WithDefaults())
	if err != nil {
		return nil, apperr.Operation("get activities", err)
	}
	if page.Transactions == nil {
		page.Transactions = []domain.Transaction{}
	}
	return page, nil
}

// SearchSymbols searches the instruments tradable in one account.
func (s *Service) SearchSymbols(ctx context.Context, id domain.Identity, accountID, substring string) ([]domain.Symbol, error) {
	if blank(id.UserID) || id.UserSecret == "" || blank(accountID) || blank(substring) {
		return nil, apperr.MissingFields("userId", "userSecret", "accountId", "substring")
	}
	symbols, err := s.backend.SearchSymbols(ctx, id, accountID, strings.TrimSpace(substring))
	if err != nil {
		return nil, apperr.Operation("search symbols", err)
	}
	if symbols == nil {
		symbols = []domain.Symbol{}
	}
	return symbols, nil
}
