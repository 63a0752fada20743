package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"brokerlink/internal/broker"
	"brokerlink/internal/domain"
	"brokerlink/internal/session"
)

// ErrStaleResponse is returned when the selected account changed while an
// account-scoped fetch was in flight. The response is discarded.
var ErrStaleResponse = errors.New("selected account changed while the request was in flight")

// View is the client's read-only picture of the selected account. Every
// account-scoped fetch is tagged with the account it targeted and only
// applied if that account is still selected when the response arrives.
type View struct {
	accounts broker.Accounts
	session  *session.Session

	mu           sync.Mutex
	list         []domain.Account
	holdings     *domain.Holdings
	transactions []domain.Transaction
	pagination   *domain.Pagination
}

// NewView creates a View over accounts and the session's selection.
func NewView(accounts broker.Accounts, sess *session.Session) *View {
	return &View{accounts: accounts, session: sess}
}

func (v *View) identity() (domain.Identity, error) {
	id := v.session.Identity()
	if trim(id.UserID) == "" || id.UserSecret == "" {
		return domain.Identity{}, errNoCredentials
	}
	return id, nil
}

// LoadAccounts fetches every account of the session's identity.
func (v *View) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	id, err := v.identity()
	if err != nil {
		return nil, err
	}
	list, err := v.accounts.ListAccounts(ctx, id)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.list = list
	v.mu.Unlock()
	return list, nil
}

// Accounts returns the last loaded account list.
func (v *View) Accounts() []domain.Account {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.list
}

// Select makes accountID the selected account. When accounts have been
// loaded, accountID must be one of them. Selecting a different account
// drops the previous account's holdings and transactions.
func (v *View) Select(ctx context.Context, accountID string) error {
	accountID = trim(accountID)
	if accountID == "" {
		return errNoAccount
	}

	// The session changes under v.mu so that no fetch for the previous
	// account can be applied between the switch and the reset.
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.list != nil && !containsAccount(v.list, accountID) {
		return fmt.Errorf("account %q not found", accountID)
	}
	prev := v.session.AccountID()
	if err := v.session.SelectAccount(ctx, accountID); err != nil {
		return err
	}
	if accountID != prev {
		v.holdings = nil
		v.transactions = nil
		v.pagination = nil
	}
	return nil
}

func containsAccount(list []domain.Account, id string) bool {
	for _, a := range list {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Selected returns the selected account id, or "".
func (v *View) Selected() string {
	return v.session.AccountID()
}

// LoadHoldings fetches holdings of the selected account.
func (v *View) LoadHoldings(ctx context.Context) (*domain.Holdings, error) {
	id, err := v.identity()
	if err != nil {
		return nil, err
	}
	target := v.session.AccountID()
	if target == "" {
		return nil, errNoAccount
	}

	h, err := v.accounts.GetHoldings(ctx, id, target)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session.AccountID() != target {
		return nil, ErrStaleResponse
	}
	v.holdings = h
	return h, nil
}

// Holdings returns the last applied holdings, or nil.
func (v *View) Holdings() *domain.Holdings {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holdings
}

// LoadTransactions fetches one page of transactions of the selected
// account. q.AccountID is ignored.
func (v *View) LoadTransactions(ctx context.Context, q domain.ActivityQuery) (*domain.ActivityPage, error) {
	id, err := v.identity()
	if err != nil {
		return nil, err
	}
	target := v.session.AccountID()
	if target == "" {
		return nil, errNoAccount
	}
	q.AccountID = target

	page, err := v.accounts.GetActivities(ctx, id, q.WithDefaults())
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session.AccountID() != target {
		return nil, ErrStaleResponse
	}
	v.transactions = page.Transactions
	v.pagination = page.Pagination
	return page, nil
}

// Transactions returns the last applied transactions page.
func (v *View) Transactions() ([]domain.Transaction, *domain.Pagination) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transactions, v.pagination
}
