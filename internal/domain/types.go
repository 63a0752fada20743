// Package domain defines the core types shared across brokerlink: identities,
// brokerage authorizations, accounts, holdings, transactions, and the order
// types that flow through the staged execution protocol.
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Identity & connections
// ---------------------------------------------------------------------------

// Identity is the caller's aggregation-backend identity. An empty UserSecret
// means the identity has not been registered yet.
type Identity struct {
	UserID     string `json:"userId"`
	UserSecret string `json:"userSecret,omitempty"`
}

// Registered reports whether the identity carries a user secret.
func (id Identity) Registered() bool {
	return id.UserSecret != ""
}

// Brokerage describes the institution behind an authorization.
type Brokerage struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	LogoURL string `json:"aws_s3_logo_url,omitempty"`
}

// BrokerAuthorization links one Identity to one brokerage login.
type BrokerAuthorization struct {
	ID        string    `json:"id"`
	Brokerage Brokerage `json:"brokerage"`
	Disabled  bool      `json:"disabled"`
}

// MatchesSlug reports whether the authorization belongs to the brokerage
// with the given slug, compared case-insensitively.
func (a BrokerAuthorization) MatchesSlug(slug string) bool {
	return a.Brokerage.Slug != "" && strings.EqualFold(a.Brokerage.Slug, slug)
}

// LoginResult is returned by the backend when a link flow is initiated.
type LoginResult struct {
	RedirectURI string `json:"redirectURI,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
}

// ---------------------------------------------------------------------------
// Accounts, holdings, transactions
// ---------------------------------------------------------------------------

// Account is a read-only snapshot of one brokerage account.
type Account struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Number          string           `json:"number"`
	InstitutionName string           `json:"institutionName"`
	Balance         *decimal.Decimal `json:"balance"`
	Status          string           `json:"status"`
	Type            string           `json:"type"`
}

// Money is an amount in a currency.
type Money struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// HoldingsAccount is the account summary embedded in a holdings snapshot.
type HoldingsAccount struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	InstitutionName string           `json:"institutionName"`
	Balance         *decimal.Decimal `json:"balance"`
}

// Position is an equity position within an account.
type Position struct {
	Symbol               string           `json:"symbol"`
	Description          string           `json:"description"`
	Units                decimal.Decimal  `json:"units"`
	Price                decimal.Decimal  `json:"price"`
	AveragePurchasePrice *decimal.Decimal `json:"averagePurchasePrice"`
	OpenPnL              *decimal.Decimal `json:"openPnL"`
	MarketValue          decimal.Decimal  `json:"marketValue"`
}

// OptionPosition is an option contract position within an account.
type OptionPosition struct {
	Ticker         string           `json:"ticker"`
	OptionType     string           `json:"optionType"`
	StrikePrice    *decimal.Decimal `json:"strikePrice"`
	ExpirationDate string           `json:"expirationDate"`
	Units          decimal.Decimal  `json:"units"`
	Price          decimal.Decimal  `json:"price"`
	MarketValue    decimal.Decimal  `json:"marketValue"`
}

// Holdings is a point-in-time view of one account's positions.
type Holdings struct {
	Account         HoldingsAccount  `json:"account"`
	Positions       []Position       `json:"positions"`
	OptionPositions []OptionPosition `json:"optionPositions"`
	TotalValue      *Money           `json:"totalValue"`
}

// Transaction is one account activity record.
type Transaction struct {
	ID             string           `json:"id"`
	Symbol         string           `json:"symbol"`
	Description    string           `json:"description"`
	Type           string           `json:"type"`
	OptionType     string           `json:"optionType"`
	Units          *decimal.Decimal `json:"units"`
	Price          *decimal.Decimal `json:"price"`
	Amount         *decimal.Decimal `json:"amount"`
	Currency       string           `json:"currency"`
	TradeDate      string           `json:"tradeDate"`
	SettlementDate string           `json:"settlementDate"`
	Fee            *decimal.Decimal `json:"fee"`
	Institution    string           `json:"institution"`
}

// Pagination describes the window of a paginated activity listing.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// ActivityQuery filters an account activity listing.
type ActivityQuery struct {
	AccountID string
	StartDate string // YYYY-MM-DD, optional
	EndDate   string // YYYY-MM-DD, optional
	Offset    int
	Limit     int
	Type      string // comma-separated activity types, optional
}

// Default activity window when the caller leaves Limit unset.
const DefaultActivityLimit = 1000

// WithDefaults returns a copy of q with the offset and limit defaults applied.
func (q ActivityQuery) WithDefaults() ActivityQuery {
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultActivityLimit
	}
	return q
}

// ActivityPage is one page of account transactions.
type ActivityPage struct {
	Transactions []Transaction `json:"transactions"`
	Pagination   *Pagination   `json:"pagination,omitempty"`
}

// Symbol is a tradable instrument returned by an account-scoped search.
type Symbol struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}
