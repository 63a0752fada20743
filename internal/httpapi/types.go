package httpapi

import (
	"strings"

	"github.com/shopspring/decimal"

	"brokerlink/internal/analysis"
	"brokerlink/internal/connection"
	"brokerlink/internal/domain"
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// identity is embedded in every request that acts for a registered user.
type identity struct {
	UserID     string `json:"userId"`
	UserSecret string `json:"userSecret"`
}

func (i identity) toDomain() domain.Identity {
	return domain.Identity{UserID: strings.TrimSpace(i.UserID), UserSecret: i.UserSecret}
}

type connectRequest struct {
	identity
	Broker string `json:"broker"`
}

type checkConnectionRequest struct {
	identity
	BrokerID string `json:"brokerId"`
}

type accountRequest struct {
	identity
	AccountID string `json:"accountId"`
}

type transactionsRequest struct {
	identity
	AccountID string `json:"accountId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Offset    int    `json:"offset"`
	Limit     int    `json:"limit"`
	Type      string `json:"type"`
}

func (r transactionsRequest) query() domain.ActivityQuery {
	return domain.ActivityQuery{
		AccountID: r.AccountID,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Offset:    r.Offset,
		Limit:     r.Limit,
		Type:      r.Type,
	}
}

type searchRequest struct {
	identity
	AccountID string `json:"accountId"`
	Substring string `json:"substring"`
}

// analysisRequest names a portfolio by explicit weights or by account.
type analysisRequest struct {
	identity
	AccountID     string             `json:"accountId"`
	PortfolioDict map[string]float64 `json:"portfolio_dict"`
	TargetRisk    string             `json:"target_risk"`
}

func (r analysisRequest) portfolio() analysis.Portfolio {
	return analysis.Portfolio{
		Weights:   analysis.Weights(r.PortfolioDict),
		Identity:  r.toDomain(),
		AccountID: r.AccountID,
	}
}

// orderRequest is shared by impact and place-order; impact ignores Symbol.
type orderRequest struct {
	identity
	AccountID         string           `json:"account_id"`
	Action            string           `json:"action"`
	UniversalSymbolID string           `json:"universal_symbol_id"`
	Symbol            string           `json:"symbol"`
	OrderType         string           `json:"order_type"`
	TimeInForce       string           `json:"time_in_force"`
	Price             *decimal.Decimal `json:"price"`
	Stop              *decimal.Decimal `json:"stop"`
	Units             *decimal.Decimal `json:"units"`
	NotionalValue     *decimal.Decimal `json:"notional_value"`
}

func (r orderRequest) order(withSymbol bool) domain.OrderRequest {
	ref := domain.InstrumentRef{UniversalSymbolID: r.UniversalSymbolID}
	if withSymbol {
		ref.Symbol = r.Symbol
	}
	return domain.OrderRequest{
		AccountID:   strings.TrimSpace(r.AccountID),
		Action:      domain.Action(strings.ToUpper(strings.TrimSpace(r.Action))),
		Instrument:  ref,
		OrderType:   domain.OrderType(strings.TrimSpace(r.OrderType)),
		TimeInForce: domain.TimeInForce(strings.TrimSpace(r.TimeInForce)),
		Units:       r.Units,
		Price:       r.Price,
		Stop:        r.Stop,
		Notional:    r.NotionalValue,
	}
}

type placeCheckedRequest struct {
	identity
	TradeID       string `json:"tradeId"`
	WaitToConfirm *bool  `json:"wait_to_confirm"`
}

type cancelRequest struct {
	identity
	AccountID        string `json:"accountId"`
	BrokerageOrderID string `json:"brokerage_order_id"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

type existingConnection struct {
	ExistingConnectionID string                   `json:"existingConnectionId"`
	Broker               string                   `json:"broker"`
	Refresh              connection.RefreshResult `json:"refresh"`
}

type connectResponse struct {
	Message          string `json:"message"`
	UserSecret       string `json:"userSecret"`
	ConnectionStatus any    `json:"connectionStatus"`
}

type connectionsResponse struct {
	Connections []connection.Summary `json:"connections"`
}

type accountsResponse struct {
	Accounts []domain.Account `json:"accounts"`
}

type symbolsResponse struct {
	Symbols []domain.Symbol `json:"symbols"`
}

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}
