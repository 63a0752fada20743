package broker

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"brokerlink/internal/domain"
)

// ---------------------------------------------------------------------------
// SnapTrade wire types (only the fields brokerlink reads)
// ---------------------------------------------------------------------------

type stRegisterUserRequest struct {
	UserID string `json:"userId"`
}

type stRegisterUserResponse struct {
	UserID     string `json:"userId"`
	UserSecret string `json:"userSecret"`
}

type stLoginRequest struct {
	Broker            string `json:"broker,omitempty"`
	ImmediateRedirect bool   `json:"immediateRedirect"`
}

type stAmount struct {
	Amount   *decimal.Decimal `json:"amount"`
	Currency string           `json:"currency"`
}

type stBalance struct {
	Total *stAmount `json:"total"`
}

func (b *stBalance) total() *decimal.Decimal {
	if b == nil || b.Total == nil {
		return nil
	}
	return b.Total.Amount
}

type stAccount struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Number          string     `json:"number"`
	InstitutionName string     `json:"institution_name"`
	Balance         *stBalance `json:"balance"`
	Status          string     `json:"status"`
	Meta            *struct {
		Type string `json:"type"`
	} `json:"meta"`
}

type stUniversalSymbol struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Name        string `json:"name"`
}

type stPosition struct {
	Symbol *struct {
		Symbol *stUniversalSymbol `json:"symbol"`
	} `json:"symbol"`
	Units                *decimal.Decimal `json:"units"`
	FractionalUnits      *decimal.Decimal `json:"fractional_units"`
	Price                *decimal.Decimal `json:"price"`
	AveragePurchasePrice *decimal.Decimal `json:"average_purchase_price"`
	OpenPnL              *decimal.Decimal `json:"open_pnl"`
}

type stOptionPosition struct {
	Symbol *struct {
		OptionSymbol *struct {
			Ticker         string           `json:"ticker"`
			OptionType     string           `json:"option_type"`
			StrikePrice    *decimal.Decimal `json:"strike_price"`
			ExpirationDate string           `json:"expiration_date"`
		} `json:"option_symbol"`
	} `json:"symbol"`
	Units *decimal.Decimal `json:"units"`
	Price *decimal.Decimal `json:"price"`
}

type stHoldings struct {
	Account         *stAccount         `json:"account"`
	Positions       []stPosition       `json:"positions"`
	OptionPositions []stOptionPosition `json:"option_positions"`
	TotalValue      *struct {
		Value    *decimal.Decimal `json:"value"`
		Currency string           `json:"currency"`
	} `json:"total_value"`
}

type stActivity struct {
	ID     string `json:"id"`
	Symbol *struct {
		Symbol string `json:"symbol"`
	} `json:"symbol"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	OptionType  string           `json:"option_type"`
	Units       *decimal.Decimal `json:"units"`
	Price       *decimal.Decimal `json:"price"`
	Amount      *decimal.Decimal `json:"amount"`
	Currency    *struct {
		Code string `json:"code"`
	} `json:"currency"`
	TradeDate      string           `json:"trade_date"`
	SettlementDate string           `json:"settlement_date"`
	Fee            *decimal.Decimal `json:"fee"`
	Institution    string           `json:"institution"`
}

type stActivities struct {
	Data       []stActivity       `json:"data"`
	Pagination *domain.Pagination `json:"pagination"`
}

type stSymbolSearchRequest struct {
	Substring string `json:"substring"`
}

// stImpactRequest addresses the instrument by universal symbol id only.
type stImpactRequest struct {
	AccountID         string       `json:"account_id"`
	Action            string       `json:"action"`
	UniversalSymbolID string       `json:"universal_symbol_id"`
	OrderType         string       `json:"order_type"`
	TimeInForce       string       `json:"time_in_force"`
	Price             *json.Number `json:"price,omitempty"`
	Stop              *json.Number `json:"stop,omitempty"`
	Units             *json.Number `json:"units,omitempty"`
	NotionalValue     *json.Number `json:"notional_value,omitempty"`
}

// stForceOrderRequest always carries both addressing keys; exactly one of
// them is non-null.
type stForceOrderRequest struct {
	AccountID         string       `json:"account_id"`
	Action            string       `json:"action"`
	UniversalSymbolID *string      `json:"universal_symbol_id"`
	Symbol            *string      `json:"symbol"`
	OrderType         string       `json:"order_type"`
	TimeInForce       string       `json:"time_in_force"`
	Price             *json.Number `json:"price,omitempty"`
	Stop              *json.Number `json:"stop,omitempty"`
	Units             *json.Number `json:"units,omitempty"`
	NotionalValue     *json.Number `json:"notional_value,omitempty"`
}

type stPlaceCheckedRequest struct {
	WaitToConfirm bool `json:"wait_to_confirm"`
}

type stCancelRequest struct {
	BrokerageOrderID string `json:"brokerage_order_id"`
}

// stError covers the error payload shapes the backend returns.
type stError struct {
	Detail     string `json:"detail"`
	Message    string `json:"message"`
	Code       any    `json:"code"`
	StatusCode int    `json:"status_code"`
}

func (e stError) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// number renders d as an exact JSON number.
func number(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := json.Number(d.String())
	return &n
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func toAccount(a stAccount) domain.Account {
	acc := domain.Account{
		ID:              a.ID,
		Name:            a.Name,
		Number:          a.Number,
		InstitutionName: a.InstitutionName,
		Balance:         a.Balance.total(),
		Status:          a.Status,
	}
	if a.Meta != nil {
		acc.Type = a.Meta.Type
	}
	return acc
}

func toHoldings(h stHoldings) *domain.Holdings {
	out := &domain.Holdings{
		Positions:       make([]domain.Position, 0, len(h.Positions)),
		OptionPositions: make([]domain.OptionPosition, 0, len(h.OptionPositions)),
	}
	if h.Account != nil {
		out.Account = domain.HoldingsAccount{
			ID:              h.Account.ID,
			Name:            h.Account.Name,
			InstitutionName: h.Account.InstitutionName,
			Balance:         h.Account.Balance.total(),
		}
	}

	for _, p := range h.Positions {
		units := orZero(p.Units).Add(orZero(p.FractionalUnits))
		price := orZero(p.Price)
		pos := domain.Position{
			Units:                units,
			Price:                price,
			AveragePurchasePrice: p.AveragePurchasePrice,
			OpenPnL:              p.OpenPnL,
			MarketValue:          units.Mul(price),
		}
		if p.Symbol != nil && p.Symbol.Symbol != nil {
			pos.Symbol = p.Symbol.Symbol.Symbol
			pos.Description = p.Symbol.Symbol.Description
		}
		out.Positions = append(out.Positions, pos)
	}

	for _, o := range h.OptionPositions {
		units := orZero(o.Units)
		price := orZero(o.Price)
		opt := domain.OptionPosition{
			Units:       units,
			Price:       price,
			MarketValue: units.Mul(price),
		}
		if o.Symbol != nil && o.Symbol.OptionSymbol != nil {
			os := o.Symbol.OptionSymbol
			opt.Ticker = os.Ticker
			opt.OptionType = os.OptionType
			opt.StrikePrice = os.StrikePrice
			opt.ExpirationDate = os.ExpirationDate
		}
		out.OptionPositions = append(out.OptionPositions, opt)
	}

	if h.TotalValue != nil {
		out.TotalValue = &domain.Money{Value: orZero(h.TotalValue.Value), Currency: h.TotalValue.Currency}
	}
	return out
}

func toTransaction(a stActivity) domain.Transaction {
	tx := domain.Transaction{
		ID:             a.ID,
		Description:    a.Description,
		Type:           a.Type,
		OptionType:     a.OptionType,
		Units:          a.Units,
		Price:          a.Price,
		Amount:         a.Amount,
		TradeDate:      a.TradeDate,
		SettlementDate: a.SettlementDate,
		Fee:            a.Fee,
		Institution:    a.Institution,
	}
	if a.Symbol != nil {
		tx.Symbol = a.Symbol.Symbol
	}
	if a.Currency != nil {
		tx.Currency = a.Currency.Code
	}
	return tx
}

func toSymbol(s stUniversalSymbol) domain.Symbol {
	desc := s.Description
	if desc == "" {
		desc = s.Name
	}
	return domain.Symbol{ID: s.ID, Symbol: s.Symbol, Description: desc}
}
