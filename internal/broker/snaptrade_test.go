package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerlink/internal/apperr"
	"brokerlink/internal/domain"
)

const testConsumerKey = "consumer-key"

type capturedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   map[string]any
}

// newTestBackend starts a server that answers 401 to badly signed requests
// and with the given status and body otherwise.
func newTestBackend(t *testing.T, status int, body string) (*SnapTradeBroker, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	signer := NewSigner(testConsumerKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		want, err := signer.Sign(r.URL.EscapedPath(), r.URL.RawQuery, raw)
		if err != nil || want != r.Header.Get("Signature") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"signature mismatch"}`)
			return
		}

		captured.Method = r.Method
		captured.Path = r.URL.EscapedPath()
		captured.Query = map[string]string{}
		for k := range r.URL.Query() {
			captured.Query[k] = r.URL.Query().Get(k)
		}
		captured.Body = nil
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &captured.Body))
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	b, err := NewSnapTradeBroker(SnapTradeOptions{
		ClientID:    "CLIENT",
		ConsumerKey: testConsumerKey,
		BaseURL:     srv.URL + "/api/v1",
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	b.now = func() time.Time { return time.Unix(1700000000, 0) }
	return b, captured
}

var testIdentity = domain.Identity{UserID: "user-1", UserSecret: "secret-1"}

func TestRegisterUser(t *testing.T) {
	b, got := newTestBackend(t, http.StatusOK, `{"userId":"user-1","userSecret":"fresh"}`)

	secret, err := b.RegisterUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", secret)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/v1/snapTrade/registerUser", got.Path)
	assert.Equal(t, "CLIENT", got.Query["clientId"])
	assert.Equal(t, "1700000000", got.Query["timestamp"])
	assert.Equal(t, "user-1", got.Body["userId"])
}

func TestCloseWipesConsumerKey(t *testing.T) {
	b, _ := newTestBackend(t, http.StatusOK, `{"userId":"user-1","userSecret":"fresh"}`)
	require.NoError(t, b.Close())

	_, err := b.RegisterUser(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(err))
}

func TestListAuthorizations(t *testing.T) {
	b, got := newTestBackend(t, http.StatusOK,
		`[{"id":"A1","disabled":false,"brokerage":{"id":"B1","slug":"ALPACA","name":"Alpaca","aws_s3_logo_url":"https://logo"}}]`)

	auths, err := b.ListAuthorizations(context.Background(), testIdentity)
	require.NoError(t, err)
	require.Len(t, auths, 1)
	assert.Equal(t, "A1", auths[0].ID)
	assert.Equal(t, "https://logo", auths[0].Brokerage.LogoURL)
	assert.Equal(t, "user-1", got.Query["userId"])
	assert.Equal(t, "secret-1", got.Query["userSecret"])
}

func TestGetActivitiesSendsDefaults(t *testing.T) {
	b, got := newTestBackend(t, http.StatusOK,
		`{"data":[{"id":"tx1","type":"BUY","symbol":{"symbol":"AAPL"},"currency":{"code":"USD"}}],"pagination":{"offset":0,"limit":1000,"total":1}}`)

	page, err := b.GetActivities(context.Background(), testIdentity, domain.ActivityQuery{AccountID: "acc 1"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/accounts/acc%201/activities", got.Path)
	assert.Equal(t, "0", got.Query["offset"])
	assert.Equal(t, "1000", got.Query["limit"])
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "AAPL", page.Transactions[0].Symbol)
	assert.Equal(t, "USD", page.Transactions[0].Currency)
	assert.Equal(t, 1, page.Pagination.Total)
}

func TestCheckOrderImpactParsesStagedTrade(t *testing.T) {
	b, got := newTestBackend(t, http.StatusOK,
		`{"trade":{"id":"T1","universal_symbol_id":"U1"},"trade_impacts":[{"remaining_cash":500}]}`)

	units := decimal.NewFromInt(10)
	staged, err := b.CheckOrderImpact(context.Background(), testIdentity, domain.OrderRequest{
		AccountID:   "acc1",
		Action:      domain.ActionBuy,
		Instrument:  domain.InstrumentRef{UniversalSymbolID: "U1"},
		OrderType:   domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceDay,
		Units:       &units,
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", staged.TradeID())
	require.NotNil(t, staged.RemainingCash())
	assert.True(t, staged.RemainingCash().Equal(decimal.NewFromInt(500)))

	assert.Equal(t, "/api/v1/trade/impact", got.Path)
	assert.Equal(t, "U1", got.Body["universal_symbol_id"])
	assert.Equal(t, 10.0, got.Body["units"])
	assert.NotContains(t, got.Body, "price")
}

func TestPlaceForceOrderAddressing(t *testing.T) {
	tests := []struct {
		name     string
		ref      domain.InstrumentRef
		wantID   any
		wantTick any
	}{
		{"id wins when both given", domain.InstrumentRef{UniversalSymbolID: "U1", Symbol: "AAPL"}, "U1", nil},
		{"symbol only", domain.InstrumentRef{Symbol: "AAPL"}, nil, "AAPL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, got := newTestBackend(t, http.StatusOK, `{"brokerage_order_id":"B-9"}`)

			out, err := b.PlaceForceOrder(context.Background(), testIdentity, domain.OrderRequest{
				AccountID:   "acc1",
				Action:      domain.ActionSell,
				Instrument:  tt.ref,
				OrderType:   domain.OrderTypeMarket,
				TimeInForce: domain.TimeInForceDay,
			})
			require.NoError(t, err)
			assert.Equal(t, "B-9", out.BrokerageOrderID)

			require.Contains(t, got.Body, "universal_symbol_id")
			require.Contains(t, got.Body, "symbol")
			assert.Equal(t, tt.wantID, got.Body["universal_symbol_id"])
			assert.Equal(t, tt.wantTick, got.Body["symbol"])
		})
	}
}

func TestPlaceCheckedOrderSendsWaitFlag(t *testing.T) {
	b, got := newTestBackend(t, http.StatusOK, `{"brokerage_order_id":"B-1","status":"EXECUTED"}`)

	out, err := b.PlaceCheckedOrder(context.Background(), testIdentity, "T1", false)
	require.NoError(t, err)
	assert.Equal(t, "EXECUTED", out.Status)
	assert.Equal(t, "/api/v1/trade/T1", got.Path)
	assert.Equal(t, false, got.Body["wait_to_confirm"])
}

func TestCancelOrder(t *testing.T) {
	b, got := newTestBackend(t, http.StatusOK, `{"brokerage_order_id":"B-1","status":"CANCELED"}`)

	out, err := b.CancelOrder(context.Background(), testIdentity, "acc1", "B-1")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", out.Status)
	assert.Equal(t, "/api/v1/accounts/acc1/orders/cancel", got.Path)
	assert.Equal(t, "B-1", got.Body["brokerage_order_id"])
}

func TestBackendErrorPassesThrough(t *testing.T) {
	b, _ := newTestBackend(t, http.StatusBadRequest, `{"detail":"Insufficient buying power","code":"1076"}`)

	_, err := b.PlaceForceOrder(context.Background(), testIdentity, domain.OrderRequest{
		AccountID:  "acc1",
		Action:     domain.ActionBuy,
		Instrument: domain.InstrumentRef{Symbol: "AAPL"},
	})
	require.Error(t, err)

	var oe *apperr.OperationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusBadRequest, oe.Status)
	assert.Equal(t, "Insufficient buying power", oe.Msg)
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))
}

func TestBackendErrorWithoutPayload(t *testing.T) {
	b, _ := newTestBackend(t, http.StatusNotFound, ``)

	err := b.RefreshAuthorization(context.Background(), testIdentity, "A1")
	var oe *apperr.OperationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, http.StatusNotFound, oe.Status)
	assert.Equal(t, "Not Found", oe.Msg)
}

func TestSearchSymbols(t *testing.T) {
	b, got := newTestBackend(t, http.StatusOK,
		`[{"id":"U1","symbol":"AAPL","description":"Apple Inc."},{"id":"U2","symbol":"APLE","name":"Apple Hospitality"}]`)

	syms, err := b.SearchSymbols(context.Background(), testIdentity, "acc1", "AP")
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "Apple Hospitality", syms[1].Description)
	assert.Equal(t, "AP", got.Body["substring"])
}
