package broker

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSnapTradeBrokerName(t *testing.T) {
	b, err := NewSnapTradeBroker(SnapTradeOptions{ClientID: "id", ConsumerKey: "key", BaseURL: "https://api.snaptrade.com/api/v1"})
	if err != nil {
		t.Fatalf("NewSnapTradeBroker: %v", err)
	}
	if got := b.Name(); got != "snaptrade" {
		t.Errorf("SnapTradeBroker.Name() = %q, want %q", got, "snaptrade")
	}
}

func TestNewSnapTradeBrokerRejectsRelativeURL(t *testing.T) {
	if _, err := NewSnapTradeBroker(SnapTradeOptions{BaseURL: "/api/v1"}); err == nil {
		t.Error("expected error for relative base url")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(SimulatorOptions{})
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSignerKnownVectors(t *testing.T) {
	s := NewSigner("test-consumer-key")

	tests := []struct {
		name  string
		path  string
		query string
		body  []byte
		want  string
	}{
		{
			name:  "with body",
			path:  "/api/v1/snapTrade/registerUser",
			query: "clientId=TEST&timestamp=1700000000",
			body:  []byte(`{"userId": "user-1"}`),
			want:  "XvNvpL3/xDUTZmjLTONm0tu4qJsIiG0WvtGeV2iFzo0=",
		},
		{
			name:  "without body",
			path:  "/api/v1/accounts",
			query: "clientId=TEST&timestamp=1700000000&userId=user-1&userSecret=s3cret",
			want:  "NGWeyMSTJjHYv0uQi4qR6RtLLVS/PaztS4wnUFCg5Kc=",
		},
		{
			name:  "html characters stay literal",
			path:  "/p",
			query: "a=1&b=2",
			body:  []byte(`{"note":"a<b&c>d"}`),
			want:  "NoVxcvQWyxm2jz8ZO0SvbZd+3M2+VHeItMtxuUtm8v8=",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sign(tt.path, tt.query, tt.body)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if got != tt.want {
				t.Errorf("Sign() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshalRawKeepsAmpersand(t *testing.T) {
	got, err := marshalRaw(sigObject{Content: json.RawMessage("null"), Path: "/p", Query: "a=1&b=2"})
	if err != nil {
		t.Fatalf("marshalRaw: %v", err)
	}
	if want := `{"content":null,"path":"/p","query":"a=1&b=2"}`; string(got) != want {
		t.Errorf("marshalRaw() = %s, want %s", got, want)
	}
}

func TestSignerKeyOrderIndependent(t *testing.T) {
	s := NewSigner("k")
	a, _ := s.Sign("/p", "q=1", []byte(`{"b":1,"a":"x"}`))
	b, _ := s.Sign("/p", "q=1", []byte(`{ "a" : "x", "b" : 1 }`))
	if a != b {
		t.Errorf("signatures differ for equivalent bodies: %q vs %q", a, b)
	}
}

func TestSignerWipe(t *testing.T) {
	s := NewSigner("k")
	before, _ := s.Sign("/p", "", nil)
	s.Wipe()
	after, _ := s.Sign("/p", "", nil)
	if before == after {
		t.Error("signature unchanged after Wipe")
	}
}

func TestNumberPreservesPrecision(t *testing.T) {
	d := decimal.RequireFromString("0.000123456789")
	n := number(&d)
	if n == nil || n.String() != "0.000123456789" {
		t.Errorf("number() = %v", n)
	}
	if number(nil) != nil {
		t.Error("number(nil) should be nil")
	}
}

func TestToHoldingsAddsFractionalUnits(t *testing.T) {
	units := decimal.NewFromInt(3)
	frac := decimal.RequireFromString("0.5")
	price := decimal.NewFromInt(10)
	h := toHoldings(stHoldings{Positions: []stPosition{{Units: &units, FractionalUnits: &frac, Price: &price}}})

	if len(h.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(h.Positions))
	}
	p := h.Positions[0]
	if !p.Units.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("Units = %s, want 3.5", p.Units)
	}
	if !p.MarketValue.Equal(decimal.NewFromInt(35)) {
		t.Errorf("MarketValue = %s, want 35", p.MarketValue)
	}
}

func TestToSymbolFallsBackToName(t *testing.T) {
	got := toSymbol(stUniversalSymbol{ID: "1", Symbol: "AAPL", Name: "Apple"})
	if got.Description != "Apple" {
		t.Errorf("Description = %q, want %q", got.Description, "Apple")
	}
	got = toSymbol(stUniversalSymbol{ID: "1", Symbol: "AAPL", Description: "Apple Inc.", Name: "Apple"})
	if got.Description != "Apple Inc." {
		t.Errorf("Description = %q, want %q", got.Description, "Apple Inc.")
	}
}
