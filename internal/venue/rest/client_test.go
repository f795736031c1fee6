package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal.NewFromString(%q): %v", s, err)
	}
	return d
}

func TestBuildHMACIsStableForSameInputs(t *testing.T) {
	t.Parallel()
	secret := "c2VjcmV0LWJ5dGVz" // base64 of "secret-bytes"
	sig1, err := buildHMAC(secret, "1700000000", "POST", "/orders", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	sig2, err := buildHMAC(secret, "1700000000", "POST", "/orders", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sig1 != sig2 {
		t.Error("expected identical inputs to produce identical signatures")
	}

	sig3, _ := buildHMAC(secret, "1700000001", "POST", "/orders", `{"a":1}`)
	if sig1 == sig3 {
		t.Error("expected a different timestamp to change the signature")
	}
}

func TestBuildHMACRejectsUndecodableSecret(t *testing.T) {
	t.Parallel()
	if _, err := buildHMAC("not base64 at all!!", "1700000000", "GET", "/orders", ""); err == nil {
		t.Error("expected an error for a secret that decodes under no known base64 variant")
	}
}

func TestFetchRESTBBOParsesDepth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orderbook" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(depthResponse{
			Bids: [][2]string{{"100.25", "2"}},
			Asks: [][2]string{{"100.5", "1"}},
		})
	}))
	defer srv.Close()

	cfg := Config{VenueID: types.VenueA, BaseURL: srv.URL, Markets: map[string]string{"BTC-PERP": "BTC-USD-PERP"}}
	a := New(cfg, slog.Default())

	bbo, err := a.FetchRESTBBO(context.Background(), "BTC-PERP")
	if err != nil {
		t.Fatalf("FetchRESTBBO: %v", err)
	}
	if !bbo.Bid.Equal(decimalFromString(t, "100.25")) || !bbo.Ask.Equal(decimalFromString(t, "100.5")) {
		t.Errorf("unexpected bbo %+v", bbo)
	}
}

func TestListInstrumentsParsesMarkets(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]instrumentResponse{
			{BaseAsset: "BTC", Market: "BTC-USD-PERP", QuoteAsset: "USD", MaxLeverage: "100"},
		})
	}))
	defer srv.Close()

	a := New(Config{VenueID: types.VenueA, BaseURL: srv.URL}, slog.Default())
	instruments, err := a.ListInstruments(context.Background())
	if err != nil {
		t.Fatalf("ListInstruments: %v", err)
	}
	if len(instruments) != 1 || instruments[0].BaseAsset != "BTC" {
		t.Errorf("unexpected instruments %+v", instruments)
	}
	if !instruments[0].MaxLeverage.Equal(decimalFromString(t, "100")) {
		t.Errorf("expected max leverage 100, got %s", instruments[0].MaxLeverage)
	}
}
