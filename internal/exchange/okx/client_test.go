package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketflow/internal/retry"
)

func testClient(t *testing.T, handler http.HandlerFunc, creds Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, RequestsPerSec: 1000, Burst: 1000}, creds)
}

func TestFetchTickerDecodesEnvelope(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/market/ticker" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("instId"); got != "BTC-USDT-SWAP" {
			t.Errorf("instId = %s", got)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT-SWAP","last":"43250.1","open24h":"42800.0","high24h":"43500.0","low24h":"42000.0","vol24h":"1000","volCcy24h":"43000000","bidPx":"43250.0","bidSz":"2","askPx":"43250.2","askSz":"3","ts":"1718000000000"}]}`))
	}, Credentials{})

	raw, err := c.FetchTicker(context.Background(), "BTC-USDT-SWAP")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if raw.Last != "43250.1" {
		t.Errorf("last = %s", raw.Last)
	}
}

func TestNonZeroCodeBecomesAPIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	}, Credentials{})

	_, err := c.FetchTicker(context.Background(), "NOPE-USDT-SWAP")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Code != "51001" {
		t.Errorf("code = %s", apiErr.Code)
	}
	if kind := retry.Classify(err); kind != retry.KindInvalidSymbol {
		t.Errorf("classified as %s", kind)
	}
}

func TestHTTP429MapsToRateLimit(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, Credentials{})

	_, err := c.FetchTicker(context.Background(), "BTC-USDT-SWAP")
	if kind := retry.Classify(err); kind != retry.KindRateLimit {
		t.Fatalf("classified as %s, err = %v", kind, err)
	}
}

func TestSignedRequestCarriesHeaders(t *testing.T) {
	creds := Credentials{APIKey: "key", SecretKey: "secret", Passphrase: "phrase"}
	var checked bool
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		checked = true
		if got := r.Header.Get("OK-ACCESS-KEY"); got != "key" {
			t.Errorf("OK-ACCESS-KEY = %s", got)
		}
		if got := r.Header.Get("OK-ACCESS-PASSPHRASE"); got != "phrase" {
			t.Errorf("OK-ACCESS-PASSPHRASE = %s", got)
		}
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		if ts == "" {
			t.Error("missing OK-ACCESS-TIMESTAMP")
		}
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(ts + "GET" + r.URL.RequestURI()))
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("OK-ACCESS-SIGN"); got != want {
			t.Errorf("OK-ACCESS-SIGN = %s, want %s", got, want)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"details":[{"ccy":"USDT","eq":"1000","availBal":"900","frozenBal":"100"}]}]}`))
	}, creds)

	details, err := c.fetchBalances(context.Background())
	if err != nil {
		t.Fatalf("fetchBalances: %v", err)
	}
	if !checked {
		t.Fatal("handler never ran")
	}
	if len(details) != 1 || details[0].Ccy != "USDT" {
		t.Fatalf("details = %+v", details)
	}
}

func TestPrivateEndpointWithoutCredentials(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}, Credentials{})

	if _, err := c.fetchBalances(context.Background()); err == nil {
		t.Fatal("want error without credentials")
	}
}

func TestPlaceOrderRejectedSubCode(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"","clOrdId":"","sCode":"51008","sMsg":"insufficient balance"}]}`))
	}, Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"})

	_, err := c.placeOrder(context.Background(), orderRequestBody{InstID: "BTC-USDT-SWAP", TdMode: "cross", Side: "buy", OrdType: "market", Sz: "1"})
	if kind := retry.Classify(err); kind != retry.KindInsufficientBalance {
		t.Fatalf("classified as %s, err = %v", kind, err)
	}
}
