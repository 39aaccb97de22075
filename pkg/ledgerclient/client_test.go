package ledgerclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBroadcastSendsBearerAndParsesReference(t *testing.T) {
	var gotAuth, gotPath string
	var gotAmount string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var payload struct {
			Data struct {
				Attributes struct {
					Amount string `json:"amount"`
				} `json:"attributes"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		gotAmount = payload.Data.Attributes.Amount

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"ledger-ref-1","type":"Transaction","attributes":{"status":"pending"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	res, err := client.Broadcast(context.Background(), "btc", "from", "to", decimal.RequireFromString("0.000000000000000001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotPath != "/v1/btc/transactions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAmount != "0.000000000000000001" {
		t.Fatalf("amount must be sent without rounding, got %q", gotAmount)
	}
	if res.Reference != "ledger-ref-1" || !res.Pending {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestBroadcastRejectsMissingReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"attributes":{"status":"pending"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	if _, err := client.Broadcast(context.Background(), "eth", "a", "b", decimal.NewFromInt(1)); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestStatusParsesConfirmations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/eth/transactions/0xabc" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"0xabc","attributes":{"status":"confirming","confirmations":7}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	res, err := client.Status(context.Background(), "eth", "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confirmations != 7 || res.RawStatus != "confirming" {
		t.Fatalf("unexpected status %+v", res)
	}
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"errors":[{"title":"Upstream unavailable","detail":"node offline","status":"502"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	_, err := client.Status(context.Background(), "btc", "ref")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || firstErrorTitle(apiErr) != "Upstream unavailable" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestUnparsableErrorBodyStillTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	_, err := client.Balance(context.Background(), "btc", "addr")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected APIError with status 500, got %v", err)
	}
}

func TestTimeoutIsTyped(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "secret", 50*time.Millisecond, nil)
	_, err := client.Status(context.Background(), "btc", "ref")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	if _, err := client.Status(context.Background(), "btc", "ref"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/btc/addresses/bc1qxyz/balance" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"attributes":{"balance":"1.23456789"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	got, err := client.Balance(context.Background(), "btc", "bc1qxyz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("1.23456789")) {
		t.Fatalf("unexpected balance %s", got)
	}
}

func TestNotConfigured(t *testing.T) {
	client := NewClient("", "secret", time.Second, nil)
	if _, err := client.Status(context.Background(), "btc", "ref"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
