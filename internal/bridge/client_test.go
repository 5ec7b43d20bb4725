package bridge

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "ChainFlow-Agent/internal/errors"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when base url is missing")
	}
}

func TestQuoteTransfer(t *testing.T) {
	var captured struct {
		Authorization string
		Path          string
		Body          map[string]string
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"quote_id":      "q-42",
			"from_chain":    "base",
			"to_chain":      "arbitrum",
			"asset":         "USDC",
			"estimated_fee": "1200",
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	quote, err := client.QuoteTransfer(context.Background(), "base", "arbitrum", "USDC", big.NewInt(1000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.QuoteID != "q-42" {
		t.Fatalf("unexpected quote id: %s", quote.QuoteID)
	}
	if quote.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected amount: %s", quote.Amount)
	}
	if captured.Authorization != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", captured.Authorization)
	}
	if captured.Path != "/v1/quotes" {
		t.Fatalf("unexpected path: %s", captured.Path)
	}
	if captured.Body["amount"] != "1000" {
		t.Fatalf("unexpected body: %+v", captured.Body)
	}
}

func TestSubmitTransferMissingCorrelationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.SubmitTransfer(context.Background(), "q-1"); err == nil {
		t.Fatal("expected error on missing correlation id")
	}
}

func TestTransferStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers/corr-7" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"correlation_id": "corr-7",
			"status":         "completed",
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	transfer, err := client.TransferStatus(context.Background(), "corr-7")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if transfer.Status != TransferCompleted {
		t.Fatalf("unexpected status: %s", transfer.Status)
	}
}

func TestErrorResponseCarriesBridgeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "route unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.SubmitTransfer(context.Background(), "q-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := xerrors.CodeOf(err); code != xerrors.CodeBridgeFailure {
		t.Fatalf("expected BRIDGE_FAILURE, got %s", code)
	}
}
