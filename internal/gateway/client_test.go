package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/baganov/pizzanat-system/internal/model"
)

func TestCreatePayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/payments" {
			t.Fatalf("path = %s, want /payments", r.URL.Path)
		}
		if r.Header.Get("Idempotence-Key") == "" {
			t.Fatal("missing Idempotence-Key header")
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop-1" || pass != "secret" {
			t.Fatalf("basic auth = %s:%s, want shop-1:secret", user, pass)
		}

		var req wireCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Amount.Value != "650.50" {
			t.Fatalf("amount = %s, want 650.50", req.Amount.Value)
		}
		if req.PaymentMethodData.Type != "sbp" {
			t.Fatalf("method = %s, want sbp", req.PaymentMethodData.Type)
		}
		if req.Metadata.OrderID != "42" {
			t.Fatalf("order id = %s, want 42", req.Metadata.OrderID)
		}

		resp := wirePayment{
			ID:     "pay-abc",
			Status: "pending",
			Amount: wireAmount{Value: "650.50", Currency: "RUB"},
			Confirmation: &wireConfirmation{
				Type:            "redirect",
				ConfirmationURL: "https://gateway.test/confirm/pay-abc",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "shop-1", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	info, err := client.CreatePayment(ctx, CreatePaymentParams{
		OrderID:   42,
		Amount:    65050,
		Method:    model.PaymentMethodSBP,
		ReturnURL: "https://pizzanat.test/orders/42",
	})
	if err != nil {
		t.Fatalf("CreatePayment error: %v", err)
	}
	if info.ID != "pay-abc" {
		t.Fatalf("id = %s, want pay-abc", info.ID)
	}
	if info.Status != model.PaymentStatusPending {
		t.Fatalf("status = %s, want PENDING", info.Status)
	}
	if info.Amount != 65050 {
		t.Fatalf("amount = %d, want 65050", info.Amount)
	}
	if info.ConfirmationURL != "https://gateway.test/confirm/pay-abc" {
		t.Fatalf("unexpected confirmation url: %s", info.ConfirmationURL)
	}
}

func TestGetPayment_CanceledWireStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay-abc" {
			t.Fatalf("path = %s, want /payments/pay-abc", r.URL.Path)
		}

		resp := wirePayment{
			ID:                  "pay-abc",
			Status:              "canceled",
			Amount:              wireAmount{Value: "100.00", Currency: "RUB"},
			CancellationDetails: &wireCancellationDetails{Reason: "expired_on_confirmation"},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "shop-1", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	info, err := client.GetPayment(ctx, "pay-abc")
	if err != nil {
		t.Fatalf("GetPayment error: %v", err)
	}
	if info.Status != model.PaymentStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", info.Status)
	}
	if info.CancellationReason != "expired_on_confirmation" {
		t.Fatalf("unexpected cancellation reason: %s", info.CancellationReason)
	}
}

func TestCancelPayment_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/payments/pay-abc/cancel" {
			t.Fatalf("path = %s, want /payments/pay-abc/cancel", r.URL.Path)
		}
		if r.Header.Get("Idempotence-Key") == "" {
			t.Fatal("Idempotence-Key header is empty")
		}

		resp := wirePayment{
			ID:                  "pay-abc",
			Status:              "canceled",
			Amount:              wireAmount{Value: "100.00", Currency: "RUB"},
			CancellationDetails: &wireCancellationDetails{Reason: "canceled_by_merchant"},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "shop-1", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	info, err := client.CancelPayment(ctx, "pay-abc")
	if err != nil {
		t.Fatalf("CancelPayment error: %v", err)
	}
	if info.Status != model.PaymentStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", info.Status)
	}
}

func TestGetPayment_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "shop-1", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.GetPayment(ctx, "missing")
	if err != ErrPaymentNotFound {
		t.Fatalf("err = %v, want ErrPaymentNotFound", err)
	}
}

func TestGetPayment_UnknownStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := wirePayment{
			ID:     "pay-abc",
			Status: "refunded",
			Amount: wireAmount{Value: "100.00", Currency: "RUB"},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "shop-1", "secret")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.GetPayment(ctx, "pay-abc"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		value   string
		want    int64
		wantErr bool
	}{
		{value: "650.50", want: 65050},
		{value: "100.00", want: 10000},
		{value: "100", want: 10000},
		{value: "0.05", want: 5},
		{value: "12.5", want: 1250},
		{value: "abc", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseAmount(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseAmount(%q): expected error", tt.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAmount(%q): %v", tt.value, err)
		}
		if got != tt.want {
			t.Fatalf("parseAmount(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := formatAmount(65050); got != "650.50" {
		t.Fatalf("formatAmount(65050) = %s, want 650.50", got)
	}
	if got := formatAmount(5); got != "0.05" {
		t.Fatalf("formatAmount(5) = %s, want 0.05", got)
	}
}
