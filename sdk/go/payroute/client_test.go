package payroute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreatePolicyRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/policies" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req CreatePolicyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(SpendingPolicy{
			Owner:    req.Owner,
			Agent:    req.Agent,
			MaxPerTx: req.MaxPerTx,
			MaxDaily: req.MaxDaily,
			Active:   true,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	created, err := client.CreatePolicy(context.Background(), CreatePolicyRequest{
		Owner:    "alice",
		Agent:    "agent-1",
		MaxPerTx: 100,
		MaxDaily: 500,
	})
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}
	if created.Agent != "agent-1" || !created.Active {
		t.Fatalf("unexpected policy: %+v", created)
	}
}

func TestExecutePaymentQueryEncoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/policies/execute":
			_ = json.NewEncoder(w).Encode(PaymentReceipt{ID: "rcpt-1", Amount: 75})
		case "/api/v1/policies":
			if got := r.URL.Query().Get("owner"); got != "alice & co" {
				t.Fatalf("owner query not decoded: %q", got)
			}
			_ = json.NewEncoder(w).Encode([]SpendingPolicy{{Owner: "alice & co"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	receipt, err := client.ExecutePayment(context.Background(), "alice", "agent-1", "merchant", 75)
	if err != nil {
		t.Fatalf("execute payment: %v", err)
	}
	if receipt.Amount != 75 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	policies, err := client.ListPolicies(context.Background(), "alice & co")
	if err != nil {
		t.Fatalf("list policies: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected one policy, got %d", len(policies))
	}
}

func TestSubscriptionLifecycleCalls(t *testing.T) {
	cancelled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/subscriptions":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Subscription{ID: 7, Status: "active"})
		case "/api/v1/subscriptions/execute":
			_ = json.NewEncoder(w).Encode(SubscriptionReceipt{SubscriptionID: 7, Amount: 1000, Tip: 10})
		case "/api/v1/subscriptions/cancel":
			var req struct {
				Caller string `json:"caller"`
				ID     uint64 `json:"id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("unexpected body: %v", err)
			}
			if req.Caller != "bob" || req.ID != 7 {
				t.Fatalf("unexpected transition payload: %+v", req)
			}
			cancelled = true
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	created, err := client.CreateSubscription(context.Background(), CreateSubscriptionRequest{
		Payer:     "bob",
		Recipient: "merchant",
		Amount:    1000,
		Interval:  3600,
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if created.ID != 7 {
		t.Fatalf("unexpected subscription id: %d", created.ID)
	}

	receipt, err := client.ExecuteSubscription(context.Background(), 7, "keeper")
	if err != nil {
		t.Fatalf("execute subscription: %v", err)
	}
	if receipt.Tip != 10 {
		t.Fatalf("unexpected tip: %d", receipt.Tip)
	}

	if err := client.CancelSubscription(context.Background(), "bob", 7); err != nil {
		t.Fatalf("cancel subscription: %v", err)
	}
	if !cancelled {
		t.Fatal("cancel request never reached the server")
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "daily limit exceeded",
			"code":  "POLICY_DAILY_LIMIT_EXCEEDED",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.ExecutePayment(context.Background(), "alice", "agent-1", "merchant", 10)
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "POLICY_DAILY_LIMIT_EXCEEDED" {
		t.Fatalf("unexpected error code: %s", apiErr.Code)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}
