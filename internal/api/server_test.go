package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PayRoute/internal/clock"
	"PayRoute/internal/identity"
	"PayRoute/internal/ledger"
	"PayRoute/internal/policy"
	"PayRoute/internal/router"
	"PayRoute/internal/subscription"
	"PayRoute/internal/vault"
)

func newTestServer(t *testing.T) (*Server, *ledger.MemoryLedger) {
	t.Helper()

	l := ledger.NewMemoryLedger()
	l.Mint("alice", 1_000_000)

	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	engine, err := policy.NewEngine(policy.NewMemoryStore(), l, policy.WithClock(clk))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	scheduler, err := subscription.NewScheduler(subscription.NewMemoryStore(), l, subscription.WithClock(clk))
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	payments, err := router.NewRouter(l, "treasury", 10)
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	v, err := vault.NewVault(l, "vault-pool")
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	server := NewServer(":0", engine, scheduler,
		WithPayments(payments),
		WithVault(v),
		WithHistory(l),
	)
	return server, l
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPolicyLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	routes := server.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/api/v1/policies", map[string]any{
		"owner":      "alice",
		"agent":      "agent-1",
		"max_per_tx": 1000,
		"max_daily":  2500,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create policy: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, routes, http.MethodPost, "/api/v1/policies/execute", map[string]any{
		"owner":     "alice",
		"agent":     "agent-1",
		"recipient": "bob",
		"amount":    800,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute payment: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var receipt policy.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.DailySpent != 800 {
		t.Fatalf("expected dailySpent 800, got %d", receipt.DailySpent)
	}

	// Over the per-tx limit maps to 409.
	rec = doJSON(t, routes, http.MethodPost, "/api/v1/policies/execute", map[string]any{
		"owner":     "alice",
		"agent":     "agent-1",
		"recipient": "bob",
		"amount":    1200,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for per-tx limit, got %d", rec.Code)
	}

	// Revoke by a stranger maps to 403.
	rec = doJSON(t, routes, http.MethodPost, "/api/v1/policies/revoke", map[string]any{
		"caller": "mallory",
		"owner":  "alice",
		"agent":  "agent-1",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger revoke, got %d", rec.Code)
	}

	rec = doJSON(t, routes, http.MethodGet, "/api/v1/policies?owner=alice&agent=agent-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get policy: expected 200, got %d", rec.Code)
	}
}

func TestPolicyNotFoundOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.Routes(), http.MethodGet, "/api/v1/policies?owner=alice&agent=ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSubscriptionLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	routes := server.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"payer":     "alice",
		"recipient": "merchant",
		"amount":    1000,
		"interval":  3600,
		"tip_bps":   100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create subscription: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created subscription.Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode subscription: %v", err)
	}

	rec = doJSON(t, routes, http.MethodPost, "/api/v1/subscriptions/execute", map[string]any{
		"id":       created.ID,
		"executor": "keeper",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute subscription: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	// The slot is consumed: a second execution maps to 409.
	rec = doJSON(t, routes, http.MethodPost, "/api/v1/subscriptions/execute", map[string]any{
		"id":       created.ID,
		"executor": "keeper",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for not-due execution, got %d", rec.Code)
	}

	rec = doJSON(t, routes, http.MethodPost, "/api/v1/subscriptions/cancel", map[string]any{
		"caller": "alice",
		"id":     created.ID,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, routes, http.MethodPost, "/api/v1/subscriptions/resume", map[string]any{
		"caller": "alice",
		"id":     created.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 resuming cancelled subscription, got %d", rec.Code)
	}

	rec = doJSON(t, routes, http.MethodGet, "/api/v1/subscriptions?payer=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list subscriptions: expected 200, got %d", rec.Code)
	}
}

func TestPaymentsAndAnalyticsOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	routes := server.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/api/v1/payments", map[string]any{
		"sender":    "alice",
		"recipient": "bob",
		"amount":    100_000,
		"route_id":  "route1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("send payment: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var receipt router.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Fee != 100 {
		t.Fatalf("expected fee 100, got %d", receipt.Fee)
	}

	rec = doJSON(t, routes, http.MethodPost, "/api/v1/vault/deposit", map[string]any{
		"user":   "alice",
		"amount": 5000,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("vault deposit: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, routes, http.MethodGet, "/api/v1/analytics?user=alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics: expected 200, got %d", rec.Code)
	}
	var analytics analyticsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &analytics); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if analytics.TotalSent != 99_900 {
		t.Fatalf("expected total sent 99900, got %d", analytics.TotalSent)
	}
	if analytics.UniqueRecipients != 1 {
		t.Fatalf("expected 1 unique recipient, got %d", analytics.UniqueRecipients)
	}
	if analytics.VaultBalance != 5000 || analytics.VaultTVL != 5000 {
		t.Fatalf("expected vault balance/TVL 5000, got %d/%d", analytics.VaultBalance, analytics.VaultTVL)
	}
}

func TestIdentityGateOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	server.identity = identity.NewStaticProvider([]identity.Profile{
		{Account: "alice", Human: true, Adult: true, Tier: 2},
	})
	routes := server.Routes()

	// Unverified owners cannot create policies when the gate is enabled.
	rec := doJSON(t, routes, http.MethodPost, "/api/v1/policies", map[string]any{
		"owner":      "anon",
		"agent":      "agent-1",
		"max_per_tx": 1000,
		"max_daily":  2500,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unverified owner, got %d", rec.Code)
	}

	rec = doJSON(t, routes, http.MethodPost, "/api/v1/policies", map[string]any{
		"owner":      "alice",
		"agent":      "agent-1",
		"max_per_tx": 1000,
		"max_daily":  2500,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for verified owner, got %d (%s)", rec.Code, rec.Body.String())
	}
}
