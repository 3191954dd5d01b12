package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"PayRoute/sdk/go/payroute"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/policies", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(payroute.SpendingPolicy{
				Owner:    "demo-owner",
				Agent:    "demo-agent",
				MaxPerTx: 100_000,
				MaxDaily: 500_000,
				Active:   true,
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/policies/execute", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(payroute.PaymentReceipt{
			ID:         "rcpt-demo",
			Owner:      "demo-owner",
			Agent:      "demo-agent",
			Recipient:  "merchant",
			Amount:     25_000,
			DailySpent: 25_000,
			ExecutedAt: time.Now().Unix(),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := payroute.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.CreatePolicy(ctx, payroute.CreatePolicyRequest{
		Owner:    "demo-owner",
		Agent:    "demo-agent",
		MaxPerTx: 100_000,
		MaxDaily: 500_000,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("created policy for agent %s (max per tx %d)\n", created.Agent, created.MaxPerTx)

	receipt, err := client.ExecutePayment(ctx, "demo-owner", "demo-agent", "merchant", 25_000)
	if err != nil {
		panic(err)
	}
	fmt.Printf("payment %s settled, daily spent now %d\n", receipt.ID, receipt.DailySpent)
}
