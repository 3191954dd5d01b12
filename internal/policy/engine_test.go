package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"PayRoute/internal/clock"
	"PayRoute/internal/ledger"
)

func newTestEngine(t *testing.T, clk clock.Clock, funds int64) (*Engine, *ledger.MemoryLedger) {
	t.Helper()

	l := ledger.NewMemoryLedger()
	l.Mint("alice", funds)

	engine, err := NewEngine(NewMemoryStore(), l, WithClock(clk))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, l
}

func basePolicy() *SpendingPolicy {
	return &SpendingPolicy{
		Owner:    "alice",
		Agent:    "agent-1",
		MaxPerTx: 100,
		MaxDaily: 250,
	}
}

func TestCreatePolicyValidation(t *testing.T) {
	engine, _ := newTestEngine(t, clock.NewManual(time.Unix(1_700_000_000, 0)), 1000)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*SpendingPolicy)
	}{
		{"empty owner", func(p *SpendingPolicy) { p.Owner = "" }},
		{"empty agent", func(p *SpendingPolicy) { p.Agent = "" }},
		{"owner equals agent", func(p *SpendingPolicy) { p.Agent = p.Owner }},
		{"zero maxPerTx", func(p *SpendingPolicy) { p.MaxPerTx = 0 }},
		{"maxDaily below maxPerTx", func(p *SpendingPolicy) { p.MaxDaily = p.MaxPerTx - 1 }},
		{"expiry in the past", func(p *SpendingPolicy) { p.ExpiresAt = 1 }},
	}
	for _, tc := range cases {
		p := basePolicy()
		tc.mutate(p)
		if _, err := engine.CreatePolicy(ctx, p, -1); !IsPolicyError(err, CodeValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreatePolicyResetsSpendState(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	engine, _ := newTestEngine(t, clk, 1000)
	ctx := context.Background()

	if _, err := engine.CreatePolicy(ctx, basePolicy(), -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 80); err != nil {
		t.Fatalf("ExecutePayment failed: %v", err)
	}

	// Re-creating the same (owner, agent) policy is the documented reset path.
	recreated, err := engine.CreatePolicy(ctx, basePolicy(), -1)
	if err != nil {
		t.Fatalf("CreatePolicy overwrite failed: %v", err)
	}
	if recreated.DailySpent != 0 {
		t.Fatalf("expected dailySpent reset to 0, got %d", recreated.DailySpent)
	}
	if recreated.WindowStart != clk.Now().Unix() {
		t.Fatalf("expected windowStart %d, got %d", clk.Now().Unix(), recreated.WindowStart)
	}
}

func TestExecutePaymentDailyWindow(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	engine, _ := newTestEngine(t, clk, 10_000)
	ctx := context.Background()

	if _, err := engine.CreatePolicy(ctx, basePolicy(), -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	// 100 + 100 consume the window, the third 100 must be rejected,
	// a final 50 still fits exactly.
	for i, amount := range []int64{100, 100} {
		receipt, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", amount)
		if err != nil {
			t.Fatalf("payment %d failed: %v", i, err)
		}
		if want := int64(100 * (i + 1)); receipt.DailySpent != want {
			t.Fatalf("payment %d: expected dailySpent %d, got %d", i, want, receipt.DailySpent)
		}
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 100); !IsPolicyError(err, CodeDailyLimitExceeded) {
		t.Fatalf("expected daily limit error, got %v", err)
	}
	receipt, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 50)
	if err != nil {
		t.Fatalf("final payment failed: %v", err)
	}
	if receipt.DailySpent != 250 {
		t.Fatalf("expected dailySpent 250, got %d", receipt.DailySpent)
	}
}

func TestExecutePaymentWindowRollover(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewManual(start)
	engine, _ := newTestEngine(t, clk, 10_000)
	ctx := context.Background()

	if _, err := engine.CreatePolicy(ctx, basePolicy(), -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 100); err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 100); err != nil {
		t.Fatalf("second payment failed: %v", err)
	}

	// One second before the 24h boundary the window is still closed.
	clk.Set(start.Add(24*time.Hour - time.Second))
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 100); !IsPolicyError(err, CodeDailyLimitExceeded) {
		t.Fatalf("expected daily limit error before rollover, got %v", err)
	}

	// At the boundary the spent counter resets lazily.
	clk.Set(start.Add(24 * time.Hour))
	receipt, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 100)
	if err != nil {
		t.Fatalf("payment after rollover failed: %v", err)
	}
	if receipt.DailySpent != 100 {
		t.Fatalf("expected dailySpent 100 after rollover, got %d", receipt.DailySpent)
	}
}

func TestExecutePaymentPerTxLimit(t *testing.T) {
	engine, _ := newTestEngine(t, clock.NewManual(time.Unix(1_700_000_000, 0)), 10_000)
	ctx := context.Background()

	if _, err := engine.CreatePolicy(ctx, basePolicy(), -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 101); !IsPolicyError(err, CodePerTxLimitExceeded) {
		t.Fatalf("expected per-tx limit error, got %v", err)
	}
}

func TestExecutePaymentRecipientWhitelist(t *testing.T) {
	engine, _ := newTestEngine(t, clock.NewManual(time.Unix(1_700_000_000, 0)), 10_000)
	ctx := context.Background()

	p := basePolicy()
	p.AllowedRecipients = []ledger.Account{"bob", "carol"}
	if _, err := engine.CreatePolicy(ctx, p, -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "mallory", 10); !IsPolicyError(err, CodeRecipientNotAllowed) {
		t.Fatalf("expected whitelist rejection, got %v", err)
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "carol", 10); err != nil {
		t.Fatalf("whitelisted payment failed: %v", err)
	}
}

func TestExecutePaymentTransferFailureKeepsState(t *testing.T) {
	engine, l := newTestEngine(t, clock.NewManual(time.Unix(1_700_000_000, 0)), 150)
	ctx := context.Background()

	if _, err := engine.CreatePolicy(ctx, basePolicy(), -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 100); err != nil {
		t.Fatalf("funded payment failed: %v", err)
	}

	// Only 50 left on the funding account: the ledger rejects, and the
	// rejection must not consume any of the daily window.
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 100); !IsPolicyError(err, CodeTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	p, err := engine.GetPolicy(ctx, "alice", "agent-1")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.DailySpent != 100 {
		t.Fatalf("expected dailySpent unchanged at 100, got %d", p.DailySpent)
	}
	if balance, _ := l.BalanceOf(ctx, "alice"); balance != 50 {
		t.Fatalf("expected balance 50, got %d", balance)
	}
}

func TestExecutePaymentStatusErrors(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	engine, _ := newTestEngine(t, clk, 10_000)
	ctx := context.Background()

	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 10); !IsPolicyError(err, CodePolicyNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}

	p := basePolicy()
	p.ExpiresAt = clk.Now().Unix() + 3600
	if _, err := engine.CreatePolicy(ctx, p, -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	clk.Advance(2 * time.Hour)
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 10); !IsPolicyError(err, CodePolicyExpired) {
		t.Fatalf("expected expired error, got %v", err)
	}

	clk.Set(time.Unix(1_700_000_000, 0))
	if err := engine.RevokePolicy(ctx, "alice", "alice", "agent-1"); err != nil {
		t.Fatalf("RevokePolicy failed: %v", err)
	}
	if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 10); !IsPolicyError(err, CodePolicyInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
}

func TestRevokePolicyOwnerOnly(t *testing.T) {
	engine, _ := newTestEngine(t, clock.NewManual(time.Unix(1_700_000_000, 0)), 1000)
	ctx := context.Background()

	if _, err := engine.CreatePolicy(ctx, basePolicy(), -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if err := engine.RevokePolicy(ctx, "mallory", "alice", "agent-1"); !IsPolicyError(err, CodeNotOwner) {
		t.Fatalf("expected not-owner error, got %v", err)
	}
	if err := engine.RevokePolicy(ctx, "alice", "alice", "agent-1"); err != nil {
		t.Fatalf("owner revoke failed: %v", err)
	}
	// Revoking twice is a no-op.
	if err := engine.RevokePolicy(ctx, "alice", "alice", "agent-1"); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
}

func TestCreatePolicyTierClamp(t *testing.T) {
	l := ledger.NewMemoryLedger()
	engine, err := NewEngine(NewMemoryStore(), l,
		WithClock(clock.NewManual(time.Unix(1_700_000_000, 0))),
		WithTierLimits(NewTierLimits([]TierCaps{
			{MaxPerTx: 50, MaxDaily: 200},
			{MaxPerTx: 500, MaxDaily: 2000},
		})),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	p := basePolicy()
	p.MaxPerTx = 400
	p.MaxDaily = 5000
	created, err := engine.CreatePolicy(context.Background(), p, 0)
	if err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}
	if created.MaxPerTx != 50 || created.MaxDaily != 200 {
		t.Fatalf("expected tier-0 caps 50/200, got %d/%d", created.MaxPerTx, created.MaxDaily)
	}
}

func TestExecutePaymentConcurrentSameKey(t *testing.T) {
	engine, _ := newTestEngine(t, clock.NewManual(time.Unix(1_700_000_000, 0)), 100_000)
	ctx := context.Background()

	p := basePolicy()
	p.MaxPerTx = 10
	p.MaxDaily = 100
	if _, err := engine.CreatePolicy(ctx, p, -1); err != nil {
		t.Fatalf("CreatePolicy failed: %v", err)
	}

	// 30 racing payments of 10 against a 100 daily limit: exactly 10 succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.ExecutePayment(ctx, "alice", "agent-1", "bob", 10); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successes, got %d", succeeded)
	}
	got, err := engine.GetPolicy(ctx, "alice", "agent-1")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if got.DailySpent != 100 {
		t.Fatalf("expected dailySpent 100, got %d", got.DailySpent)
	}
}
