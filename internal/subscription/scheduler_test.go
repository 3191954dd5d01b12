package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"PayRoute/internal/clock"
	"PayRoute/internal/ledger"
)

func newTestScheduler(t *testing.T, clk clock.Clock, funds int64) (*Scheduler, *ledger.MemoryLedger) {
	t.Helper()

	l := ledger.NewMemoryLedger()
	l.Mint("payer", funds)

	scheduler, err := NewScheduler(NewMemoryStore(), l, WithClock(clk))
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return scheduler, l
}

func baseSubscription() *Subscription {
	return &Subscription{
		Payer:     "payer",
		Recipient: "merchant",
		Token:     "USDC",
		Amount:    1000,
		Interval:  3600,
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	scheduler, _ := newTestScheduler(t, clock.NewManual(time.Unix(1_700_000_000, 0)), 0)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Subscription)
	}{
		{"empty payer", func(s *Subscription) { s.Payer = "" }},
		{"empty recipient", func(s *Subscription) { s.Recipient = "" }},
		{"payer equals recipient", func(s *Subscription) { s.Recipient = s.Payer }},
		{"zero amount", func(s *Subscription) { s.Amount = 0 }},
		{"zero interval", func(s *Subscription) { s.Interval = 0 }},
		{"negative tip", func(s *Subscription) { s.TipBps = -1 }},
		{"tip above 100%", func(s *Subscription) { s.TipBps = 10001 }},
		{"negative maxExecutions", func(s *Subscription) { s.MaxExecutions = -1 }},
	}
	for _, tc := range cases {
		sub := baseSubscription()
		tc.mutate(sub)
		if _, err := scheduler.Create(ctx, sub); !IsSubscriptionError(err, CodeValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreateSubscriptionDefaultsToDueNow(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	scheduler, _ := newTestScheduler(t, clk, 0)

	created, err := scheduler.Create(context.Background(), baseSubscription())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected a subscription id to be assigned")
	}
	if created.NextExecutionTime != clk.Now().Unix() {
		t.Fatalf("expected nextExecutionTime %d, got %d", clk.Now().Unix(), created.NextExecutionTime)
	}
	if created.Status != StatusActive {
		t.Fatalf("expected active status, got %s", created.Status)
	}
}

func TestExecuteFixedCadence(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewManual(start)
	scheduler, _ := newTestScheduler(t, clk, 100_000)
	ctx := context.Background()

	created, err := scheduler.Create(ctx, baseSubscription())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Execute late: the next slot still derives from the prior schedule,
	// not from the execution instant.
	clk.Advance(90 * time.Minute)
	receipt, err := scheduler.Execute(ctx, created.ID, "keeper")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if want := start.Unix() + 3600; receipt.NextExecutionTime != want {
		t.Fatalf("expected nextExecutionTime %d, got %d", want, receipt.NextExecutionTime)
	}

	// The late execution left the next slot already due as well.
	if _, err := scheduler.Execute(ctx, created.ID, "keeper"); err != nil {
		t.Fatalf("second execution failed: %v", err)
	}
	if _, err := scheduler.Execute(ctx, created.ID, "keeper"); !IsSubscriptionError(err, CodeNotDue) {
		t.Fatalf("expected not-due error, got %v", err)
	}
}

func TestExecuteTruncatedTip(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	scheduler, l := newTestScheduler(t, clk, 100_000)
	ctx := context.Background()

	sub := baseSubscription()
	sub.Amount = 999
	sub.TipBps = 100 // 1%
	created, err := scheduler.Create(ctx, sub)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	receipt, err := scheduler.Execute(ctx, created.ID, "keeper")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if receipt.Tip != 9 {
		t.Fatalf("expected truncated tip 9, got %d", receipt.Tip)
	}
	if balance, _ := l.BalanceOf(ctx, "keeper"); balance != 9 {
		t.Fatalf("expected keeper balance 9, got %d", balance)
	}
	if balance, _ := l.BalanceOf(ctx, "merchant"); balance != 999 {
		t.Fatalf("expected merchant balance 999, got %d", balance)
	}
}

func TestExecuteExhaustion(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	scheduler, _ := newTestScheduler(t, clk, 100_000)
	ctx := context.Background()

	sub := baseSubscription()
	sub.MaxExecutions = 2
	created, err := scheduler.Create(ctx, sub)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := scheduler.Execute(ctx, created.ID, "keeper"); err != nil {
			t.Fatalf("execution %d failed: %v", i, err)
		}
		clk.Advance(time.Hour)
	}

	got, err := scheduler.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusExhausted {
		t.Fatalf("expected exhausted status, got %s", got.Status)
	}
	if _, err := scheduler.Execute(ctx, created.ID, "keeper"); !IsSubscriptionError(err, CodeSubscriptionInactive) {
		t.Fatalf("expected inactive error, got %v", err)
	}
	// An exhausted subscription cannot be resumed.
	if err := scheduler.Resume(ctx, "payer", created.ID); !IsSubscriptionError(err, CodeSubscriptionTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestExecutePrincipalFailureKeepsSlot(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	scheduler, l := newTestScheduler(t, clk, 500)
	ctx := context.Background()

	created, err := scheduler.Create(ctx, baseSubscription())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Payer holds 500 against a 1000 principal: the attempt fails and
	// must not consume the scheduling slot.
	if _, err := scheduler.Execute(ctx, created.ID, "keeper"); !IsSubscriptionError(err, CodeTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	got, err := scheduler.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ExecutionCount != 0 {
		t.Fatalf("expected executionCount 0, got %d", got.ExecutionCount)
	}
	if got.NextExecutionTime != created.NextExecutionTime {
		t.Fatal("failed attempt must not advance the schedule")
	}

	// Once funded the same slot executes.
	l.Mint("payer", 1000)
	if _, err := scheduler.Execute(ctx, created.ID, "keeper"); err != nil {
		t.Fatalf("funded execution failed: %v", err)
	}
}

func TestExecuteTipFailureKeepsPrincipal(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	scheduler, l := newTestScheduler(t, clk, 1000)
	ctx := context.Background()

	sub := baseSubscription()
	sub.TipBps = 500
	created, err := scheduler.Create(ctx, sub)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Exactly the principal is funded: the tip transfer fails afterwards,
	// but the principal stays delivered and the schedule advances.
	receipt, err := scheduler.Execute(ctx, created.ID, "keeper")
	if !IsSubscriptionError(err, CodeTipTransferFailed) {
		t.Fatalf("expected tip failure, got %v", err)
	}
	if receipt == nil || receipt.Tip != 0 {
		t.Fatalf("expected receipt with zero tip, got %+v", receipt)
	}
	if balance, _ := l.BalanceOf(ctx, "merchant"); balance != 1000 {
		t.Fatalf("expected merchant balance 1000, got %d", balance)
	}
	got, err := scheduler.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ExecutionCount != 1 {
		t.Fatalf("expected executionCount 1, got %d", got.ExecutionCount)
	}
}

func TestPauseResumeCancel(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	scheduler, _ := newTestScheduler(t, clk, 100_000)
	ctx := context.Background()

	created, err := scheduler.Create(ctx, baseSubscription())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := scheduler.Pause(ctx, "mallory", created.ID); !IsSubscriptionError(err, CodeNotPayer) {
		t.Fatalf("expected not-payer error, got %v", err)
	}
	if err := scheduler.Pause(ctx, "payer", created.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if _, err := scheduler.Execute(ctx, created.ID, "keeper"); !IsSubscriptionError(err, CodeSubscriptionInactive) {
		t.Fatalf("expected inactive error while paused, got %v", err)
	}
	if err := scheduler.Resume(ctx, "payer", created.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if _, err := scheduler.Execute(ctx, created.ID, "keeper"); err != nil {
		t.Fatalf("execution after resume failed: %v", err)
	}

	if err := scheduler.Cancel(ctx, "payer", created.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := scheduler.Resume(ctx, "payer", created.ID); !IsSubscriptionError(err, CodeSubscriptionTerminal) {
		t.Fatalf("expected terminal error resuming cancelled subscription, got %v", err)
	}
	if err := scheduler.Pause(ctx, "payer", created.ID); !IsSubscriptionError(err, CodeSubscriptionTerminal) {
		t.Fatalf("expected terminal error pausing cancelled subscription, got %v", err)
	}
}

func TestExecuteConcurrentSingleSlot(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	scheduler, l := newTestScheduler(t, clk, 100_000)
	ctx := context.Background()

	created, err := scheduler.Create(ctx, baseSubscription())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Many executors race on one due slot: exactly one succeeds, the rest
	// observe the advanced schedule and report not-due.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, notDue := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := scheduler.Execute(ctx, created.ID, "keeper")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case IsSubscriptionError(err, CodeNotDue):
				notDue++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly 1 success, got %d", succeeded)
	}
	if notDue != 15 {
		t.Fatalf("expected 15 not-due results, got %d", notDue)
	}
	if balance, _ := l.BalanceOf(ctx, "merchant"); balance != 1000 {
		t.Fatalf("expected a single principal delivery, merchant holds %d", balance)
	}
}
