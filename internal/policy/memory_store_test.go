package policy

import (
	"context"
	"testing"

	"PayRoute/internal/ledger"
)

func TestMemoryStorePutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	p := &SpendingPolicy{
		Owner:             "alice",
		Agent:             "agent-1",
		MaxPerTx:          100,
		MaxDaily:          250,
		WindowStart:       1_700_000_000,
		AllowedRecipients: []ledger.Account{"bob"},
		Active:            true,
	}
	if err := store.Put(ctx, p); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "alice", "agent-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MaxPerTx != 100 || got.MaxDaily != 250 {
		t.Fatalf("unexpected policy: %+v", got)
	}

	// The returned value is a copy: mutating it must not leak into the store.
	got.DailySpent = 999
	got.AllowedRecipients[0] = "mallory"
	fresh, err := store.Get(ctx, "alice", "agent-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fresh.DailySpent != 0 || fresh.AllowedRecipients[0] != "bob" {
		t.Fatal("store state leaked through returned snapshot")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "alice", "nope"); !IsPolicyError(err, CodePolicyNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	store := NewMemoryStore()
	p := &SpendingPolicy{Owner: "alice", Agent: "agent-1", MaxPerTx: 1, MaxDaily: 1}
	if err := store.Update(context.Background(), p); !IsPolicyError(err, CodePolicyNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestMemoryStoreListByOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, agent := range []string{"agent-b", "agent-a"} {
		p := &SpendingPolicy{Owner: "alice", Agent: ledger.Account(agent), MaxPerTx: 1, MaxDaily: 1, Active: true}
		if err := store.Put(ctx, p); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	other := &SpendingPolicy{Owner: "carol", Agent: "agent-c", MaxPerTx: 1, MaxDaily: 1}
	if err := store.Put(ctx, other); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	policies, err := store.ListByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}
	if policies[0].Agent != "agent-a" || policies[1].Agent != "agent-b" {
		t.Fatalf("expected agent-sorted order, got %s then %s", policies[0].Agent, policies[1].Agent)
	}
}
