package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderLookups(t *testing.T) {
	provider := NewStaticProvider([]Profile{
		{Account: "alice", Human: true, Adult: true, Tier: 2},
		{Account: "bob", Human: true, Adult: false, Tier: 0},
		{Account: "", Human: true},
	})

	ctx := context.Background()

	human, err := provider.IsHuman(ctx, "alice")
	if err != nil || !human {
		t.Fatalf("expected alice to be human, got %v err=%v", human, err)
	}
	adult, err := provider.IsAdult(ctx, "bob")
	if err != nil || adult {
		t.Fatalf("expected bob to be minor, got %v err=%v", adult, err)
	}
	tier, err := provider.Tier(ctx, "alice")
	if err != nil || tier != 2 {
		t.Fatalf("expected tier 2, got %d err=%v", tier, err)
	}

	// 未收录账户按未验证处理。
	human, err = provider.IsHuman(ctx, "stranger")
	if err != nil || human {
		t.Fatalf("expected stranger to be unverified, got %v err=%v", human, err)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")
	content := `[
  {"account": "alice", "human": true, "adult": true, "tier": 1}
]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write profiles: %v", err)
	}

	provider, err := LoadStaticProvider(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	human, err := provider.IsHuman(context.Background(), "alice")
	if err != nil || !human {
		t.Fatalf("expected alice to be human, got %v err=%v", human, err)
	}

	if _, err := LoadStaticProvider(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
