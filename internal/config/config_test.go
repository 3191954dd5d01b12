package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payroute.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Server.MetricsAddress != ":9090" {
		t.Fatalf("unexpected metrics address: %s", cfg.Server.MetricsAddress)
	}
	if cfg.Storage.PolicyStore.Driver != "memory" || cfg.Storage.SubscriptionStore.Driver != "memory" {
		t.Fatalf("unexpected storage drivers: %+v", cfg.Storage)
	}
	if cfg.Ledger.Driver != "memory" {
		t.Fatalf("unexpected ledger driver: %s", cfg.Ledger.Driver)
	}
	if cfg.Queue.Worker != 4 {
		t.Fatalf("unexpected worker count: %d", cfg.Queue.Worker)
	}
	if cfg.Keeper.Executor != "keeper" || cfg.Keeper.ScanInterval != 15 || cfg.Keeper.BatchSize != 100 {
		t.Fatalf("unexpected keeper defaults: %+v", cfg.Keeper)
	}
	if cfg.Router.Treasury != "treasury" {
		t.Fatalf("unexpected treasury: %s", cfg.Router.Treasury)
	}
	if cfg.Vault.Pool != "vault-pool" {
		t.Fatalf("unexpected vault pool: %s", cfg.Vault.Pool)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeTempConfig(t, `{
  "ledger": {"driver": "ethereum", "chains_path": "chains.yaml", "chain": "sepolia"},
  "identity": {"source": "identities.json"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	baseDir := filepath.Dir(path)
	if cfg.Ledger.ChainsPath != filepath.Join(baseDir, "chains.yaml") {
		t.Fatalf("chains path not resolved: %s", cfg.Ledger.ChainsPath)
	}
	if cfg.Identity.Source != filepath.Join(baseDir, "identities.json") {
		t.Fatalf("identity source not resolved: %s", cfg.Identity.Source)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `{
  "server": {"address": ":9999"},
  "queue": {"driver": "redis", "worker": 8},
  "router": {"treasury": "fee-sink", "fee_bps": 30}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Queue.Driver != "redis" || cfg.Queue.Worker != 8 {
		t.Fatalf("unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Router.Treasury != "fee-sink" || cfg.Router.FeeBps != 30 {
		t.Fatalf("unexpected router config: %+v", cfg.Router)
	}
}
