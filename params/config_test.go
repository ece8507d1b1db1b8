package params

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Feed.ReconnectMax != 5 {
		t.Errorf("reconnect budget = %d, want 5", cfg.Feed.ReconnectMax)
	}
	if cfg.Feed.BackoffMin != time.Second || cfg.Feed.BackoffMax != 30*time.Second {
		t.Errorf("backoff = %v..%v, want 1s..30s", cfg.Feed.BackoffMin, cfg.Feed.BackoffMax)
	}
	if cfg.Watchdog.Interval != 60*time.Second {
		t.Errorf("watchdog interval = %v, want 60s", cfg.Watchdog.Interval)
	}
	if cfg.Order.GracePeriod != 5*time.Minute {
		t.Errorf("grace period = %v, want 5m", cfg.Order.GracePeriod)
	}
	if cfg.Ledger.ChainID.Int64() != 1337 {
		t.Errorf("chain id = %s, want 1337", cfg.Ledger.ChainID)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_RPC_URL", "ws://node:8546")
	t.Setenv("VAULT_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("CHAIN_ID", "42161")
	t.Setenv("FEED_RECONNECT_MAX", "9")
	t.Setenv("FEED_BACKOFF_MIN_MS", "250")
	t.Setenv("WATCHDOG_INTERVAL_MS", "5000")
	t.Setenv("GRACE_PERIOD_MS", "120000")

	cfg := LoadFromEnv("")

	if cfg.Ledger.RPCURL != "ws://node:8546" {
		t.Errorf("rpc url = %s", cfg.Ledger.RPCURL)
	}
	want := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if cfg.Ledger.VaultAddr != want {
		t.Errorf("vault = %s, want %s", cfg.Ledger.VaultAddr.Hex(), want.Hex())
	}
	if cfg.Ledger.ChainID.Int64() != 42161 {
		t.Errorf("chain id = %s, want 42161", cfg.Ledger.ChainID)
	}
	if cfg.Feed.ReconnectMax != 9 {
		t.Errorf("reconnect budget = %d, want 9", cfg.Feed.ReconnectMax)
	}
	if cfg.Feed.BackoffMin != 250*time.Millisecond {
		t.Errorf("backoff min = %v, want 250ms", cfg.Feed.BackoffMin)
	}
	if cfg.Watchdog.Interval != 5*time.Second {
		t.Errorf("watchdog interval = %v, want 5s", cfg.Watchdog.Interval)
	}
	if cfg.Order.GracePeriod != 2*time.Minute {
		t.Errorf("grace period = %v, want 2m", cfg.Order.GracePeriod)
	}
}

func TestMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("CHAIN_ID", "not-a-number")
	t.Setenv("FEED_RECONNECT_MAX", "many")
	t.Setenv("WATCHDOG_INTERVAL_MS", "soon")

	cfg := LoadFromEnv("")

	if cfg.Ledger.ChainID.Int64() != 1337 {
		t.Errorf("chain id = %s, want default 1337", cfg.Ledger.ChainID)
	}
	if cfg.Feed.ReconnectMax != 5 {
		t.Errorf("reconnect budget = %d, want default 5", cfg.Feed.ReconnectMax)
	}
	if cfg.Watchdog.Interval != 60*time.Second {
		t.Errorf("watchdog interval = %v, want default 60s", cfg.Watchdog.Interval)
	}
}
