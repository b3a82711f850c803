package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	return tmp
}

func TestLoadDefaults(t *testing.T) {
	tmp := isolate(t)
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ChainID != 137 || settings.SlippageBps != 50 || settings.Deadline != 20*time.Minute {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if len(settings.FeeTiers) != 3 || settings.FeeTiers[0] != 500 {
		t.Fatalf("unexpected default fee tiers: %v", settings.FeeTiers)
	}
	if settings.WalletPath != filepath.Join(tmp, "data", "defi-agent", "wallets.db") {
		t.Fatalf("unexpected wallet path %s", settings.WalletPath)
	}
}

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := isolate(t)
	configPath := filepath.Join(tmp, "config.yaml")
	body := "output: plain\nretries: 1\nexecution:\n  slippage_bps: 100\nquote:\n  ttl: 45s\n  fee_tiers: [3000]\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DEFI_AGENT_OUTPUT", "json")
	t.Setenv("DEFI_AGENT_SLIPPAGE_BPS", "75")
	flags := GlobalFlags{ConfigPath: configPath, Plain: true, Retries: 5}
	settings, err := Load(flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.Retries != 5 {
		t.Fatalf("expected retries from flags, got %d", settings.Retries)
	}
	if settings.SlippageBps != 75 {
		t.Fatalf("expected env slippage to beat file, got %d", settings.SlippageBps)
	}
	if settings.QuoteTTL != 45*time.Second || len(settings.FeeTiers) != 1 || settings.FeeTiers[0] != 3000 {
		t.Fatalf("expected file quote settings, got ttl=%s tiers=%v", settings.QuoteTTL, settings.FeeTiers)
	}
}

func TestLoadEnvFile(t *testing.T) {
	tmp := isolate(t)
	envPath := filepath.Join(tmp, "agent.env")
	if err := os.WriteFile(envPath, []byte("DEFI_AGENT_LLM_MODEL=gemini-test\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("DEFI_AGENT_LLM_MODEL") })

	settings, err := Load(GlobalFlags{EnvFile: envPath, Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.LLMModel != "gemini-test" {
		t.Fatalf("expected model from env file, got %q", settings.LLMModel)
	}

	if _, err := Load(GlobalFlags{EnvFile: filepath.Join(tmp, "missing.env"), Retries: -1}); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	isolate(t)
	t.Setenv("DEFI_AGENT_SLIPPAGE_BPS", "10000")
	if _, err := Load(GlobalFlags{Retries: -1}); err == nil {
		t.Fatal("expected slippage validation error")
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	isolate(t)
	_, err := Load(GlobalFlags{JSON: true, Plain: true})
	if err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadChainByName(t *testing.T) {
	isolate(t)
	t.Setenv("DEFI_AGENT_CHAIN", "amoy")
	settings, err := Load(GlobalFlags{Retries: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.ChainID != 80002 {
		t.Fatalf("expected amoy chain id, got %d", settings.ChainID)
	}

	t.Setenv("DEFI_AGENT_CHAIN", "solana")
	if _, err := Load(GlobalFlags{Retries: -1}); err == nil {
		t.Fatal("expected unsupported chain name to fail")
	}
}
