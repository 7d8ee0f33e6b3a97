package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Node.APIAddr != ":8080" {
		t.Errorf("APIAddr = %q, want :8080", cfg.Node.APIAddr)
	}
	if !cfg.Node.Persist {
		t.Error("Persist should default to true")
	}
	if cfg.Exchange.SettlementTicker != token.MustTicker("DAI") {
		t.Errorf("settlement = %s, want DAI", cfg.Exchange.SettlementTicker)
	}
	if cfg.Kafka.Enabled {
		t.Error("kafka should be off by default")
	}

	tokens, err := cfg.Exchange.TokenList()
	if err != nil {
		t.Fatalf("TokenList: %v", err)
	}
	want := []string{"BAT", "REP", "ZRX"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %+v, want %v", tokens, want)
	}
	for i, w := range want {
		if tokens[i].Ticker.String() != w {
			t.Errorf("tokens[%d] = %s, want %s", i, tokens[i].Ticker, w)
		}
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("NODE_API_ADDR", ":9090")
	t.Setenv("NODE_PERSIST", "false")
	t.Setenv("DEX_SETTLEMENT_TICKER", "USDC")
	t.Setenv("DEX_SETTLEMENT_ASSET", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	t.Setenv("DEX_TOKENS", "WETH=0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	t.Setenv("DEX_FAUCET", "500")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Node.APIAddr != ":9090" || cfg.Node.Persist {
		t.Errorf("node = %+v", cfg.Node)
	}
	settlement := cfg.Exchange.Settlement()
	if settlement.Ticker.String() != "USDC" ||
		settlement.Asset != common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48") {
		t.Errorf("settlement = %+v", settlement)
	}
	tokens, err := cfg.Exchange.TokenList()
	if err != nil || len(tokens) != 1 || tokens[0].Ticker.String() != "WETH" {
		t.Errorf("tokens = %+v, %v; want [WETH]", tokens, err)
	}
	if cfg.Exchange.Faucet != 500 {
		t.Errorf("faucet = %d, want 500", cfg.Exchange.Faucet)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NODE_LOG_LEVEL=debug\nKAFKA_TOPIC=fills\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables already set
	t.Setenv("KAFKA_TOPIC", "from-env")
	t.Setenv("NODE_LOG_LEVEL", "")
	os.Unsetenv("NODE_LOG_LEVEL") // t.Setenv restores it afterwards

	cfg, err := LoadFromEnv(path)
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Node.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug from file", cfg.Node.LogLevel)
	}
	if cfg.Kafka.Topic != "from-env" {
		t.Errorf("topic = %q, want environment to win", cfg.Kafka.Topic)
	}
}

func TestLoadFromEnvRejects(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad ticker", "DEX_SETTLEMENT_TICKER", "NOT A TICKER"},
		{"bad settlement asset", "DEX_SETTLEMENT_ASSET", "nope"},
		{"negative faucet", "DEX_FAUCET", "-1"},
		{"bad bool", "NODE_PERSIST", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(filepath.Join(t.TempDir(), "none.env")); err == nil {
				t.Errorf("%s=%q accepted", tt.key, tt.value)
			}
		})
	}

	t.Run("bad token address", func(t *testing.T) {
		t.Setenv("DEX_TOKENS", "REP=0x12")
		cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "none.env"))
		if err != nil {
			t.Fatalf("LoadFromEnv: %v", err)
		}
		if _, err := cfg.Exchange.TokenList(); err == nil {
			t.Error("short token address accepted")
		}
	})
}
