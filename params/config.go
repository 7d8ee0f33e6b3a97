package params

import (
	"sort"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

type Node struct {
	APIAddr     string   `env:"API_ADDR" envDefault:":8080"`
	DataDir     string   `env:"DATA_DIR" envDefault:"data"`
	LogFile     string   `env:"LOG_FILE" envDefault:"data/node.log"` // empty: stdout only
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	Persist     bool     `env:"PERSIST" envDefault:"true"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

type Exchange struct {
	SettlementTicker token.Ticker   `env:"SETTLEMENT_TICKER" envDefault:"DAI"`
	SettlementAsset  common.Address `env:"SETTLEMENT_ASSET" envDefault:"0x6B175474E89094C44Da98b954EedeAC495271d0F"`
	// symbol=asset pairs listed at startup
	Tokens map[string]string `env:"TOKENS" envSeparator:"," envKeyValSeparator:"=" envDefault:"REP=0x1985365e9f78359a9B6AD760e32412f4a445E862,BAT=0x0D8775F648430679A709E98d2b0Cb6250d2887EF,ZRX=0xE41d2489571d322189246DaFA5ebDe1F4699F498"`
	// Faucet > 0 backs deposits with an in-memory vault that mints this much
	// of every token to a wallet on first use (devnet only)
	Faucet int64 `env:"FAUCET" envDefault:"0"`
}

type Kafka struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"trades"`
	Buffer  int      `env:"BUFFER" envDefault:"1024"`
}

type Config struct {
	Node     Node     `envPrefix:"NODE_"`
	Exchange Exchange `envPrefix:"DEX_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`
}

// Default returns the built-in configuration, ignoring the environment
func Default() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err) // only reachable if a default tag is malformed
	}
	return cfg
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	// .env is optional
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if cfg.Exchange.Faucet < 0 {
		return Config{}, errors.Newf("DEX_FAUCET must not be negative: %d", cfg.Exchange.Faucet)
	}
	return cfg, nil
}

// Settlement returns the settlement token
func (e Exchange) Settlement() token.Token {
	return token.Token{Ticker: e.SettlementTicker, Asset: e.SettlementAsset}
}

// TokenList parses the configured tradable tokens, sorted by symbol
func (e Exchange) TokenList() ([]token.Token, error) {
	symbols := make([]string, 0, len(e.Tokens))
	for s := range e.Tokens {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	tokens := make([]token.Token, 0, len(symbols))
	for _, s := range symbols {
		ticker, err := token.NewTicker(s)
		if err != nil {
			return nil, err
		}
		addr := e.Tokens[s]
		if !common.IsHexAddress(addr) {
			return nil, errors.Newf("token %s: invalid asset address %q", s, addr)
		}
		tokens = append(tokens, token.Token{Ticker: ticker, Asset: common.HexToAddress(addr)})
	}
	return tokens, nil
}
