package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/params"
	"github.com/uhyunpark/tokendex/pkg/api"
	"github.com/uhyunpark/tokendex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
	"github.com/uhyunpark/tokendex/pkg/custody"
	"github.com/uhyunpark/tokendex/pkg/publisher"
	"github.com/uhyunpark/tokendex/pkg/storage"
	"github.com/uhyunpark/tokendex/pkg/util"
)

func main() {
	app := &cli.App{
		Name:  "dexd",
		Usage: "single-venue token exchange",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "path to a .env file (default: ./.env if present)"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the exchange and its HTTP/websocket API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-addr", Usage: "override NODE_API_ADDR"},
				},
				Action: serve,
			},
			{
				Name:   "tokens",
				Usage:  "list the settlement token and the tradable tokens",
				Action: listTokens,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("dexd: %v", err)
	}
}

func serve(c *cli.Context) error {
	cfg, err := params.LoadFromEnv(c.String("env"))
	if err != nil {
		return err
	}
	if addr := c.String("api-addr"); addr != "" {
		cfg.Node.APIAddr = addr
	}

	logger, err := newLogger(cfg.Node)
	if err != nil {
		return errors.Wrap(err, "logger")
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		journal exchange.Journal
		history api.TradeHistory
		store   *storage.Store
	)
	if cfg.Node.Persist {
		store, err = storage.Open(filepath.Join(cfg.Node.DataDir, "exchange"), logger.Named("store"))
		if err != nil {
			return err
		}
		defer store.Close()
		journal, history = store, store
	}

	var (
		custodian exchange.Custody = custody.Nop{}
		vault     *custody.Vault
	)
	if cfg.Exchange.Faucet > 0 {
		vault = custody.NewFaucetVault(cfg.Exchange.Faucet, logger.Named("custody"))
		custodian = vault
		sugar.Warnw("faucet_enabled", "amount", cfg.Exchange.Faucet)
	}

	ex := exchange.New(exchange.Config{
		Settlement: cfg.Exchange.Settlement(),
		Custody:    custodian,
		Journal:    journal,
		Logger:     logger.Named("exchange"),
	})
	if store != nil {
		snap, err := store.Load()
		if err != nil {
			return err
		}
		if err := ex.Restore(snap); err != nil {
			return errors.Wrap(err, "restore exchange state")
		}
		if vault != nil {
			if err := vault.Restore(snap.Balances, ex.Tokens()); err != nil {
				return err
			}
		}
	}
	if err := registerConfigured(ex, cfg.Exchange); err != nil {
		return err
	}

	server := api.NewServer(ex, api.Options{
		Trades:      history,
		CORSOrigins: cfg.Node.CORSOrigins,
		Logger:      logger.Named("api"),
	})
	ex.OnTrade(server.OnTrade)

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		pub := publisher.New(
			publisher.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			cfg.Kafka.Buffer,
			logger.Named("kafka"),
		)
		ex.OnTrade(pub.Publish)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Run(ctx); err != nil {
				sugar.Errorw("publisher_stopped", "err", err)
			}
		}()
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	sugar.Infow("exchange_ready",
		"settlement", ex.Settlement().String(),
		"tokens", len(ex.Tokens()),
		"persist", cfg.Node.Persist,
	)
	err = server.Start(ctx, cfg.Node.APIAddr)
	stop()
	wg.Wait()
	return err
}

// registerConfigured registers configured tokens missing from the restored state
func registerConfigured(ex *exchange.Exchange, cfg params.Exchange) error {
	tokens, err := cfg.TokenList()
	if err != nil {
		return err
	}
	for _, t := range tokens {
		err := ex.RegisterToken(t.Ticker, t.Asset)
		if errors.Is(err, exchange.ErrDuplicateToken) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "register %s", t.Ticker)
		}
	}
	return nil
}

func listTokens(c *cli.Context) error {
	cfg, err := params.LoadFromEnv(c.String("env"))
	if err != nil {
		return err
	}
	settlement := cfg.Exchange.Settlement()
	tokens := []token.Token{settlement}

	configured, err := cfg.Exchange.TokenList()
	if err != nil {
		return err
	}
	tokens = append(tokens, configured...)

	if cfg.Node.Persist {
		store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "exchange"), nil)
		if err != nil {
			return err
		}
		defer store.Close()
		snap, err := store.Load()
		if err != nil {
			return err
		}
		seen := make(map[token.Ticker]bool, len(tokens))
		for _, t := range tokens {
			seen[t.Ticker] = true
		}
		for _, t := range snap.Tokens {
			if !seen[t.Ticker] {
				tokens = append(tokens, t)
			}
		}
	}

	for _, t := range tokens {
		role := "tradable"
		if t.Ticker == settlement.Ticker {
			role = "settlement"
		}
		fmt.Fprintf(c.App.Writer, "%-8s %s  %s\n", t.Ticker, t.Asset.Hex(), role)
	}
	return nil
}

func newLogger(cfg params.Node) (*zap.Logger, error) {
	if cfg.LogFile == "" {
		return util.NewLogger(cfg.LogLevel)
	}
	return util.NewLoggerWithFile(cfg.LogLevel, cfg.LogFile)
}
