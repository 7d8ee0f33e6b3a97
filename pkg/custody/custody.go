// Package custody implements the external side of deposits and withdrawals
package custody

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

var (
	ErrInsufficientFunds = errors.New("insufficient external funds")
	ErrInsufficientHeld  = errors.New("custody holds less than requested")
)

// Nop accepts every transfer. Balances then exist only in the ledger
type Nop struct{}

func (Nop) Pull(context.Context, common.Address, common.Address, int64) error    { return nil }
func (Nop) Release(context.Context, common.Address, common.Address, int64) error { return nil }

type wallet struct {
	trader common.Address
	asset  common.Address
}

// Vault simulates external token contracts: per-trader wallets per asset,
// plus the amount of each asset the exchange holds in custody
type Vault struct {
	mu      sync.Mutex
	wallets map[wallet]int64
	held    map[common.Address]int64
	log     *zap.SugaredLogger

	faucet int64             // minted to a wallet on its first pull
	funded map[wallet]bool
}

func NewVault(logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		wallets: make(map[wallet]int64),
		held:    make(map[common.Address]int64),
		funded:  make(map[wallet]bool),
		log:     logger.Sugar(),
	}
}

// NewFaucetVault is a Vault that funds every wallet with amount of an
// asset the first time that wallet deposits it
func NewFaucetVault(amount int64, logger *zap.Logger) *Vault {
	v := NewVault(logger)
	v.faucet = amount
	return v
}

// Mint credits a trader's external wallet (faucet)
func (v *Vault) Mint(trader, asset common.Address, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallets[wallet{trader, asset}] += amount
	v.log.Debugw("vault_mint", "trader", trader.Hex(), "asset", asset.Hex(), "amount", amount)
}

// Pull moves amount from the trader's wallet into custody
func (v *Vault) Pull(ctx context.Context, trader, asset common.Address, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	w := wallet{trader, asset}
	if v.faucet > 0 && !v.funded[w] {
		v.funded[w] = true
		v.wallets[w] += v.faucet
		v.log.Infow("faucet_funded", "trader", trader.Hex(), "asset", asset.Hex(), "amount", v.faucet)
	}
	if v.wallets[w] < amount {
		return errors.Wrapf(ErrInsufficientFunds, "wallet %s has %d of %s, need %d",
			trader.Hex(), v.wallets[w], asset.Hex(), amount)
	}
	v.wallets[w] -= amount
	v.held[asset] += amount
	return nil
}

// Release moves amount from custody back to the trader's wallet
func (v *Vault) Release(ctx context.Context, trader, asset common.Address, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.held[asset] < amount {
		return errors.Wrapf(ErrInsufficientHeld, "held %d of %s, release %d", v.held[asset], asset.Hex(), amount)
	}
	v.held[asset] -= amount
	v.wallets[wallet{trader, asset}] += amount
	return nil
}

// Restore rebuilds custody holdings for balances restored into the ledger
// Every wallet with a restored balance counts as already funded, so the
// faucet does not mint it again
func (v *Vault) Restore(balances []ledger.Entry, tokens []token.Token) error {
	assets := make(map[token.Ticker]common.Address, len(tokens))
	for _, t := range tokens {
		assets[t.Ticker] = t.Asset
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range balances {
		asset, ok := assets[e.Ticker]
		if !ok {
			return errors.Wrapf(token.ErrUnknownToken, "restore custody for %s", e.Ticker)
		}
		v.held[asset] += e.Balance
		v.funded[wallet{e.Trader, asset}] = true
	}
	v.log.Infow("vault_restored", "balances", len(balances), "assets", len(v.held))
	return nil
}

// WalletOf returns a trader's external balance of asset
func (v *Vault) WalletOf(trader, asset common.Address) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wallets[wallet{trader, asset}]
}

// Held returns how much of asset sits in custody
func (v *Vault) Held(asset common.Address) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held[asset]
}
