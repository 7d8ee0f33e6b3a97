package exchange

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
	"github.com/uhyunpark/tokendex/pkg/util"
)

// Custody moves assets between a trader's external wallet and exchange custody
// Both calls must complete or fail as a unit
type Custody interface {
	Pull(ctx context.Context, trader, asset common.Address, amount int64) error
	Release(ctx context.Context, trader, asset common.Address, amount int64) error
}

type Config struct {
	Settlement token.Token
	Custody    Custody     // nil: deposits and withdrawals are ledger-only
	Journal    Journal     // nil: nothing is persisted
	Clock      util.Clock  // nil: wall clock
	Logger     *zap.Logger // nil: no logging
}

// Exchange owns the token registry, the balance ledger and one order book per
// tradable token. A single mutex serializes every operation, so each call is
// applied completely before the next one observes any state
type Exchange struct {
	mu sync.Mutex

	registry *token.Registry
	ledger   *ledger.Ledger
	books    map[token.Ticker]*orderbook.Book

	lastOrderID uint64
	lastTradeID uint64

	custody  Custody
	journal  Journal
	clock    util.Clock
	log      *zap.SugaredLogger
	handlers []func(Trade)
}

// New creates an exchange with only the settlement token registered
func New(cfg Config) *Exchange {
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Exchange{
		registry: token.NewRegistry(cfg.Settlement),
		ledger:   ledger.New(),
		books:    make(map[token.Ticker]*orderbook.Book),
		custody:  cfg.Custody,
		journal:  cfg.Journal,
		clock:    cfg.Clock,
		log:      cfg.Logger.Sugar(),
	}
}

// OnTrade registers a handler called for every trade, under the exchange lock
// Handlers must not call back into the exchange
func (e *Exchange) OnTrade(fn func(Trade)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, fn)
}

// Settlement returns the pricing ticker
func (e *Exchange) Settlement() token.Ticker {
	return e.registry.Settlement()
}

// RegisterToken lists a new tradable token and opens its book
func (e *Exchange) RegisterToken(ticker token.Ticker, asset common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.registry.Add(ticker, asset); err != nil {
		return err
	}
	e.books[ticker] = orderbook.NewBook(ticker)

	e.log.Infow("token_registered", "ticker", ticker.String(), "asset", asset.Hex())
	e.commit(&Batch{Token: &token.Token{Ticker: ticker, Asset: asset}})
	return nil
}

// Tokens lists registered tokens, settlement first
func (e *Exchange) Tokens() []token.Token {
	return e.registry.List()
}

// Deposit pulls amount of ticker from the trader's wallet and credits it
func (e *Exchange) Deposit(ctx context.Context, trader common.Address, ticker token.Ticker, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, err := e.registry.AssetRef(ticker)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "deposit amount must be positive: %d", amount)
	}
	if _, ok := util.AddInt64(e.ledger.BalanceOf(trader, ticker), amount); !ok {
		return errors.Wrapf(ErrInvalidAmount, "deposit of %d overflows balance", amount)
	}

	if e.custody != nil {
		if err := e.custody.Pull(ctx, trader, asset, amount); err != nil {
			return errors.Mark(errors.Wrapf(err, "pull %d %s from %s", amount, ticker, trader.Hex()), ErrCustody)
		}
	}
	if err := e.ledger.Deposit(trader, ticker, amount); err != nil {
		return err
	}

	e.log.Debugw("deposit", "trader", trader.Hex(), "ticker", ticker.String(), "amount", amount)
	e.commit(&Batch{})
	return nil
}

// Withdraw debits amount of ticker and releases it to the trader's wallet
// Only the available part of the balance can be withdrawn
func (e *Exchange) Withdraw(ctx context.Context, trader common.Address, ticker token.Ticker, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, err := e.registry.AssetRef(ticker)
	if err != nil {
		return err
	}
	if amount <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "withdraw amount must be positive: %d", amount)
	}
	if avail := e.ledger.Available(trader, ticker); avail < amount {
		return errors.Wrapf(ErrInsufficientBalance, "have %d, need %d (reserved: %d)",
			avail, amount, e.ledger.Reserved(trader, ticker))
	}

	if e.custody != nil {
		if err := e.custody.Release(ctx, trader, asset, amount); err != nil {
			return errors.Mark(errors.Wrapf(err, "release %d %s to %s", amount, ticker, trader.Hex()), ErrCustody)
		}
	}
	if err := e.ledger.Withdraw(trader, ticker, amount); err != nil {
		return err
	}

	e.log.Debugw("withdraw", "trader", trader.Hex(), "ticker", ticker.String(), "amount", amount)
	e.commit(&Batch{})
	return nil
}

// BalanceOf returns the full balance, including amounts reserved by resting orders
func (e *Exchange) BalanceOf(trader common.Address, ticker token.Ticker) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.BalanceOf(trader, ticker)
}

// Available returns the balance usable for new orders and withdrawals
func (e *Exchange) Available(trader common.Address, ticker token.Ticker) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Available(trader, ticker)
}

// Reserved returns the balance committed to resting orders
func (e *Exchange) Reserved(trader common.Address, ticker token.Ticker) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Reserved(trader, ticker)
}

// Orders returns one side of a book in priority order
func (e *Exchange) Orders(ticker token.Ticker, side orderbook.Side) ([]orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, err := e.book(ticker)
	if err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, errors.Wrapf(ErrInvalidSide, "%d", side)
	}
	return book.Orders(side), nil
}

// Order looks up a resting order by id
func (e *Exchange) Order(ticker token.Ticker, id uint64) (orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, err := e.book(ticker)
	if err != nil {
		return orderbook.Order{}, err
	}
	o, ok := book.Get(id)
	if !ok {
		return orderbook.Order{}, errors.Wrapf(ErrOrderNotFound, "%s #%d", ticker, id)
	}
	return o, nil
}

// Depth aggregates a book by price level; depth <= 0 returns all levels
func (e *Exchange) Depth(ticker token.Ticker, depth int) (Depth, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, err := e.book(ticker)
	if err != nil {
		return Depth{}, err
	}
	return Depth{
		Ticker: ticker,
		Bids:   book.Levels(orderbook.Buy, depth),
		Asks:   book.Levels(orderbook.Sell, depth),
	}, nil
}

// book resolves a tradable ticker; caller holds e.mu
func (e *Exchange) book(ticker token.Ticker) (*orderbook.Book, error) {
	if !e.registry.IsRegistered(ticker) {
		return nil, errors.Wrapf(ErrUnknownToken, "%s", ticker)
	}
	if e.registry.IsSettlement(ticker) {
		return nil, errors.Wrapf(ErrCannotTradeSettlementToken, "%s", ticker)
	}
	book, ok := e.books[ticker]
	if !ok {
		return nil, errors.AssertionFailedf("registered token %s has no book", ticker)
	}
	return book, nil
}

// commit hands the batch to the journal and trades to handlers; caller holds e.mu
// A journal failure is logged, the in-memory state stays authoritative
func (e *Exchange) commit(b *Batch) {
	b.Balances = e.ledger.Dirty()
	e.ledger.ResetDirty()
	b.LastOrderID = e.lastOrderID
	b.LastTradeID = e.lastTradeID

	if e.journal != nil && !b.Empty() {
		if err := e.journal.Commit(b); err != nil {
			e.log.Errorw("journal_commit_failed", "err", err, "trades", len(b.Trades), "balances", len(b.Balances))
		}
	}
	for _, t := range b.Trades {
		for _, fn := range e.handlers {
			fn(t)
		}
	}
}

// Snapshot returns the full state for persistence or inspection
func (e *Exchange) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Tokens:      e.registry.List(),
		Balances:    e.ledger.Entries(),
		LastOrderID: e.lastOrderID,
		LastTradeID: e.lastTradeID,
	}
	for _, tok := range s.Tokens {
		book, ok := e.books[tok.Ticker]
		if !ok {
			continue
		}
		s.Orders = append(s.Orders, book.Orders(orderbook.Buy)...)
		s.Orders = append(s.Orders, book.Orders(orderbook.Sell)...)
	}
	return s
}

// Restore loads a snapshot into a freshly created exchange
// Reservations must match the resting orders exactly
func (e *Exchange) Restore(s Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.books) != 0 || len(e.ledger.Entries()) != 0 || e.lastOrderID != 0 {
		return errors.AssertionFailedf("restore into a non-empty exchange")
	}

	for _, tok := range s.Tokens {
		if e.registry.IsSettlement(tok.Ticker) {
			continue
		}
		if err := e.registry.Add(tok.Ticker, tok.Asset); err != nil {
			return errors.Wrap(err, "restore token")
		}
		e.books[tok.Ticker] = orderbook.NewBook(tok.Ticker)
	}
	for _, entry := range s.Balances {
		if err := e.ledger.Load(entry); err != nil {
			return errors.Wrap(err, "restore balance")
		}
	}

	type cell struct {
		trader common.Address
		ticker token.Ticker
	}
	committed := make(map[cell]int64)
	for i := range s.Orders {
		o := s.Orders[i]
		book, ok := e.books[o.Ticker]
		if !ok {
			return errors.Wrapf(ErrUnknownToken, "restore order %d: %s", o.ID, o.Ticker)
		}
		if o.ID > s.LastOrderID {
			return errors.AssertionFailedf("restore order %d beyond last id %d", o.ID, s.LastOrderID)
		}
		if err := book.Insert(&o); err != nil {
			return errors.Wrapf(err, "restore order %d", o.ID)
		}
		c, amt, err := e.commitment(o.Side, o.Ticker, o.Price, o.Remaining())
		if err != nil {
			return errors.Wrapf(err, "restore order %d", o.ID)
		}
		committed[cell{o.Owner, c}] += amt
	}
	for _, entry := range e.ledger.Entries() {
		if want := committed[cell{entry.Trader, entry.Ticker}]; want != entry.Reserved {
			return errors.AssertionFailedf("reservation mismatch for %s/%s: ledger %d, orders %d",
				entry.Trader.Hex(), entry.Ticker, entry.Reserved, want)
		}
		delete(committed, cell{entry.Trader, entry.Ticker})
	}
	for c, amt := range committed {
		if amt != 0 {
			return errors.AssertionFailedf("orders of %s commit %d %s with no reservation", c.trader.Hex(), amt, c.ticker)
		}
	}

	e.lastOrderID = s.LastOrderID
	e.lastTradeID = s.LastTradeID
	e.ledger.ResetDirty()

	e.log.Infow("exchange_restored", "tokens", len(s.Tokens), "balances", len(s.Balances),
		"orders", len(s.Orders), "last_order_id", s.LastOrderID, "last_trade_id", s.LastTradeID)
	return nil
}

// commitment returns what a resting order of the given remaining quantity
// holds in reserve: settlement for bids, the ticker itself for asks
func (e *Exchange) commitment(side orderbook.Side, ticker token.Ticker, price, remaining int64) (token.Ticker, int64, error) {
	if side == orderbook.Sell {
		return ticker, remaining, nil
	}
	notional, ok := util.MulInt64(remaining, price)
	if !ok {
		return token.Ticker{}, 0, errors.Wrapf(ErrInvalidAmount, "notional %d x %d overflows", remaining, price)
	}
	return e.registry.Settlement(), notional, nil
}
