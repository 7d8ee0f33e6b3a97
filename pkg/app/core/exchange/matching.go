package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
	"github.com/uhyunpark/tokendex/pkg/util"
)

// CreateLimitOrder submits a limit order and returns its id
// The id is returned whether the order rested or filled completely
func (e *Exchange) CreateLimitOrder(ticker token.Ticker, amount, price int64, side orderbook.Side, trader common.Address) (uint64, error) {
	exec, err := e.SubmitLimit(ticker, amount, price, side, trader)
	if err != nil {
		return 0, err
	}
	return exec.OrderID, nil
}

// CreateMarketOrder submits a market order and returns the filled amount
// A partial or empty fill is not an error
func (e *Exchange) CreateMarketOrder(ticker token.Ticker, amount int64, side orderbook.Side, trader common.Address) (int64, error) {
	exec, err := e.SubmitMarket(ticker, amount, side, trader)
	if err != nil {
		return 0, err
	}
	return exec.Filled, nil
}

// SubmitLimit matches a limit order against the book and rests the remainder
// The whole notional must be available up front: amount*price of settlement
// for a BUY, amount of ticker for a SELL
func (e *Exchange) SubmitLimit(ticker token.Ticker, amount, price int64, side orderbook.Side, trader common.Address) (Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if price <= 0 {
		return Execution{}, errors.Wrapf(ErrInvalidPrice, "limit price must be positive: %d", price)
	}
	book, err := e.validate(ticker, amount, side, trader)
	if err != nil {
		return Execution{}, err
	}
	if side == orderbook.Buy {
		notional, ok := util.MulInt64(amount, price)
		if !ok {
			return Execution{}, errors.Wrapf(ErrInvalidAmount, "notional %d x %d overflows", amount, price)
		}
		if avail := e.ledger.Available(trader, e.registry.Settlement()); avail < notional {
			return Execution{}, errors.Wrapf(ErrInsufficientSettlementBalance, "have %d, need %d", avail, notional)
		}
	}

	fills, err := e.plan(book, trader, side, amount, price, -1)
	if err != nil {
		return Execution{}, err
	}

	e.lastOrderID++
	taker := &orderbook.Order{
		ID:        e.lastOrderID,
		Owner:     trader,
		Ticker:    ticker,
		Side:      side,
		Price:     price,
		Amount:    amount,
		CreatedAt: e.clock.Now(),
	}

	batch := &Batch{}
	exec, err := e.apply(book, taker, fills, batch)
	if err != nil {
		return Execution{}, e.abort(err)
	}

	if taker.Remaining() > 0 {
		reserveIn, reserve, err := e.commitment(side, ticker, price, taker.Remaining())
		if err != nil {
			return Execution{}, e.abort(err)
		}
		if err := e.ledger.Reserve(trader, reserveIn, reserve); err != nil {
			return Execution{}, e.abort(err)
		}
		if err := book.Insert(taker); err != nil {
			return Execution{}, e.abort(err)
		}
		batch.Orders = append(batch.Orders, *taker)
		exec.Resting = true

		e.log.Debugw("order_rested", "id", taker.ID, "ticker", ticker.String(), "side", side.String(),
			"price", price, "remaining", taker.Remaining(), "owner", trader.Hex())
	}

	e.commit(batch)
	return exec, nil
}

// SubmitMarket matches a market order against the book and discards the remainder
// A market BUY spends at most the trader's available settlement balance
func (e *Exchange) SubmitMarket(ticker token.Ticker, amount int64, side orderbook.Side, trader common.Address) (Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	book, err := e.validate(ticker, amount, side, trader)
	if err != nil {
		return Execution{}, err
	}

	budget := int64(-1)
	if side == orderbook.Buy {
		budget = e.ledger.Available(trader, e.registry.Settlement())
		if budget <= 0 {
			return Execution{}, errors.Wrapf(ErrInsufficientSettlementBalance, "no available %s", e.registry.Settlement())
		}
	}

	fills, err := e.plan(book, trader, side, amount, 0, budget)
	if err != nil {
		return Execution{}, err
	}

	taker := &orderbook.Order{
		Owner:     trader,
		Ticker:    ticker,
		Side:      side,
		Amount:    amount,
		CreatedAt: e.clock.Now(),
	}
	batch := &Batch{}
	exec, err := e.apply(book, taker, fills, batch)
	if err != nil {
		return Execution{}, e.abort(err)
	}

	if taker.Remaining() > 0 {
		e.log.Debugw("market_remainder_discarded", "ticker", ticker.String(), "side", side.String(),
			"filled", taker.Filled, "discarded", taker.Remaining(), "owner", trader.Hex())
	}
	e.commit(batch)
	return exec, nil
}

// validate runs the checks shared by limit and market orders; caller holds e.mu
func (e *Exchange) validate(ticker token.Ticker, amount int64, side orderbook.Side, trader common.Address) (*orderbook.Book, error) {
	if amount <= 0 {
		return nil, errors.Wrapf(ErrInvalidAmount, "order amount must be positive: %d", amount)
	}
	if !side.Valid() {
		return nil, errors.Wrapf(ErrInvalidSide, "%d", side)
	}
	book, err := e.book(ticker)
	if err != nil {
		return nil, err
	}
	if side == orderbook.Sell {
		if avail := e.ledger.Available(trader, ticker); avail < amount {
			return nil, errors.Wrapf(ErrInsufficientAssetBalance, "have %d %s, need %d", avail, ticker, amount)
		}
	}
	return book, nil
}

// fill is one planned match against a resting order
type fill struct {
	maker orderbook.Order
	qty   int64
	cost  int64 // qty * maker.Price, in settlement units
}

// plan walks the opposite side read-only and decides every fill before
// anything is mutated. limit 0 means no price limit; budget < 0 means no
// settlement budget. Credits that would overflow a balance fail the plan
func (e *Exchange) plan(book *orderbook.Book, trader common.Address, side orderbook.Side, amount, limit, budget int64) ([]fill, error) {
	var (
		fills     []fill
		remaining = amount
		planErr   error
		credits   = make(map[creditKey]int64)
	)

	book.Walk(side.Opposite(), func(maker orderbook.Order) bool {
		if limit > 0 {
			if side == orderbook.Buy && maker.Price > limit {
				return false
			}
			if side == orderbook.Sell && maker.Price < limit {
				return false
			}
		}

		qty := min(remaining, maker.Remaining())
		if budget >= 0 {
			qty = min(qty, budget/maker.Price)
			if qty == 0 {
				return false
			}
		}

		cost, ok := util.MulInt64(qty, maker.Price)
		if !ok {
			planErr = errors.Wrapf(ErrInvalidAmount, "trade value %d x %d overflows", qty, maker.Price)
			return false
		}

		buyer, seller := trader, maker.Owner
		if side == orderbook.Sell {
			buyer, seller = maker.Owner, trader
		}
		if buyer != seller {
			credits[creditKey{buyer, book.Ticker()}] += qty
			credits[creditKey{seller, e.registry.Settlement()}] += cost
		}

		fills = append(fills, fill{maker: maker, qty: qty, cost: cost})
		remaining -= qty
		if budget >= 0 {
			budget -= cost
		}
		return remaining > 0
	})
	if planErr != nil {
		return nil, planErr
	}

	for k, credit := range credits {
		if _, ok := util.AddInt64(e.ledger.BalanceOf(k.trader, k.ticker), credit); !ok {
			return nil, errors.Wrapf(ErrInvalidAmount, "credit of %d %s overflows balance of %s", credit, k.ticker, k.trader.Hex())
		}
	}
	return fills, nil
}

type creditKey struct {
	trader common.Address
	ticker token.Ticker
}

// apply settles planned fills; caller holds e.mu
// The maker side of each transfer draws on the maker's reservation
func (e *Exchange) apply(book *orderbook.Book, taker *orderbook.Order, fills []fill, batch *Batch) (Execution, error) {
	ticker := book.Ticker()
	settlement := e.registry.Settlement()
	now := e.clock.Now()

	exec := Execution{OrderID: taker.ID}
	for _, f := range fills {
		maker := f.maker
		if taker.Side == orderbook.Buy {
			if err := e.ledger.Transfer(maker.Owner, taker.Owner, ticker, f.qty, true); err != nil {
				return exec, err
			}
			if err := e.ledger.Transfer(taker.Owner, maker.Owner, settlement, f.cost, false); err != nil {
				return exec, err
			}
		} else {
			if err := e.ledger.Transfer(taker.Owner, maker.Owner, ticker, f.qty, false); err != nil {
				return exec, err
			}
			if err := e.ledger.Transfer(maker.Owner, taker.Owner, settlement, f.cost, true); err != nil {
				return exec, err
			}
		}

		updated, done, err := book.Fill(maker.Side, maker.ID, f.qty)
		if err != nil {
			return exec, err
		}
		if done {
			batch.Removed = append(batch.Removed, updated)
		} else {
			batch.Orders = append(batch.Orders, updated)
		}

		taker.Filled += f.qty
		e.lastTradeID++
		trade := Trade{
			ID:           e.lastTradeID,
			Ticker:       ticker,
			Price:        maker.Price,
			Amount:       f.qty,
			TakerSide:    taker.Side,
			TakerOrderID: taker.ID,
			MakerOrderID: maker.ID,
			Taker:        taker.Owner,
			Maker:        maker.Owner,
			Timestamp:    now,
		}
		batch.Trades = append(batch.Trades, trade)
		exec.Trades = append(exec.Trades, trade)

		e.log.Debugw("trade_executed", "id", trade.ID, "ticker", ticker.String(), "price", trade.Price,
			"amount", trade.Amount, "taker_side", taker.Side.String(), "maker_order", maker.ID)
	}
	exec.Filled = taker.Filled
	return exec, nil
}

// abort reports a failure after mutation began. State is not rolled back:
// validate and plan establish every precondition of Transfer, Reserve, Fill
// and Insert, so reaching this is a bug and the exchange should be stopped
func (e *Exchange) abort(err error) error {
	e.ledger.ResetDirty()
	e.log.Errorw("apply_failed", "err", err)
	return errors.WithAssertionFailure(err)
}
