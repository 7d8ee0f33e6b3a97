package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

// CancelOrder removes a resting order owned by trader and releases
// the reservation still held for its unfilled part
func (e *Exchange) CancelOrder(ticker token.Ticker, side orderbook.Side, id uint64, trader common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !side.Valid() {
		return errors.Wrapf(ErrInvalidSide, "%d", side)
	}
	if !e.registry.IsRegistered(ticker) {
		return errors.Wrapf(ErrUnknownToken, "%s", ticker)
	}
	book, ok := e.books[ticker]
	if !ok {
		// settlement has no book, so nothing can rest there
		return errors.Wrapf(ErrOrderNotFound, "%s %s #%d", ticker, side, id)
	}

	o, ok := book.Get(id)
	if !ok || o.Side != side {
		return errors.Wrapf(ErrOrderNotFound, "%s %s #%d", ticker, side, id)
	}
	if o.Owner != trader {
		return errors.Wrapf(ErrNotOrderOwner, "order %d owned by %s, not %s", id, o.Owner.Hex(), trader.Hex())
	}

	releaseIn, release, err := e.commitment(o.Side, o.Ticker, o.Price, o.Remaining())
	if err != nil {
		return errors.WithAssertionFailure(err)
	}
	if _, err := book.Remove(side, id); err != nil {
		return err
	}
	if err := e.ledger.Release(trader, releaseIn, release); err != nil {
		return e.abort(err)
	}

	e.log.Debugw("order_canceled", "id", id, "ticker", ticker.String(), "side", side.String(),
		"filled", o.Filled, "released", release, "owner", trader.Hex())
	e.commit(&Batch{Removed: []orderbook.Order{o}})
	return nil
}
