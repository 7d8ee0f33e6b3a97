package exchange

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

// Trade is one fill between a taker and a resting maker, at the maker's price
type Trade struct {
	ID           uint64         `json:"id"`
	Ticker       token.Ticker   `json:"ticker"`
	Price        int64          `json:"price"`
	Amount       int64          `json:"amount"`
	TakerSide    orderbook.Side `json:"taker_side"`
	TakerOrderID uint64         `json:"taker_order_id"` // 0 for market orders
	MakerOrderID uint64         `json:"maker_order_id"`
	Taker        common.Address `json:"taker"`
	Maker        common.Address `json:"maker"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Buyer returns the trader receiving the ticker
func (t Trade) Buyer() common.Address {
	if t.TakerSide == orderbook.Buy {
		return t.Taker
	}
	return t.Maker
}

// Seller returns the trader receiving settlement
func (t Trade) Seller() common.Address {
	if t.TakerSide == orderbook.Sell {
		return t.Taker
	}
	return t.Maker
}

// Execution is the result of submitting an order
type Execution struct {
	OrderID uint64  `json:"order_id"` // 0 for market orders
	Filled  int64   `json:"filled"`
	Resting bool    `json:"resting"`
	Trades  []Trade `json:"trades"`
}

// Batch is everything one successful operation changed
type Batch struct {
	Token       *token.Token      `json:"token,omitempty"`
	Balances    []ledger.Entry    `json:"balances,omitempty"`
	Orders      []orderbook.Order `json:"orders,omitempty"`  // resting, new or partially filled
	Removed     []orderbook.Order `json:"removed,omitempty"` // filled or canceled
	Trades      []Trade           `json:"trades,omitempty"`
	LastOrderID uint64            `json:"last_order_id"`
	LastTradeID uint64            `json:"last_trade_id"`
}

// Empty reports whether the batch carries no state change
func (b *Batch) Empty() bool {
	return b.Token == nil && len(b.Balances) == 0 && len(b.Orders) == 0 &&
		len(b.Removed) == 0 && len(b.Trades) == 0
}

// Journal receives each committed batch, in commit order, under the exchange lock
type Journal interface {
	Commit(b *Batch) error
}

// Snapshot is the full exchange state, as saved by a Journal and fed to Restore
type Snapshot struct {
	Tokens      []token.Token     `json:"tokens"`
	Balances    []ledger.Entry    `json:"balances"`
	Orders      []orderbook.Order `json:"orders"`
	LastOrderID uint64            `json:"last_order_id"`
	LastTradeID uint64            `json:"last_trade_id"`
}

// Depth is the aggregated view of one book
type Depth struct {
	Ticker token.Ticker           `json:"ticker"`
	Bids   []orderbook.PriceLevel `json:"bids"`
	Asks   []orderbook.PriceLevel `json:"asks"`
}
