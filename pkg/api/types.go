package api

import (
	"time"

	"github.com/uhyunpark/tokendex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

// Request types

type RegisterTokenRequest struct {
	Ticker string `json:"ticker"`
	Asset  string `json:"asset"` // hex contract address
}

// TransferRequest is the body of deposits and withdrawals
type TransferRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

type LimitOrderRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"` // "buy" or "sell"
	Price  int64  `json:"price"`
	Amount int64  `json:"amount"`
}

type MarketOrderRequest struct {
	Trader string `json:"trader"`
	Ticker string `json:"ticker"`
	Side   string `json:"side"`
	Amount int64  `json:"amount"`
}

type CancelOrderRequest struct {
	Trader  string `json:"trader"`
	Ticker  string `json:"ticker"`
	Side    string `json:"side"`
	OrderID uint64 `json:"orderId"`
}

// Response types

type TokenInfo struct {
	Ticker     string `json:"ticker"`
	Asset      string `json:"asset"`
	Settlement bool   `json:"settlement"`
}

type BalanceInfo struct {
	Trader    string `json:"trader"`
	Ticker    string `json:"ticker"`
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}

type OrderInfo struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Amount    int64  `json:"amount"`
	Filled    int64  `json:"filled"`
	Remaining int64  `json:"remaining"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

type TradeInfo struct {
	ID           uint64 `json:"id"`
	Ticker       string `json:"ticker"`
	Price        int64  `json:"price"`
	Amount       int64  `json:"amount"`
	TakerSide    string `json:"takerSide"`
	TakerOrderID uint64 `json:"takerOrderId,omitempty"`
	MakerOrderID uint64 `json:"makerOrderId"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	Timestamp    int64  `json:"timestamp"`
}

type ExecutionResponse struct {
	OrderID uint64      `json:"orderId,omitempty"`
	Filled  int64       `json:"filled"`
	Resting bool        `json:"resting"`
	Trades  []TradeInfo `json:"trades"`
}

type OrderbookSnapshot struct {
	Ticker    string                 `json:"ticker"`
	Bids      []orderbook.PriceLevel `json:"bids"`
	Asks      []orderbook.PriceLevel `json:"asks"`
	Timestamp int64                  `json:"timestamp"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Tokens int    `json:"tokens"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// WebSocket messages

type WSMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type SubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

func tokenInfo(t token.Token, settlement token.Ticker) TokenInfo {
	return TokenInfo{
		Ticker:     t.Ticker.String(),
		Asset:      t.Asset.Hex(),
		Settlement: t.Ticker == settlement,
	}
}

func orderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Owner:     o.Owner.Hex(),
		Ticker:    o.Ticker.String(),
		Side:      o.Side.String(),
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Timestamp: o.CreatedAt.UnixMilli(),
	}
}

func tradeInfo(t exchange.Trade) TradeInfo {
	return TradeInfo{
		ID:           t.ID,
		Ticker:       t.Ticker.String(),
		Price:        t.Price,
		Amount:       t.Amount,
		TakerSide:    t.TakerSide.String(),
		TakerOrderID: t.TakerOrderID,
		MakerOrderID: t.MakerOrderID,
		Buyer:        t.Buyer().Hex(),
		Seller:       t.Seller().Hex(),
		Timestamp:    t.Timestamp.UnixMilli(),
	}
}

func tradeInfos(trades []exchange.Trade) []TradeInfo {
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	return out
}

func executionResponse(exec exchange.Execution) ExecutionResponse {
	return ExecutionResponse{
		OrderID: exec.OrderID,
		Filled:  exec.Filled,
		Resting: exec.Resting,
		Trades:  tradeInfos(exec.Trades),
	}
}

func depthSnapshot(d exchange.Depth, now time.Time) OrderbookSnapshot {
	bids, asks := d.Bids, d.Asks
	if bids == nil {
		bids = []orderbook.PriceLevel{}
	}
	if asks == nil {
		asks = []orderbook.PriceLevel{}
	}
	return OrderbookSnapshot{
		Ticker:    d.Ticker.String(),
		Bids:      bids,
		Asks:      asks,
		Timestamp: now.UnixMilli(),
	}
}
