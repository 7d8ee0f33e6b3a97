package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

// Pebble key schema
//
//	tok:{seq}                  -> token.Token (registration order)
//	bal:{trader}:{tickerhex}   -> ledger.Entry
//	ord:{tickerhex}:{id}       -> orderbook.Order (resting only)
//	trade:{tickerhex}:{id}     -> exchange.Trade
//	meta:counters              -> counters
//
// Numeric parts are zero-padded to 20 digits so byte order is numeric order
const (
	prefixToken   = "tok:"
	prefixBalance = "bal:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	keyCounters   = "meta:counters"
)

func tokenKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixToken, seq))
}

func balanceKey(trader common.Address, ticker token.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, trader.Hex(), ticker.Hex()))
}

func orderKey(ticker token.Ticker, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixOrder, ticker.Hex(), id))
}

func tradeKey(ticker token.Ticker, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixTrade, ticker.Hex(), id))
}

// tradePrefix covers all trades of one ticker
func tradePrefix(ticker token.Ticker) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, ticker.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// e.g. "ord:" -> "ord;"
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
