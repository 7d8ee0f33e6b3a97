package exchange

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

// checkInvariants verifies conservation and reservation bookkeeping
// net holds deposits minus withdrawals per ticker
func checkInvariants(t *rapid.T, ex *Exchange, net map[token.Ticker]int64) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	for ticker, want := range net {
		if got := ex.ledger.Total(ticker); got != want {
			t.Fatalf("%s total = %d, deposited net %d", ticker, got, want)
		}
	}

	type cell struct {
		trader common.Address
		ticker token.Ticker
	}
	committed := make(map[cell]int64)
	for ticker, book := range ex.books {
		for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
			orders := book.Orders(side)
			for i, o := range orders {
				if o.Filled < 0 || o.Remaining() <= 0 {
					t.Fatalf("resting order %+v has bad fill state", o)
				}
				if i > 0 {
					prev := orders[i-1]
					worse := (side == orderbook.Buy && prev.Price < o.Price) ||
						(side == orderbook.Sell && prev.Price > o.Price) ||
						(prev.Price == o.Price && prev.Seq > o.Seq)
					if worse {
						t.Fatalf("%s %s out of priority: %+v before %+v", ticker, side, prev, o)
					}
				}
				in, amt, err := ex.commitment(o.Side, o.Ticker, o.Price, o.Remaining())
				if err != nil {
					t.Fatalf("commitment: %v", err)
				}
				committed[cell{o.Owner, in}] += amt
			}
		}
		if bids, asks := book.Orders(orderbook.Buy), book.Orders(orderbook.Sell); len(bids) > 0 && len(asks) > 0 {
			if bids[0].Price >= asks[0].Price {
				t.Fatalf("%s book crossed: bid %d >= ask %d", ticker, bids[0].Price, asks[0].Price)
			}
		}
	}

	perTicker := make(map[token.Ticker]int64)
	for c, amt := range committed {
		perTicker[c.ticker] += amt
	}
	for ticker := range net {
		if got, want := ex.ledger.TotalReserved(ticker), perTicker[ticker]; got != want {
			t.Fatalf("%s reserved total %d, resting orders commit %d", ticker, got, want)
		}
	}

	for _, e := range ex.ledger.Entries() {
		if e.Balance < 0 || e.Reserved < 0 || e.Reserved > e.Balance {
			t.Fatalf("bad entry %+v", e)
		}
		if want := committed[cell{e.Trader, e.Ticker}]; e.Reserved != want {
			t.Fatalf("%s/%s reserved %d, orders commit %d", e.Trader.Hex(), e.Ticker, e.Reserved, want)
		}
	}
}

func TestConservationProperty(t *testing.T) {
	traders := []common.Address{trader1, trader2, trader3}
	tickers := []token.Ticker{dai, rep, bat}
	tradable := []token.Ticker{rep, bat}

	rapid.Check(t, func(t *rapid.T) {
		ex := New(Config{Settlement: token.Token{Ticker: dai, Asset: daiAsset}})
		_ = ex.RegisterToken(rep, repAsset)
		_ = ex.RegisterToken(bat, batAsset)
		ctx := context.Background()
		net := map[token.Ticker]int64{dai: 0, rep: 0, bat: 0}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			trader := rapid.SampledFrom(traders).Draw(t, "trader")
			side := orderbook.Side(rapid.IntRange(0, 1).Draw(t, "side"))
			amount := rapid.Int64Range(1, 20).Draw(t, "amount")

			switch rapid.IntRange(0, 5).Draw(t, "op") {
			case 0:
				ticker := rapid.SampledFrom(tickers).Draw(t, "ticker")
				if err := ex.Deposit(ctx, trader, ticker, amount*10); err == nil {
					net[ticker] += amount * 10
				}
			case 1:
				ticker := rapid.SampledFrom(tickers).Draw(t, "ticker")
				if err := ex.Withdraw(ctx, trader, ticker, amount); err == nil {
					net[ticker] -= amount
				}
			case 2, 3:
				ticker := rapid.SampledFrom(tradable).Draw(t, "ticker")
				price := rapid.Int64Range(1, 10).Draw(t, "price")
				if _, err := ex.SubmitLimit(ticker, amount, price, side, trader); errors.HasAssertionFailure(err) {
					t.Fatalf("limit order hit an internal failure: %v", err)
				}
			case 4:
				ticker := rapid.SampledFrom(tradable).Draw(t, "ticker")
				exec, err := ex.SubmitMarket(ticker, amount, side, trader)
				if errors.HasAssertionFailure(err) {
					t.Fatalf("market order hit an internal failure: %v", err)
				}
				if err == nil && exec.Filled > amount {
					t.Fatalf("market filled %d of %d", exec.Filled, amount)
				}
			case 5:
				ticker := rapid.SampledFrom(tradable).Draw(t, "ticker")
				orders, _ := ex.Orders(ticker, side)
				if len(orders) == 0 {
					continue
				}
				o := orders[rapid.IntRange(0, len(orders)-1).Draw(t, "victim")]
				before := len(orders)
				if err := ex.CancelOrder(ticker, side, o.ID, trader); err == nil {
					after, _ := ex.Orders(ticker, side)
					if len(after) != before-1 {
						t.Fatalf("cancel removed %d orders", before-len(after))
					}
					for _, left := range after {
						if left.ID == o.ID {
							t.Fatalf("canceled order %d still resting", o.ID)
						}
					}
				} else if o.Owner == trader {
					t.Fatalf("owner cancel failed: %v", err)
				}
			}
			checkInvariants(t, ex, net)
		}
	})
}
