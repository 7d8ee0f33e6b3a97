package orderbook

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

var (
	rep     = token.MustTicker("REP")
	traderA = common.HexToAddress("0xA000000000000000000000000000000000000001")
	traderB = common.HexToAddress("0xB000000000000000000000000000000000000002")
)

func newOrder(id uint64, owner common.Address, side Side, price, amount int64) *Order {
	return &Order{ID: id, Owner: owner, Ticker: rep, Side: side, Price: price, Amount: amount}
}

func TestPriceTimeTieBreak(t *testing.T) {
	b := NewBook(rep)
	for _, o := range []*Order{
		newOrder(1, traderA, Buy, 10, 1),
		newOrder(2, traderB, Buy, 11, 1),
		newOrder(3, traderB, Buy, 9, 1),
	} {
		if err := b.Insert(o); err != nil {
			t.Fatalf("insert %d: %v", o.ID, err)
		}
	}

	got := b.Orders(Buy)
	want := []struct {
		price int64
		owner common.Address
	}{{11, traderB}, {10, traderA}, {9, traderB}}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Price != w.price || got[i].Owner != w.owner {
			t.Errorf("orders[%d] = %d/%s, want %d/%s", i, got[i].Price, got[i].Owner.Hex(), w.price, w.owner.Hex())
		}
	}
}

func TestSideOrdering(t *testing.T) {
	tests := []struct {
		name   string
		side   Side
		prices []int64
		wantID []uint64
	}{
		{"asks ascending", Sell, []int64{12, 10, 11, 10}, []uint64{2, 4, 3, 1}},
		{"bids descending", Buy, []int64{12, 10, 12, 11}, []uint64{1, 3, 4, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook(rep)
			for i, p := range tt.prices {
				if err := b.Insert(newOrder(uint64(i+1), traderA, tt.side, p, 5)); err != nil {
					t.Fatalf("insert: %v", err)
				}
			}
			orders := b.Orders(tt.side)
			for i, id := range tt.wantID {
				if orders[i].ID != id {
					t.Errorf("orders[%d].ID = %d, want %d", i, orders[i].ID, id)
				}
			}
			best, ok := b.Best(tt.side)
			if !ok || best.ID != tt.wantID[0] {
				t.Errorf("Best = %d, %v; want %d", best.ID, ok, tt.wantID[0])
			}
			if _, ok := b.Best(tt.side.Opposite()); ok {
				t.Error("opposite side should be empty")
			}
		})
	}
}

func TestInsertRejects(t *testing.T) {
	b := NewBook(rep)
	if err := b.Insert(newOrder(1, traderA, Buy, 10, 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := b.Insert(newOrder(1, traderA, Sell, 12, 1)); !errors.Is(err, ErrDuplicateOrder) {
		t.Errorf("duplicate error = %v, want ErrDuplicateOrder", err)
	}
	if err := b.Insert(newOrder(2, traderA, Side(7), 10, 1)); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("bad side error = %v, want ErrInvalidSide", err)
	}
	if err := b.Insert(newOrder(3, traderA, Buy, 10, 0)); err == nil {
		t.Error("zero amount order should not rest")
	}
	other := newOrder(4, traderA, Buy, 10, 1)
	other.Ticker = token.MustTicker("BAT")
	if err := b.Insert(other); err == nil {
		t.Error("foreign ticker order should be rejected")
	}
	if b.Len(Buy) != 1 || b.Len(Sell) != 0 {
		t.Errorf("len = %d/%d, want 1/0", b.Len(Buy), b.Len(Sell))
	}
}

func TestRestoreKeepsSeq(t *testing.T) {
	b := NewBook(rep)
	// restored out of seq order at one price
	late := newOrder(9, traderA, Sell, 10, 1)
	late.Seq = 20
	early := newOrder(4, traderB, Sell, 10, 1)
	early.Seq = 5
	_ = b.Insert(late)
	_ = b.Insert(early)

	orders := b.Orders(Sell)
	if orders[0].ID != 4 || orders[1].ID != 9 {
		t.Errorf("order ids = [%d %d], want [4 9]", orders[0].ID, orders[1].ID)
	}
	// new orders continue after the highest restored seq
	next := newOrder(10, traderA, Sell, 10, 1)
	if err := b.Insert(next); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if next.Seq != 21 {
		t.Errorf("seq = %d, want 21", next.Seq)
	}
}

func TestRemove(t *testing.T) {
	b := NewBook(rep)
	for i := uint64(1); i <= 3; i++ {
		_ = b.Insert(newOrder(i, traderA, Sell, 10, 1))
	}

	if _, err := b.Remove(Buy, 2); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("wrong side error = %v, want ErrOrderNotFound", err)
	}
	removed, err := b.Remove(Sell, 2)
	if err != nil || removed.ID != 2 {
		t.Fatalf("Remove = %d, %v", removed.ID, err)
	}
	if _, err := b.Remove(Sell, 2); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("second remove error = %v, want ErrOrderNotFound", err)
	}

	orders := b.Orders(Sell)
	if len(orders) != 2 || orders[0].ID != 1 || orders[1].ID != 3 {
		t.Errorf("orders = %+v, want ids [1 3]", orders)
	}
	if _, ok := b.Get(2); ok {
		t.Error("removed order still indexed")
	}

	_, _ = b.Remove(Sell, 1)
	_, _ = b.Remove(Sell, 3)
	if len(b.Levels(Sell, 0)) != 0 {
		t.Error("empty level not pruned")
	}
}

func TestFill(t *testing.T) {
	b := NewBook(rep)
	_ = b.Insert(newOrder(1, traderA, Buy, 10, 10))

	o, done, err := b.Fill(Buy, 1, 4)
	if err != nil || done || o.Filled != 4 {
		t.Fatalf("Fill = %+v, %v, %v; want filled 4 still resting", o, done, err)
	}
	if _, _, err := b.Fill(Buy, 1, 7); err == nil {
		t.Error("overfill should fail")
	}
	if lv := b.Levels(Buy, 1); len(lv) != 1 || lv[0].Amount != 6 {
		t.Errorf("levels = %+v, want one level with 6 remaining", lv)
	}

	o, done, err = b.Fill(Buy, 1, 6)
	if err != nil || !done || o.Remaining() != 0 {
		t.Fatalf("Fill = %+v, %v, %v; want complete", o, done, err)
	}
	if b.Len(Buy) != 0 {
		t.Errorf("len = %d, want 0", b.Len(Buy))
	}
}

func TestLevelsDepth(t *testing.T) {
	b := NewBook(rep)
	_ = b.Insert(newOrder(1, traderA, Sell, 12, 3))
	_ = b.Insert(newOrder(2, traderA, Sell, 10, 2))
	_ = b.Insert(newOrder(3, traderB, Sell, 10, 5))
	_ = b.Insert(newOrder(4, traderB, Sell, 11, 1))

	all := b.Levels(Sell, 0)
	want := []PriceLevel{{10, 7, 2}, {11, 1, 1}, {12, 3, 1}}
	if len(all) != len(want) {
		t.Fatalf("levels = %+v, want %+v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("level[%d] = %+v, want %+v", i, all[i], want[i])
		}
	}
	if top := b.Levels(Sell, 2); len(top) != 2 {
		t.Errorf("depth 2 returned %d levels", len(top))
	}
}

// Any mix of inserts, removes and partial fills leaves each side in
// price-time order
func TestPriorityOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := NewBook(rep)
		var live []uint64
		nextID := uint64(1)

		steps := rapid.IntRange(1, 80).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch op := rapid.IntRange(0, 4).Draw(t, "op"); {
			case op <= 2 || len(live) == 0:
				side := Side(rapid.IntRange(0, 1).Draw(t, "side"))
				o := newOrder(nextID, traderA, side,
					rapid.Int64Range(1, 8).Draw(t, "price"),
					rapid.Int64Range(1, 5).Draw(t, "amount"))
				if err := b.Insert(o); err != nil {
					t.Fatalf("insert: %v", err)
				}
				live = append(live, nextID)
				nextID++
			case op == 3:
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "remove")
				o, _ := b.Get(live[idx])
				if _, err := b.Remove(o.Side, o.ID); err != nil {
					t.Fatalf("remove: %v", err)
				}
				live = append(live[:idx], live[idx+1:]...)
			default:
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "fill")
				o, _ := b.Get(live[idx])
				qty := rapid.Int64Range(1, o.Remaining()).Draw(t, "qty")
				_, done, err := b.Fill(o.Side, o.ID, qty)
				if err != nil {
					t.Fatalf("fill: %v", err)
				}
				if done {
					live = append(live[:idx], live[idx+1:]...)
				}
			}
		}

		for _, s := range []Side{Buy, Sell} {
			orders := b.Orders(s)
			if len(orders) != b.Len(s) {
				t.Fatalf("%s snapshot %d orders, Len %d", s, len(orders), b.Len(s))
			}
			for i := 1; i < len(orders); i++ {
				if !orders[i-1].before(&orders[i]) {
					t.Fatalf("%s out of order at %d: %+v then %+v", s, i, orders[i-1], orders[i])
				}
			}
		}
		if b.Len(Buy)+b.Len(Sell) != len(live) {
			t.Fatalf("book holds %d orders, want %d", b.Len(Buy)+b.Len(Sell), len(live))
		}
	})
}
