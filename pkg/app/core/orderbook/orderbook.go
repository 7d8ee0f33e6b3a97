package orderbook

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("duplicate order id")
)

const btreeDegree = 32

// PriceLevel is the aggregated view of one price on one side
type PriceLevel struct {
	Price  int64 `json:"price"`
	Amount int64 `json:"amount"` // total remaining at this price
	Orders int   `json:"orders"`
}

// level holds the orders resting at one price, oldest first
type level struct {
	price  int64
	orders []*Order
}

// Book is the order book of one ticker
// Each side is a B-tree of price levels whose minimum is the best price,
// so ascending iteration is priority order. Within a level orders are kept
// sorted by Seq. Not safe for concurrent use.
type Book struct {
	ticker token.Ticker

	bids *btree.BTreeG[*level] // highest price first
	asks *btree.BTreeG[*level] // lowest price first

	index  map[uint64]*Order // id -> live order
	counts [2]int            // live orders per side
	seq    uint64            // highest Seq seen
}

// NewBook creates an empty book for ticker
func NewBook(ticker token.Ticker) *Book {
	return &Book{
		ticker: ticker,
		bids:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price > b.price }),
		asks:   btree.NewG(btreeDegree, func(a, b *level) bool { return a.price < b.price }),
		index:  make(map[uint64]*Order),
	}
}

func (b *Book) Ticker() token.Ticker {
	return b.ticker
}

func (b *Book) tree(s Side) *btree.BTreeG[*level] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// Insert places an order at its price-time position
// A zero Seq is assigned the next sequence number; an explicit Seq (restore)
// is kept and slotted among equal-priced orders accordingly
func (b *Book) Insert(o *Order) error {
	if !o.Side.Valid() {
		return errors.Wrapf(ErrInvalidSide, "order %d", o.ID)
	}
	if o.Ticker != b.ticker {
		return errors.AssertionFailedf("order %d for %s inserted into %s book", o.ID, o.Ticker, b.ticker)
	}
	if o.Price <= 0 || o.Filled < 0 || o.Remaining() <= 0 {
		return errors.AssertionFailedf("order %d not restable: price %d amount %d filled %d",
			o.ID, o.Price, o.Amount, o.Filled)
	}
	if _, exists := b.index[o.ID]; exists {
		return errors.Wrapf(ErrDuplicateOrder, "%d", o.ID)
	}

	if o.Seq == 0 {
		o.Seq = b.seq + 1
	}
	if o.Seq > b.seq {
		b.seq = o.Seq
	}

	tree := b.tree(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if !ok {
		lvl = &level{price: o.Price}
		tree.ReplaceOrInsert(lvl)
	}

	// usually appends; restore may insert out of order
	i := sort.Search(len(lvl.orders), func(i int) bool { return lvl.orders[i].Seq > o.Seq })
	lvl.orders = append(lvl.orders, nil)
	copy(lvl.orders[i+1:], lvl.orders[i:])
	lvl.orders[i] = o

	b.index[o.ID] = o
	b.counts[o.Side]++
	return nil
}

// Best returns a copy of the highest-priority order on a side
func (b *Book) Best(s Side) (Order, bool) {
	lvl, ok := b.tree(s).Min()
	if !ok {
		return Order{}, false
	}
	return *lvl.orders[0], true
}

// Walk visits a side in priority order until fn returns false
// fn receives copies; the book must not be mutated during the walk
func (b *Book) Walk(s Side, fn func(Order) bool) {
	b.tree(s).Ascend(func(lvl *level) bool {
		for _, o := range lvl.orders {
			if !fn(*o) {
				return false
			}
		}
		return true
	})
}

// Orders returns a snapshot of a side in priority order
func (b *Book) Orders(s Side) []Order {
	out := make([]Order, 0, b.counts[s])
	b.Walk(s, func(o Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Get looks up a live order by id
func (b *Book) Get(id uint64) (Order, bool) {
	o, ok := b.index[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Len returns the number of live orders on a side
func (b *Book) Len(s Side) int {
	return b.counts[s]
}

// Remove deletes an order from a side
func (b *Book) Remove(s Side, id uint64) (Order, error) {
	o, ok := b.index[id]
	if !ok || o.Side != s {
		return Order{}, errors.Wrapf(ErrOrderNotFound, "%s %s #%d", b.ticker, s, id)
	}
	b.unlink(o)
	return *o, nil
}

// Fill adds qty to an order's filled amount, removing it once complete
// Returns the updated order and whether it left the book
func (b *Book) Fill(s Side, id uint64, qty int64) (Order, bool, error) {
	o, ok := b.index[id]
	if !ok || o.Side != s {
		return Order{}, false, errors.Wrapf(ErrOrderNotFound, "%s %s #%d", b.ticker, s, id)
	}
	if qty <= 0 || qty > o.Remaining() {
		return Order{}, false, errors.AssertionFailedf("fill %d on order %d with %d remaining", qty, id, o.Remaining())
	}

	o.Filled += qty
	if o.Remaining() == 0 {
		b.unlink(o)
		return *o, true, nil
	}
	return *o, false, nil
}

func (b *Book) unlink(o *Order) {
	tree := b.tree(o.Side)
	lvl, ok := tree.Get(&level{price: o.Price})
	if ok {
		for i, cur := range lvl.orders {
			if cur.ID == o.ID {
				lvl.orders = append(lvl.orders[:i], lvl.orders[i+1:]...)
				break
			}
		}
		if len(lvl.orders) == 0 {
			tree.Delete(lvl)
		}
	}
	delete(b.index, o.ID)
	b.counts[o.Side]--
}

// Levels aggregates a side by price, best first
// depth <= 0 returns every level
func (b *Book) Levels(s Side, depth int) []PriceLevel {
	var out []PriceLevel
	b.tree(s).Ascend(func(lvl *level) bool {
		pl := PriceLevel{Price: lvl.price, Orders: len(lvl.orders)}
		for _, o := range lvl.orders {
			pl.Amount += o.Remaining()
		}
		out = append(out, pl)
		return depth <= 0 || len(out) < depth
	})
	return out
}
