package ledger

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokendex/pkg/app/core/token"
	"github.com/uhyunpark/tokendex/pkg/util"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type key struct {
	trader common.Address
	ticker token.Ticker
}

// Entry is one (trader, ticker) cell
// Balance includes Reserved; Available = Balance - Reserved
type Entry struct {
	Trader   common.Address `json:"trader"`
	Ticker   token.Ticker   `json:"ticker"`
	Balance  int64          `json:"balance"`
	Reserved int64          `json:"reserved"`
}

// Available returns the part of the balance not committed to resting orders
func (e Entry) Available() int64 {
	return e.Balance - e.Reserved
}

// Ledger holds per-trader, per-ticker balances
// Missing cells read as zero. Not safe for concurrent use: the exchange
// serializes all access under its own lock
type Ledger struct {
	entries map[key]*Entry
	dirty   map[key]struct{} // cells touched since ResetDirty
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		entries: make(map[key]*Entry),
		dirty:   make(map[key]struct{}),
	}
}

func (l *Ledger) cell(trader common.Address, ticker token.Ticker) *Entry {
	k := key{trader, ticker}
	e, ok := l.entries[k]
	if !ok {
		e = &Entry{Trader: trader, Ticker: ticker}
		l.entries[k] = e
	}
	l.dirty[k] = struct{}{}
	return e
}

func (l *Ledger) get(trader common.Address, ticker token.Ticker) Entry {
	if e, ok := l.entries[key{trader, ticker}]; ok {
		return *e
	}
	return Entry{Trader: trader, Ticker: ticker}
}

// BalanceOf returns the full balance, reserved part included
func (l *Ledger) BalanceOf(trader common.Address, ticker token.Ticker) int64 {
	return l.get(trader, ticker).Balance
}

// Available returns balance minus reservations
func (l *Ledger) Available(trader common.Address, ticker token.Ticker) int64 {
	return l.get(trader, ticker).Available()
}

// Reserved returns the amount held for resting orders
func (l *Ledger) Reserved(trader common.Address, ticker token.Ticker) int64 {
	return l.get(trader, ticker).Reserved
}

// Entry returns a copy of one cell
func (l *Ledger) Entry(trader common.Address, ticker token.Ticker) Entry {
	return l.get(trader, ticker)
}

// Deposit credits amount to the balance
func (l *Ledger) Deposit(trader common.Address, ticker token.Ticker, amount int64) error {
	if amount <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "deposit amount must be positive: %d", amount)
	}
	cur := l.get(trader, ticker)
	sum, ok := util.AddInt64(cur.Balance, amount)
	if !ok {
		return errors.Wrapf(ErrInvalidAmount, "deposit of %d overflows balance %d", amount, cur.Balance)
	}
	l.cell(trader, ticker).Balance = sum
	return nil
}

// Withdraw debits amount from the available balance
func (l *Ledger) Withdraw(trader common.Address, ticker token.Ticker, amount int64) error {
	if amount <= 0 {
		return errors.Wrapf(ErrInvalidAmount, "withdraw amount must be positive: %d", amount)
	}
	cur := l.get(trader, ticker)
	if cur.Available() < amount {
		return errors.Wrapf(ErrInsufficientBalance, "have %d, need %d (reserved: %d)",
			cur.Available(), amount, cur.Reserved)
	}
	l.cell(trader, ticker).Balance -= amount
	return nil
}

// Reserve moves amount from available into reserved
func (l *Ledger) Reserve(trader common.Address, ticker token.Ticker, amount int64) error {
	if amount < 0 {
		return errors.Wrapf(ErrInvalidAmount, "reserve amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	cur := l.get(trader, ticker)
	if cur.Available() < amount {
		return errors.Wrapf(ErrInsufficientBalance, "cannot reserve %d, available %d", amount, cur.Available())
	}
	l.cell(trader, ticker).Reserved += amount
	return nil
}

// Release returns amount from reserved to available
func (l *Ledger) Release(trader common.Address, ticker token.Ticker, amount int64) error {
	if amount < 0 {
		return errors.Wrapf(ErrInvalidAmount, "release amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	cur := l.get(trader, ticker)
	if cur.Reserved < amount {
		return errors.AssertionFailedf("release %d exceeds reservation %d for %s/%s",
			amount, cur.Reserved, trader.Hex(), ticker)
	}
	l.cell(trader, ticker).Reserved -= amount
	return nil
}

// Transfer moves amount of ticker between traders
// With fromReserved the debit consumes the sender's reservation,
// otherwise it must fit in the sender's available balance
func (l *Ledger) Transfer(from, to common.Address, ticker token.Ticker, amount int64, fromReserved bool) error {
	if amount < 0 {
		return errors.Wrapf(ErrInvalidAmount, "transfer amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}

	src := l.get(from, ticker)
	if fromReserved {
		if src.Reserved < amount {
			return errors.AssertionFailedf("transfer %d exceeds reservation %d for %s/%s",
				amount, src.Reserved, from.Hex(), ticker)
		}
	} else if src.Available() < amount {
		return errors.Wrapf(ErrInsufficientBalance, "have %d, need %d", src.Available(), amount)
	}
	dst := l.get(to, ticker)
	if from != to {
		if _, ok := util.AddInt64(dst.Balance, amount); !ok {
			return errors.Wrapf(ErrInvalidAmount, "credit of %d overflows balance %d", amount, dst.Balance)
		}
	}

	s := l.cell(from, ticker)
	s.Balance -= amount
	if fromReserved {
		s.Reserved -= amount
	}
	l.cell(to, ticker).Balance += amount
	return nil
}

// Total sums balances of ticker across all traders
func (l *Ledger) Total(ticker token.Ticker) int64 {
	var sum int64
	for k, e := range l.entries {
		if k.ticker == ticker {
			sum += e.Balance
		}
	}
	return sum
}

// TotalReserved sums reservations of ticker across all traders
func (l *Ledger) TotalReserved(ticker token.Ticker) int64 {
	var sum int64
	for k, e := range l.entries {
		if k.ticker == ticker {
			sum += e.Reserved
		}
	}
	return sum
}

// Entries returns every non-empty cell, sorted by trader then ticker
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Balance != 0 || e.Reserved != 0 {
			out = append(out, *e)
		}
	}
	sortEntries(out)
	return out
}

// Load replaces one cell, used when restoring from storage
func (l *Ledger) Load(e Entry) error {
	if e.Balance < 0 || e.Reserved < 0 || e.Reserved > e.Balance {
		return errors.Wrapf(ErrInvalidAmount, "corrupt entry %s/%s: balance %d reserved %d",
			e.Trader.Hex(), e.Ticker, e.Balance, e.Reserved)
	}
	cp := e
	l.entries[key{e.Trader, e.Ticker}] = &cp
	return nil
}

// Dirty returns the cells changed since the last ResetDirty
func (l *Ledger) Dirty() []Entry {
	out := make([]Entry, 0, len(l.dirty))
	for k := range l.dirty {
		out = append(out, l.get(k.trader, k.ticker))
	}
	sortEntries(out)
	return out
}

// ResetDirty clears change tracking
func (l *Ledger) ResetDirty() {
	clear(l.dirty)
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Trader != es[j].Trader {
			return es[i].Trader.Cmp(es[j].Trader) < 0
		}
		return string(es[i].Ticker[:]) < string(es[j].Ticker[:])
	})
}
