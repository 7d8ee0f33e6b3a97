package storage

import (
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokendex/pkg/app/core/ledger"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

type counters struct {
	LastOrderID uint64 `json:"last_order_id"`
	LastTradeID uint64 `json:"last_trade_id"`
	Tokens      uint64 `json:"tokens"`
}

// Store persists exchange batches to Pebble and rebuilds snapshots from them
// It implements exchange.Journal
type Store struct {
	db  *pebble.DB
	log *zap.SugaredLogger

	mu       sync.Mutex
	counters counters
}

var _ exchange.Journal = (*Store)(nil)

// Open opens (or creates) a Pebble database in dir
func Open(dir string, logger *zap.Logger) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	return open(dir, opts, logger)
}

// OpenInMemory opens a store backed by an in-memory filesystem
func OpenInMemory(logger *zap.Logger) (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, logger)
}

func open(dir string, opts *pebble.Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble db at %q", dir)
	}
	s := &Store{db: db, log: logger.Sugar()}
	if err := s.readCounters(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) readCounters() error {
	data, closer, err := s.db.Get([]byte(keyCounters))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read counters")
	}
	defer closer.Close()
	return errors.Wrap(json.Unmarshal(data, &s.counters), "decode counters")
}

// Commit writes one exchange batch atomically
// Zeroed balances and closed orders are deleted
func (s *Store) Commit(b *exchange.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	next := s.counters
	next.LastOrderID = b.LastOrderID
	next.LastTradeID = b.LastTradeID

	if b.Token != nil {
		next.Tokens++
		if err := setJSON(batch, tokenKey(next.Tokens), b.Token); err != nil {
			return err
		}
	}
	for _, e := range b.Balances {
		key := balanceKey(e.Trader, e.Ticker)
		if e.Balance == 0 && e.Reserved == 0 {
			if err := batch.Delete(key, nil); err != nil {
				return errors.Wrap(err, "delete balance")
			}
			continue
		}
		if err := setJSON(batch, key, e); err != nil {
			return err
		}
	}
	for _, o := range b.Orders {
		if err := setJSON(batch, orderKey(o.Ticker, o.ID), o); err != nil {
			return err
		}
	}
	for _, o := range b.Removed {
		if err := batch.Delete(orderKey(o.Ticker, o.ID), nil); err != nil {
			return errors.Wrap(err, "delete order")
		}
	}
	for _, t := range b.Trades {
		if err := setJSON(batch, tradeKey(t.Ticker, t.ID), t); err != nil {
			return err
		}
	}
	if err := setJSON(batch, []byte(keyCounters), next); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit batch")
	}
	s.counters = next
	return nil
}

func setJSON(batch *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	return errors.Wrapf(batch.Set(key, data, nil), "set %s", key)
}

// Load reads the persisted state back as a snapshot for exchange.Restore
// The settlement token is not stored; it comes from configuration
func (s *Store) Load() (exchange.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := exchange.Snapshot{
		LastOrderID: s.counters.LastOrderID,
		LastTradeID: s.counters.LastTradeID,
	}
	err := s.scan([]byte(prefixToken), func(v []byte) error {
		var t token.Token
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		snap.Tokens = append(snap.Tokens, t)
		return nil
	})
	if err != nil {
		return exchange.Snapshot{}, errors.Wrap(err, "load tokens")
	}

	err = s.scan([]byte(prefixBalance), func(v []byte) error {
		var e ledger.Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		snap.Balances = append(snap.Balances, e)
		return nil
	})
	if err != nil {
		return exchange.Snapshot{}, errors.Wrap(err, "load balances")
	}

	err = s.scan([]byte(prefixOrder), func(v []byte) error {
		var o orderbook.Order
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	})
	if err != nil {
		return exchange.Snapshot{}, errors.Wrap(err, "load orders")
	}

	s.log.Infow("store_loaded", "tokens", len(snap.Tokens), "balances", len(snap.Balances),
		"orders", len(snap.Orders), "last_order_id", snap.LastOrderID)
	return snap, nil
}

func (s *Store) scan(prefix []byte, fn func(v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return errors.Wrapf(err, "key %s", iter.Key())
		}
	}
	return iter.Error()
}

// RecentTrades returns up to limit trades of ticker, newest first
func (s *Store) RecentTrades(ticker token.Ticker, limit int) ([]exchange.Trade, error) {
	if limit <= 0 {
		return nil, nil
	}
	prefix := tradePrefix(ticker)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "trade iterator")
	}
	defer iter.Close()

	trades := make([]exchange.Trade, 0, limit)
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t exchange.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			s.log.Warnw("trade_decode_failed", "key", string(iter.Key()), "err", err)
			continue
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}
