package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/tokendex/pkg/app/core/exchange"
	"github.com/uhyunpark/tokendex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokendex/pkg/app/core/token"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() ([]kafka.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...), w.closed
}

func trade(id uint64) exchange.Trade {
	return exchange.Trade{
		ID:        id,
		Ticker:    token.MustTicker("REP"),
		Price:     10,
		Amount:    2,
		TakerSide: orderbook.Sell,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMessage(t *testing.T) {
	msg, err := Message(trade(7))
	require.NoError(t, err)
	assert.Equal(t, "REP", string(msg.Key))

	var decoded exchange.Trade
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, uint64(7), decoded.ID)
	assert.Equal(t, orderbook.Sell, decoded.TakerSide)
	assert.Contains(t, string(msg.Value), `"taker_side":"SELL"`)
}

func TestRunDeliversAndDrains(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := uint64(1); i <= 3; i++ {
		p.Publish(trade(i))
	}
	require.Eventually(t, func() bool {
		msgs, _ := w.snapshot()
		return len(msgs) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	msgs, closed := w.snapshot()
	assert.True(t, closed)
	assert.Len(t, msgs, 3)
}

func TestPublishDropsWhenFull(t *testing.T) {
	w := &fakeWriter{}
	p := New(w, 2, nil)

	// no Run loop: the third trade has nowhere to go
	p.Publish(trade(1))
	p.Publish(trade(2))
	p.Publish(trade(3))
	assert.Len(t, p.queue, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	msgs, _ := w.snapshot()
	assert.Len(t, msgs, 2)
}

func TestWriteFailureIsLogged(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := New(w, 4, nil)
	p.Publish(trade(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, p.Run(ctx))
	msgs, closed := w.snapshot()
	assert.Empty(t, msgs)
	assert.True(t, closed)
}
