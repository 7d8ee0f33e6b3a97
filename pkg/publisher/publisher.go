// Package publisher streams executed trades to Kafka
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokendex/pkg/app/core/exchange"
)

// Writer is the part of *kafka.Writer the publisher uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer that waits for all replicas
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// TradePublisher is an exchange trade handler that forwards trades to Kafka
// Publish only enqueues, so it is safe to call under the exchange lock.
// Messages are keyed by ticker, keeping each market's trades in one partition
type TradePublisher struct {
	writer Writer
	queue  chan exchange.Trade
	log    *zap.SugaredLogger
}

func New(writer Writer, buffer int, logger *zap.Logger) *TradePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &TradePublisher{
		writer: writer,
		queue:  make(chan exchange.Trade, buffer),
		log:    logger.Sugar(),
	}
}

// Publish enqueues a trade; a full queue drops it with a warning
func (p *TradePublisher) Publish(t exchange.Trade) {
	select {
	case p.queue <- t:
	default:
		p.log.Warnw("trade_publish_dropped", "trade_id", t.ID, "ticker", t.Ticker.String())
	}
}

// Run writes queued trades until ctx is done, then drains what is left
// with a short deadline and closes the writer
func (p *TradePublisher) Run(ctx context.Context) error {
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.log.Warnw("kafka_writer_close_failed", "err", err)
		}
	}()

	for {
		select {
		case t := <-p.queue:
			p.write(ctx, t)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				select {
				case t := <-p.queue:
					p.write(drainCtx, t)
				default:
					return nil
				}
			}
		}
	}
}

func (p *TradePublisher) write(ctx context.Context, t exchange.Trade) {
	msg, err := Message(t)
	if err != nil {
		p.log.Errorw("trade_encode_failed", "trade_id", t.ID, "err", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Errorw("trade_publish_failed", "trade_id", t.ID, "ticker", t.Ticker.String(), "err", err)
	}
}

// Message encodes a trade as a Kafka message keyed by ticker
func Message(t exchange.Trade) (kafka.Message, error) {
	value, err := json.Marshal(t)
	if err != nil {
		return kafka.Message{}, errors.Wrapf(err, "encode trade %d", t.ID)
	}
	return kafka.Message{
		Key:   []byte(t.Ticker.String()),
		Value: value,
		Time:  t.Timestamp,
	}, nil
}
