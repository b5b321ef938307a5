// Package eventfeed publishes consumed match events to Kafka.
//
// Each event becomes one message keyed by its owner, so a partition carries the fills of
// a given user in order. Values are CBOR-encoded Records.
//
// The feed is best effort. Events are published after the engine has committed them,
// and a batch the broker rejects is not retried, so the feed can have gaps. Consumers
// that need every fill must resync from the user's OpenOrders account, or from its
// OrderHistory once settled, whenever they see a gap in Seq or suspect one.
package eventfeed

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/kafka-go"

	"github.com/cloudx-io/batchauction/address"
	"github.com/cloudx-io/batchauction/core"
)

// HeaderAuction carries the auction identity on every message.
const HeaderAuction = "auction"

// Record is the message payload for one event.
type Record struct {
	Auction  string `cbor:"auction"`
	Kind     string `cbor:"kind"`
	Side     string `cbor:"side"`
	Owner    string `cbor:"owner"`
	OrderID  string `cbor:"order_id"`
	Price    string `cbor:"price,omitempty"`
	PriceRaw uint64 `cbor:"price_raw,omitempty"`
	Qty      uint64 `cbor:"qty,omitempty"`
	Seq      uint64 `cbor:"seq"`
}

// NewRecord converts a queue event of auction into its wire form.
func NewRecord(auction address.Identity, ev core.Event) Record {
	r := Record{
		Auction: auction.String(),
		Kind:    ev.Kind.String(),
		Side:    ev.Side.String(),
		Owner:   ev.Owner.String(),
		OrderID: ev.OrderID.String(),
		Seq:     ev.Seq,
	}
	if ev.Kind == core.EventFill {
		r.Price = ev.Price.String()
		r.PriceRaw = ev.Price.Raw()
		r.Qty = ev.Qty
	}
	return r
}

// DecodeRecord parses a message value.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if err := cbor.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode event record: %w", err)
	}
	return r, nil
}

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements core.EventSink on top of a Kafka writer.
type Publisher struct {
	writer Writer
	enc    cbor.EncMode
}

var _ core.EventSink = (*Publisher)(nil)

// NewPublisher writes to topic on brokers, waiting for all in-sync replicas.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	})
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(w Writer) (*Publisher, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	return &Publisher{writer: w, enc: enc}, nil
}

// Publish sends events as one batch. The writer either accepts the batch or returns an
// error; partial delivery is reported by kafka-go as a kafka.WriteErrors value.
func (p *Publisher) Publish(ctx context.Context, auction address.Identity, events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := p.enc.Marshal(NewRecord(auction, ev))
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     ev.Owner.Bytes(),
			Value:   value,
			Headers: []kafka.Header{{Key: HeaderAuction, Value: auction.Bytes()}},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d events for %s: %w", len(msgs), auction, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
