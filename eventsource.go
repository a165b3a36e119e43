package sidecar

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// A SinkRow is the message a TopicSink publishes for every appended record.
type SinkRow struct {
	Table  string
	Record DistributionRecord
}

// TopicSink appends records by publishing them, gob-encoded as SinkRow, to a
// pubsub topic. Whatever consumes the topic owns the actual table.
type TopicSink struct {
	Topic *pubsub.Topic
}

// AppendRow publishes a single record. The table and the port are also set as
// message metadata, so brokers can route or partition by them without decoding
// the body.
func (s TopicSink) AppendRow(ctx context.Context, table string, r DistributionRecord) error {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(SinkRow{Table: table, Record: r}); err != nil {
		return fmt.Errorf("encode gob: %w", err)
	}
	msg := &pubsub.Message{
		Body: b.Bytes(),
		Metadata: map[string]string{
			"table": table,
			"port":  r.AccessService,
		},
	}
	if err := s.Topic.Send(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// A DistributionFeed consumes the rows published by a TopicSink.
type DistributionFeed struct {
	Subscription *pubsub.Subscription
}

// A RowHandler processes a single decoded row.
type RowHandler func(ctx context.Context, row SinkRow) error

// Watch receives rows until ctx is done, passing each to h. It returns nil
// once ctx is done, or the first receive, decode, or handler error.
func (f DistributionFeed) Watch(ctx context.Context, h RowHandler) error {
	for {
		msg, err := f.Subscription.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				// we're shutting down
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		// always ack, even if we fail to decode.
		// otherwise, we might get stuck processing
		// the same failed message
		msg.Ack()

		var row SinkRow
		if err := gob.NewDecoder(bytes.NewReader(msg.Body)).Decode(&row); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		if err := h(ctx, row); err != nil {
			return fmt.Errorf("process: %w", err)
		}
	}
}

// Proc returns a component.Proc that watches the feed until its component is
// stopped, and fails the component should watching fail.
func (f DistributionFeed) Proc(h RowHandler) component.Proc {
	return func(l *component.L) {
		if err := f.Watch(l.GraceContext(), h); err != nil {
			l.Fatal(err)
		}
	}
}
