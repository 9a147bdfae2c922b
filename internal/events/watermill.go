package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// WatermillPublisher publishes events as watermill messages on one topic.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillPublisher(publisher message.Publisher, topic string) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher, topic: topic}
}

// NewKafkaPublisher creates a Kafka-backed publisher.
func NewKafkaPublisher(brokers []string, topic string, logger watermill.LoggerAdapter) (*WatermillPublisher, error) {
	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   brokers,
		// Partitioning by session keeps one session's events ordered.
		Marshaler: kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
			return msg.Metadata.Get("session_id"), nil
		}),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return NewWatermillPublisher(publisher, topic), nil
}

// NewChannelPublisher creates an in-process publisher. The returned
// GoChannel can be used to subscribe to the same topic.
func NewChannelPublisher(topic string, logger watermill.LoggerAdapter) (*WatermillPublisher, *gochannel.GoChannel) {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	return NewWatermillPublisher(ch, topic), ch
}

func (p *WatermillPublisher) Publish(_ context.Context, evs ...Event) error {
	msgs := make([]*message.Message, 0, len(evs))
	for _, e := range evs {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msg := message.NewMessage(e.ID, payload)
		msg.Metadata.Set("event_type", string(e.Type))
		msg.Metadata.Set("session_id", e.SessionID)
		msg.Metadata.Set("timestamp", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
		msgs = append(msgs, msg)
	}
	if err := p.publisher.Publish(p.topic, msgs...); err != nil {
		return fmt.Errorf("publish %d events: %w", len(msgs), err)
	}
	return nil
}

func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

// LogSubscriber consumes topic from sub and writes every event to the log.
// It stops when ctx is cancelled.
func LogSubscriber(ctx context.Context, sub message.Subscriber, topic string, log zerolog.Logger) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log = log.With().Str("component", "event_log").Logger()
	go func() {
		for msg := range msgs {
			log.Info().
				Str("event_type", msg.Metadata.Get("event_type")).
				Str("session_id", msg.Metadata.Get("session_id")).
				RawJSON("payload", msg.Payload).
				Msg("Session event")
			msg.Ack()
		}
	}()
	return nil
}
