package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// PartitionKeyMetadata is the message metadata brokers use to key a message
const PartitionKeyMetadata = "partition_key"

// Publisher publishes messages to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Close() error
}

// Subscriber consumes messages from a topic. Its method set matches
// watermill's message.Subscriber so it can be handed to a router directly.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

// PubSub combines both Publisher and Subscriber interfaces
type PubSub interface {
	Publisher
	Subscriber
}

// MessagePublisher adapts a Publisher to watermill's message.Publisher
func MessagePublisher(p Publisher) message.Publisher {
	return &messagePublisher{p: p}
}

type messagePublisher struct {
	p Publisher
}

func (m *messagePublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		if err := m.p.Publish(msg.Context(), topic, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *messagePublisher) Close() error {
	return m.p.Close()
}
