package messaging

import (
	"context"
)

// Broker defines the interface for message brokers used to carry committed
// queue events between the dispatcher process and fan-out hubs.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
