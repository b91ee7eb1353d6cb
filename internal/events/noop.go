package events

import "context"

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// New returns a NATS publisher for url, or a NoopPublisher when url is empty.
func New(url string) (Publisher, error) {
	if url == "" {
		return &NoopPublisher{}, nil
	}
	return NewNATSPublisher(url)
}
