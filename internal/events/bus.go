package events

import "context"

// Bus publishes wizard events. msgID deduplicates retried publishes.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
	Drain() error
}
