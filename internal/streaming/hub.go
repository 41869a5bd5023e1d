package streaming

import (
	"context"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// EventFilter specifies which execution events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string             `json:"execution_id,omitempty"`
	Types       []schema.EventType `json:"types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event *schema.ExecutionEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan *schema.ExecutionEvent, func(), error)
	Close() error
}
