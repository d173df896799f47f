// Package bus carries SSE messages between replicas, so a session driven by
// one process reaches clients streaming from another.
package bus

import (
	"context"

	"github.com/roundtablehq/roundtable-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
