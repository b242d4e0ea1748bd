package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/docstream-backend/internal/logger"
)

// StreamClient is one long-lived stream connection. Outbound is drained
// by the hub's serve loop; done is closed exactly once when the client
// is torn down.
type StreamClient struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Outbound chan StreamEvent
	done     chan struct{}
	closeOnce sync.Once
	Logger   *logger.Logger
}

// Done exposes the teardown signal so pump goroutines can stop feeding
// Outbound once the connection is closing.
func (c *StreamClient) Done() <-chan struct{} { return c.done }
