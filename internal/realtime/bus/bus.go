package bus

import (
	"context"

	"github.com/yungbote/docstream-backend/internal/feed"
	"github.com/yungbote/docstream-backend/internal/logger"
)

// Bus carries committed record changes between orchestrator instances so
// every instance's local feed sees every owner's changes.
type Bus interface {
	Publish(ctx context.Context, change feed.Change) error
	StartForwarder(ctx context.Context, onChange func(change feed.Change)) error
	Close() error
}

type busPublisher struct {
	bus Bus
	log *logger.Logger
}

// Publisher adapts a Bus to the feed.Publisher the repo writes through.
// When the bus is enabled the repo publishes only to the bus; the local
// forwarder republishes into the in-process feed, same as every remote
// instance, so a change is delivered locally exactly once.
func Publisher(b Bus, baseLog *logger.Logger) feed.Publisher {
	return &busPublisher{
		bus: b,
		log: baseLog.With("component", "BusPublisher"),
	}
}

func (p *busPublisher) Publish(change feed.Change) {
	if err := p.bus.Publish(context.Background(), change); err != nil {
		p.log.Warn("Dropping change; bus publish failed",
			"owner_id", change.OwnerID,
			"record_id", change.RecordID,
			"op", change.Op,
			"error", err,
		)
	}
}
