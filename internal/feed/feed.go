package feed

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/types"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one committed mutation of a FileRecord. Record carries the
// full post-commit snapshot for inserts and updates and is nil for deletes.
type Change struct {
	Op       Op                `json:"op"`
	OwnerID  uuid.UUID         `json:"owner_id"`
	RecordID uuid.UUID         `json:"record_id"`
	Record   *types.FileRecord `json:"record,omitempty"`
}

// Publisher is implemented by anything that accepts committed changes.
// The repo publishes through this after every durable write.
type Publisher interface {
	Publish(change Change)
}

type subscriber struct {
	ownerID uuid.UUID
	ch      chan Change
	once    sync.Once
}

// Feed fans committed record changes out to per-owner subscribers. The
// owner filter lives in the subscription index itself: a subscriber is
// only ever registered under its own owner id, so cross-owner events
// cannot reach it.
type Feed struct {
	mu     sync.RWMutex
	log    *logger.Logger
	subs   map[uuid.UUID]map[*subscriber]struct{}
	buffer int
}

func New(baseLog *logger.Logger) *Feed {
	return &Feed{
		log:    baseLog.With("component", "ChangeFeed"),
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
		buffer: 16,
	}
}

// Subscribe registers a listener for one owner's record changes. The
// returned cancel releases everything the subscription holds; calling it
// more than once is safe.
func (f *Feed) Subscribe(ownerID uuid.UUID) (<-chan Change, func()) {
	sub := &subscriber{
		ownerID: ownerID,
		ch:      make(chan Change, f.buffer),
	}

	f.mu.Lock()
	set, ok := f.subs[ownerID]
	if !ok {
		set = make(map[*subscriber]struct{})
		f.subs[ownerID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			f.mu.Lock()
			if set, ok := f.subs[ownerID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(f.subs, ownerID)
				}
			}
			f.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers a change to every subscriber of its owner. Slow
// consumers do not block the publisher; a full buffer drops the change
// for that consumer only.
func (f *Feed) Publish(change Change) {
	if change.OwnerID == uuid.Nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	set, ok := f.subs[change.OwnerID]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.ch <- change:
		default:
			f.log.Warn("Dropping change; subscriber buffer full",
				"owner_id", change.OwnerID,
				"record_id", change.RecordID,
				"op", change.Op,
			)
		}
	}
}

// SubscriberCount reports how many listeners an owner currently has.
func (f *Feed) SubscriberCount(ownerID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[ownerID])
}
