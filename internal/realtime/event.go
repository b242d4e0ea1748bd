package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/docstream-backend/internal/feed"
	"github.com/yungbote/docstream-backend/internal/types"
)

type EventType string

const (
	EventRecordChanged EventType = "recordChanged"
	EventRecordRemoved EventType = "recordRemoved"
	EventLiveness      EventType = "liveness"
	EventError         EventType = "error"
)

// StreamEvent is the wire-level union pushed to stream clients. Inserts
// and updates carry the full current snapshot rather than a diff so the
// client can reconcile by replacement.
type StreamEvent struct {
	EventType EventType         `json:"eventType"`
	Timestamp time.Time         `json:"timestamp"`
	Record    *types.FileRecord `json:"record,omitempty"`
	RecordID  *uuid.UUID        `json:"id,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// FromChange translates a committed store change into its wire event.
func FromChange(change feed.Change) StreamEvent {
	switch change.Op {
	case feed.OpDelete:
		id := change.RecordID
		return StreamEvent{
			EventType: EventRecordRemoved,
			Timestamp: time.Now(),
			RecordID:  &id,
		}
	default:
		return StreamEvent{
			EventType: EventRecordChanged,
			Timestamp: time.Now(),
			Record:    change.Record,
		}
	}
}

func LivenessEvent() StreamEvent {
	return StreamEvent{EventType: EventLiveness, Timestamp: time.Now()}
}

func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{EventType: EventError, Timestamp: time.Now(), Error: msg}
}
