package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/docstream-backend/internal/logger"
)

// StreamHub owns the lifecycle of every open stream connection. One
// connection moves OPEN -> CLOSING -> CLOSED: any send or serialize
// failure stops further sends and falls through to cleanup, so a bad
// event can neither crash the process nor silently wedge the stream.
type StreamHub struct {
	mu       sync.RWMutex
	logger   *logger.Logger
	clients  map[*StreamClient]bool
	liveness time.Duration
}

func NewStreamHub(log *logger.Logger, liveness time.Duration) *StreamHub {
	if liveness <= 0 {
		liveness = 30 * time.Second
	}
	return &StreamHub{
		logger:   log.With("component", "StreamHub"),
		clients:  make(map[*StreamClient]bool),
		liveness: liveness,
	}
}

func (hub *StreamHub) NewClient(ownerID uuid.UUID) *StreamClient {
	client := &StreamClient{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Outbound: make(chan StreamEvent, 16),
		done:     make(chan struct{}),
	}
	client.Logger = hub.logger.With("clientID", client.ID)

	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()

	hub.logger.Debug("Stream client registered", "clientID", client.ID, "owner_id", ownerID)
	return client
}

// Send queues an event for one client without blocking the caller. A full
// outbound buffer drops the event; the client resyncs from the store on
// its next refresh.
func (hub *StreamHub) Send(client *StreamClient, ev StreamEvent) {
	select {
	case <-client.done:
	case client.Outbound <- ev:
	default:
		hub.logger.Warn("Dropping stream event; outbound buffer full",
			"clientID", client.ID,
			"eventType", ev.EventType,
		)
	}
}

// ServeHTTP drains the client's outbound queue onto the wire and emits a
// liveness pulse on a fixed interval independent of data traffic. It
// returns when the request context ends, the client is closed, or a
// write fails.
func (hub *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *StreamClient) {
	WriteStreamHeaders(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	pulse := time.NewTicker(hub.liveness)
	defer pulse.Stop()

	for {
		select {
		case <-ctx.Done():
			client.Logger.Debug("Stream client context done", "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-pulse.C:
			if err := writeEvent(w, LivenessEvent()); err != nil {
				client.Logger.Debug("Liveness write failed; closing stream", "error", err)
				return
			}
			flusher.Flush()
		case ev := <-client.Outbound:
			if err := writeEvent(w, ev); err != nil {
				client.Logger.Debug("Event write failed; closing stream", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// CloseClient finalizes a connection. Safe to call more than once.
func (hub *StreamHub) CloseClient(client *StreamClient) {
	client.closeOnce.Do(func() {
		close(client.done)

		hub.mu.Lock()
		delete(hub.clients, client)
		hub.mu.Unlock()

		hub.logger.Debug("Stream client closed", "clientID", client.ID)
	})
}

func (hub *StreamHub) ClientCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// WriteStreamHeaders sets the SSE response headers.
func WriteStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeEvent serializes one event as a data-only SSE frame:
// "data: <json>\n\n".
func writeEvent(w http.ResponseWriter, ev StreamEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	return nil
}

// WriteTerminalError emits a single error event on a connection that is
// being rejected or torn down before subscription setup completed.
func WriteTerminalError(w http.ResponseWriter, msg string) {
	WriteStreamHeaders(w)
	_ = writeEvent(w, ErrorEvent(msg))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
