package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"

	"github.com/yungbote/docstream-backend/internal/realtime"
)

const maxReconnectDelay = 30 * time.Second

// errStreamRejected marks a session the gateway ended with an in-band
// error event. Such a session was never a working stream, so it burns a
// reconnect attempt instead of resetting the counter.
var errStreamRejected = errors.New("stream rejected by server")

// streamLoop keeps the event stream alive for as long as observers hold
// the cache. Each drop triggers a reconnect with exponential backoff; a
// successful connection resets the attempt counter and triggers a full
// refresh to cover anything missed while disconnected. When the budget
// runs out the loop gives up and raises the side-channel error.
func (c *Cache) streamLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := c.consumeStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempts = 0
		}

		attempts++
		if attempts >= c.cfg.MaxReconnectAttempts {
			c.setErr(fmt.Errorf("stream reconnect budget exhausted: %w", err))
			c.log.Error("Stream reconnect budget exhausted", "attempts", attempts, "error", err)
			return
		}

		delay := reconnectDelay(c.cfg.ReconnectBase, attempts)
		c.log.Warn("Stream dropped; reconnecting", "attempt", attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// reconnectDelay doubles the base per attempt, capped so neither long
// outages nor large attempt budgets can shift the delay out of range.
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	return delay
}

// consumeStream opens one stream connection and applies events until it
// drops. The connected flag reports whether the server ever accepted the
// connection, which is what resets the backoff counter; an in-band
// rejection does not count as accepted.
func (c *Cache) consumeStream(ctx context.Context) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/stream", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream rejected: http %d", resp.StatusCode)
	}

	// resync after (re)connecting so the mirror covers the gap between
	// the last event seen and now
	c.Refresh(ctx)

	reader := bufio.NewReader(resp.Body)
	var block bytes.Buffer
	for {
		line, readErr := reader.ReadBytes('\n')
		block.Write(line)

		if len(bytes.TrimRight(line, "\r\n")) == 0 && block.Len() > 0 {
			if applyErr := c.applyBlock(block.Bytes()); applyErr != nil {
				return !errors.Is(applyErr, errStreamRejected), applyErr
			}
			block.Reset()
		}

		if readErr != nil {
			return true, readErr
		}
	}
}

// applyBlock decodes one blank-line-delimited SSE frame and folds its
// events into the mirror.
func (c *Cache) applyBlock(raw []byte) error {
	events, err := sse.Decode(bytes.NewReader(raw))
	if err != nil {
		c.log.Warn("Undecodable stream frame skipped", "error", err)
		return nil
	}

	for _, ev := range events {
		data, ok := ev.Data.(string)
		if !ok || data == "" {
			continue
		}

		var event realtime.StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.log.Warn("Undecodable stream event skipped", "error", err)
			continue
		}
		if err := c.applyEvent(event); err != nil {
			return err
		}
	}
	return nil
}

// applyEvent is idempotent: snapshots replace by id, removals of unknown
// ids are no-ops, so replayed events cannot corrupt the mirror.
func (c *Cache) applyEvent(ev realtime.StreamEvent) error {
	switch ev.EventType {
	case realtime.EventRecordChanged:
		c.upsert(ev.Record)
	case realtime.EventRecordRemoved:
		if ev.RecordID != nil {
			c.remove(*ev.RecordID)
		}
	case realtime.EventLiveness:
		// pulse only confirms the connection is alive
	case realtime.EventError:
		return fmt.Errorf("%w: %s", errStreamRejected, ev.Error)
	default:
		c.log.Debug("Unknown stream event type ignored", "eventType", ev.EventType)
	}
	return nil
}
