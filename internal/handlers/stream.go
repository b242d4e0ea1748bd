package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/docstream-backend/internal/feed"
	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/middleware"
	"github.com/yungbote/docstream-backend/internal/realtime"
)

type StreamHandler struct {
	log  *logger.Logger
	hub  *realtime.StreamHub
	feed *feed.Feed
	auth *middleware.AuthMiddleware
}

func NewStreamHandler(log *logger.Logger, hub *realtime.StreamHub, changeFeed *feed.Feed, auth *middleware.AuthMiddleware) *StreamHandler {
	return &StreamHandler{
		log:  log.With("handler", "StreamHandler"),
		hub:  hub,
		feed: changeFeed,
		auth: auth,
	}
}

// GET /api/stream
// One long-lived SSE connection per client, scoped to the caller's owner
// id. Unauthenticated access gets a single terminal error event rather
// than a JSON status so EventSource consumers see the rejection in-band.
func (h *StreamHandler) Stream(c *gin.Context) {
	ownerID, err := h.auth.ResolveOwner(c.Request)
	if err != nil {
		realtime.WriteTerminalError(c.Writer, "not authenticated")
		return
	}

	if h.feed == nil {
		// subscription setup cannot proceed; close gracefully instead of
		// leaving a half-open connection
		realtime.WriteTerminalError(c.Writer, "subscription unavailable")
		return
	}

	client := h.hub.NewClient(ownerID)
	defer h.hub.CloseClient(client)

	changes, cancel := h.feed.Subscribe(ownerID)
	defer cancel()

	h.log.Info("stream open", "owner_id", ownerID, "client_id", client.ID)

	// pump committed changes into the client's outbound queue until the
	// connection tears down
	go func() {
		for {
			select {
			case <-client.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				h.hub.Send(client, realtime.FromChange(change))
			}
		}
	}()

	h.hub.ServeHTTP(c.Writer, c.Request, client)
	h.log.Info("stream closed", "owner_id", ownerID, "client_id", client.ID)
}
