package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/changefeed"
	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	EventFeedChange = "feed-change"
	eventHeartbeat  = "heartbeat"

	socketWriteTimeout = 5 * time.Second
	socketReadTimeout  = 60 * time.Second
	socketCloseTimeout = time.Second
)

var feedTopics = []string{posts.CollectionPosts, posts.CollectionReplies}

type heartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// handleFeedStream relays store change events as Server-Sent Events until the client leaves.
func (h *httpHandler) handleFeedStream(c *gin.Context) {
	ctx := c.Request.Context()
	events, cleanup := h.changes.Subscribe(ctx, feedTopics...)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.shutdown:
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(EventFeedChange, event)
			return true
		case tick := <-ticker.C:
			c.SSEvent(eventHeartbeat, heartbeatPayload{Timestamp: tick.UTC()})
			return true
		}
	})
}

// handleFeedSocket relays the same change events as JSON websocket messages. Client frames
// are read and discarded so close and ping frames are processed.
func (h *httpHandler) handleFeedSocket(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events, cleanup := h.changes.Subscribe(ctx, feedTopics...)
	defer cleanup()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	writeErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case <-h.shutdown:
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(socketCloseTimeout))
				writeErr <- nil
				return
			case event, ok := <-events:
				if !ok {
					writeErr <- nil
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
				if err := conn.WriteJSON(socketMessage{Type: EventFeedChange, Event: &event}); err != nil {
					writeErr <- err
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteTimeout)); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(socketCloseTimeout))

	select {
	case <-writeErr:
	case <-time.After(500 * time.Millisecond):
	}
}

type socketMessage struct {
	Type  string            `json:"type"`
	Event *changefeed.Event `json:"event,omitempty"`
}
