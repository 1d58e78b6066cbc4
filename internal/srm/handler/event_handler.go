package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-wms/internal/shared/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// EventHandler SSE 推送
type EventHandler struct {
	hub       *sse.Hub
	heartbeat time.Duration
}

func NewEventHandler(hub *sse.Hub) *EventHandler {
	return &EventHandler{hub: hub, heartbeat: 30 * time.Second}
}

// parseOrderIDs ?order_id=a,b 或重复参数
func parseOrderIDs(c *gin.Context) []string {
	var ids []string
	for _, v := range c.QueryArray("order_id") {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Stream 供货记录变化推送，可按采购单订阅
// GET /api/v1/srm/events?token=xxx&order_id=xxx
func (h *EventHandler) Stream(c *gin.Context) {
	clientID := uuid.NewString()
	client := sse.NewClient(clientID, GetUserID(c), 64, parseOrderIDs(c)...)
	h.hub.Register(client)
	defer h.hub.Unregister(clientID)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	fmt.Fprintf(c.Writer, "event: %s\ndata: {\"client_id\":\"%s\"}\n\n", sse.EventConnected, clientID)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.EventType, event.Data)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}
