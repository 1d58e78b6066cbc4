package sse

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventConnected          = "connected"
	EventSupplyRecordUpdate = "supply_record_update"
)

// Event represents a Server-Sent Event
type Event struct {
	ID        uint64 `json:"id"`
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client 一个 SSE 连接。Orders 为空时接收全部采购单的事件
type Client struct {
	ID     string
	UserID string
	Orders map[string]struct{}
	Events chan Event
}

// NewClient 创建订阅指定采购单的连接
func NewClient(id, userID string, buffer int, orderIDs ...string) *Client {
	c := &Client{ID: id, UserID: userID, Events: make(chan Event, buffer)}
	if len(orderIDs) > 0 {
		c.Orders = make(map[string]struct{}, len(orderIDs))
		for _, o := range orderIDs {
			c.Orders[o] = struct{}{}
		}
	}
	return c
}

// Watches 是否关注该采购单
func (c *Client) Watches(orderID string) bool {
	if len(c.Orders) == 0 {
		return true
	}
	_, ok := c.Orders[orderID]
	return ok
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	seq     atomic.Uint64
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("SSE client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("orders", len(client.Orders)),
		zap.Int("total", len(h.clients)))
}

// Unregister 可重复调用
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("SSE client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event Event) int {
	return h.deliver(event, func(*Client) bool { return true })
}

// deliver 非阻塞投递，缓冲区满的连接丢弃本事件。返回投递成功数
func (h *Hub) deliver(event Event, match func(*Client) bool) int {
	if event.ID == 0 {
		event.ID = h.seq.Add(1)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, client := range h.clients {
		if !match(client) {
			continue
		}
		select {
		case client.Events <- event:
			sent++
		default:
			h.logger.Warn("SSE client buffer full, skipping event",
				zap.String("client_id", client.ID), zap.Uint64("event_id", event.ID))
		}
	}
	return sent
}

// SupplyRecordUpdate 供货记录变化事件负载
type SupplyRecordUpdate struct {
	OrderID  string `json:"order_id"`
	RecordID string `json:"record_id"`
	Action   string `json:"action"`
	Status   string `json:"order_status,omitempty"`
}

// PublishSupplyRecordUpdate 推送给关注该采购单的连接
func (h *Hub) PublishSupplyRecordUpdate(update SupplyRecordUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("SSE marshal supply_record_update failed", zap.Error(err))
		return
	}
	sent := h.deliver(Event{EventType: EventSupplyRecordUpdate, Data: string(data)}, func(c *Client) bool {
		return c.Watches(update.OrderID)
	})
	h.logger.Debug("SSE published supply_record_update",
		zap.String("order_id", update.OrderID),
		zap.String("record_id", update.RecordID),
		zap.String("action", update.Action),
		zap.Int("receivers", sent))
}
