package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 下行消息类型
const (
	MsgTypeInit         = "init"          // 初始化数据（当前状态 + 会话）
	MsgTypeStatusUpdate = "status_update" // TripStatus 更新
	MsgTypeToast        = "toast"         // 用户可见提示
	MsgTypeWarning      = "warning"       // 连接质量/离线警告
)

// 上行消息类型
const (
	inMsgTypeEvent   = "event"   // 连接相关事件: focus/visible/online/offline/touch
	inMsgTypeQuality = "quality" // navigator.connection 观测值
)

// Message 下行消息结构
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// inboundMessage UI 上行消息
type inboundMessage struct {
	Type          string `json:"type"`
	Kind          string `json:"kind,omitempty"`
	EffectiveType string `json:"effective_type,omitempty"`
	RTTMillis     int    `json:"rtt_ms,omitempty"`
}

// Client 一个已升级的 UI 连接
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub UI 连接管理中心。向所有已挂载的视图广播派生状态，
// 并把 UI 上报的连接事件转发给监督器。
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// 初始数据提供者回调
	getInitData func() interface{}

	// UI 上行事件回调
	onEvent   func(kind string)
	onQuality func(effectiveType string, rtt time.Duration)
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetInitDataProvider 设置初始数据提供者
func (h *Hub) SetInitDataProvider(provider func() interface{}) {
	h.getInitData = provider
}

// SetEventHandlers 设置 UI 上行事件回调
func (h *Hub) SetEventHandlers(onEvent func(kind string), onQuality func(effectiveType string, rtt time.Duration)) {
	h.onEvent = onEvent
	h.onQuality = onQuality
}

// Run 运行 Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("UI client connected",
				zap.String("client_id", client.id),
				zap.Int("total_clients", count))

			h.sendInitData(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("UI client disconnected",
				zap.String("client_id", client.id),
				zap.Int("total_clients", count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 慢消费者，关闭连接
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendInitData(client *Client) {
	if h.getInitData == nil {
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: h.getInitData()})
	if err != nil {
		h.logger.Error("Failed to marshal init data", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("Failed to send init data, client buffer full",
			zap.String("client_id", client.id))
	}
}

// BroadcastMessage 广播结构化消息给所有 UI 客户端
func (h *Hub) BroadcastMessage(msgType string, data interface{}) {
	jsonData, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.broadcast <- jsonData
}

// BroadcastStatus 广播一次 TripStatus 更新
func (h *Hub) BroadcastStatus(status interface{}) {
	h.BroadcastMessage(MsgTypeStatusUpdate, status)
}

// BroadcastToast 广播一条用户可见提示
func (h *Hub) BroadcastToast(message string) {
	h.BroadcastMessage(MsgTypeToast, map[string]string{"message": message})
}

// BroadcastWarning 广播一条连接警告
func (h *Hub) BroadcastWarning(message string) {
	h.BroadcastMessage(MsgTypeWarning, map[string]string{"message": message})
}

// ClientCount 当前 UI 客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Register 注册客户端
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump 读取 UI 上行消息并分发
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Debug("Malformed UI message", zap.String("client_id", c.id))
			continue
		}

		switch msg.Type {
		case inMsgTypeEvent:
			if c.hub.onEvent != nil {
				c.hub.onEvent(msg.Kind)
			}
		case inMsgTypeQuality:
			if c.hub.onQuality != nil {
				c.hub.onQuality(msg.EffectiveType, time.Duration(msg.RTTMillis)*time.Millisecond)
			}
		}
	}
}

// WritePump 发送消息
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
