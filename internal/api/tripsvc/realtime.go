package tripsvc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wariapp/wari/internal/models"
)

// retryInterval 固定重连间隔。产品侧优先保证最终重连而不是放弃，
// 所以重试无上限、也不做退避。
const retryInterval = time.Second

// 信道事件名
const (
	eventJoinRoom   = "join-trip-room"
	eventLeaveRoom  = "leave-trip-room"
	eventTripChange = "trip-status-change"
)

// envelope 信道消息封包
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// roomPayload join/leave 的载荷
type roomPayload struct {
	ID string `json:"id"`
}

// RealtimeCallbacks 信道回调。OnTrip 在读协程里同步调用，
// 保证按到达顺序、不缓冲不合并。
type RealtimeCallbacks struct {
	OnTrip       func(trip *models.Trip)
	OnConnect    func()
	OnDisconnect func()
}

// RealtimeClient 行程推送信道客户端。整个进程共享一条底层连接：
// Connect 幂等，Disconnect 显式销毁之后才能重新开始。
//
// 房间成员关系是连接级的，服务端不跨断线保留；重连成功后自动重入
// 之前加入的房间。首次 connect 不补 join——那一次由显式 JoinRoom 完成，
// 用"至少断开过一次"这个粘滞事实做门闩。
type RealtimeClient struct {
	logger    *zap.Logger
	url       string
	callbacks RealtimeCallbacks

	// writeMu 串行化控制帧写入，gorilla 只允许一个并发写者
	writeMu sync.Mutex

	mu               sync.Mutex
	conn             *websocket.Conn
	started          bool
	connected        bool
	everDisconnected bool
	room             string
	pendingJoin      bool
	stopCh           chan struct{}
}

// NewRealtimeClient 创建信道客户端
func NewRealtimeClient(logger *zap.Logger, url string, callbacks RealtimeCallbacks) *RealtimeClient {
	return &RealtimeClient{
		logger:    logger,
		url:       url,
		callbacks: callbacks,
	}
}

// SetURL 覆盖信道地址（用于测试）
func (c *RealtimeClient) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

// Connect 启动连接管理循环，幂等。拨号失败不向调用方暴露，
// 由循环以固定间隔无限重试。
func (c *RealtimeClient) Connect() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	go c.run(stopCh)
}

// Disconnect 销毁连接，之后的 Connect 重新开始。已断开时调用安全。
func (c *RealtimeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	c.started = false
	close(c.stopCh)

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.everDisconnected = false
	c.room = ""
	c.pendingJoin = false
}

// Reconnect 主动掐断当前连接让管理循环重拨（监督器的 forceReconnect）
func (c *RealtimeClient) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected 当前连接状态
func (c *RealtimeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// HasDisconnected 是否至少断开过一次（粘滞）
func (c *RealtimeClient) HasDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.everDisconnected
}

// JoinRoom 订阅以 tripID 命名的广播组。之前加入过别的房间时必须先退出，
// 避免收到上一个行程的陈旧事件。断线时记下待加入，连上后补发。
func (c *RealtimeClient) JoinRoom(tripID string) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	previous := c.room
	c.room = tripID
	if !connected {
		c.pendingJoin = true
		c.mu.Unlock()
		return nil
	}
	c.pendingJoin = false
	c.mu.Unlock()

	if previous != "" && previous != tripID {
		if err := c.writeEvent(conn, eventLeaveRoom, previous); err != nil {
			return err
		}
	}
	return c.writeEvent(conn, eventJoinRoom, tripID)
}

// LeaveRoom 退出当前房间
func (c *RealtimeClient) LeaveRoom() error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	room := c.room
	c.room = ""
	c.pendingJoin = false
	c.mu.Unlock()

	if room == "" || !connected {
		return nil
	}
	return c.writeEvent(conn, eventLeaveRoom, room)
}

// run 连接管理循环：拨号、补 join、读到断开、等 1 秒、再来
func (c *RealtimeClient) run(stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.Dial(c.currentURL(), nil)
		if err != nil {
			c.logger.Warn("Realtime dial failed, will retry", zap.Error(err))
			if !sleepOrStop(retryInterval, stopCh) {
				return
			}
			continue
		}

		c.mu.Lock()
		if !c.started || c.stopCh != stopCh {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.connected = true
		rejoin := c.room != "" && (c.everDisconnected || c.pendingJoin)
		room := c.room
		c.pendingJoin = false
		c.mu.Unlock()

		c.logger.Info("Realtime connected")
		if c.callbacks.OnConnect != nil {
			c.callbacks.OnConnect()
		}

		if rejoin {
			if err := c.writeEvent(conn, eventJoinRoom, room); err != nil {
				c.logger.Warn("Rejoin after reconnect failed", zap.String("room", room), zap.Error(err))
			} else {
				c.logger.Info("Rejoined trip room", zap.String("room", room))
			}
		}

		c.readLoop(conn, stopCh)

		c.mu.Lock()
		wasConnected := c.connected
		c.connected = false
		if wasConnected {
			c.everDisconnected = true
		}
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		if wasConnected && c.callbacks.OnDisconnect != nil {
			c.callbacks.OnDisconnect()
		}

		if !sleepOrStop(retryInterval, stopCh) {
			return
		}
	}
}

// readLoop 逐条读取并分发，直到连接出错
func (c *RealtimeClient) readLoop(conn *websocket.Conn, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("Realtime connection closed normally")
			} else {
				c.logger.Warn("Realtime read error", zap.Error(err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("Failed to parse realtime message",
				zap.String("message", string(message)),
				zap.Error(err))
			continue
		}

		switch env.Event {
		case eventTripChange:
			var trip models.Trip
			if err := json.Unmarshal(env.Data, &trip); err != nil {
				c.logger.Warn("Failed to parse trip snapshot", zap.Error(err))
				continue
			}
			if c.callbacks.OnTrip != nil {
				c.callbacks.OnTrip(&trip)
			}

		default:
			c.logger.Debug("Unknown realtime event", zap.String("event", env.Event))
		}
	}
}

func (c *RealtimeClient) currentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *RealtimeClient) writeEvent(conn *websocket.Conn, event, roomID string) error {
	if conn == nil {
		return nil
	}
	data, err := json.Marshal(roomPayload{ID: roomID})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(envelope{Event: event, Data: data})
}

// sleepOrStop 等待 d，期间被 stop 打断则返回 false
func sleepOrStop(d time.Duration, stopCh chan struct{}) bool {
	select {
	case <-stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
