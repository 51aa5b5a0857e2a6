package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/qianlnk/werewolf-channels/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192

	// DefaultSendBuffer 每个连接的发送队列长度
	DefaultSendBuffer = 256
)

const (
	channelPrefix = "channel:"
	entryPrefix   = "entry:"
	sessionPrefix = "session:"
)

// ChannelTopic 频道在线状态主题
func ChannelTopic(channelID string) string { return channelPrefix + channelID }

// EntryTopic 频道报名主题
func EntryTopic(channelID string) string { return entryPrefix + channelID }

// SessionTopic 会话主题
func SessionTopic(sessionID string) string { return sessionPrefix + sessionID }

// Broadcaster 消息推送，发送是非阻塞的，投递失败只记录日志
type Broadcaster interface {
	Publish(topic string, env models.Envelope)
	SendTo(topic, userID string, env models.Envelope)
	SendToUser(userID string, env models.Envelope)
	IsSubscribed(topic, userID string) bool
}

// Client 一个 WebSocket 连接
type Client struct {
	ID   string
	User models.Identity
	Send chan []byte

	topics map[string]bool
	closed bool
}

// Hub 连接管理器，按连接 ID、用户和主题索引
type Hub struct {
	clients map[string]*Client
	users   map[string]map[string]*Client
	topics  map[string]map[string]*Client
	buffer  int
	metrics *Metrics
	logger  *slog.Logger
	mutex   sync.RWMutex
}

// NewHub 创建连接管理器
func NewHub(buffer int, metrics *Metrics, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[string]map[string]*Client),
		topics:  make(map[string]map[string]*Client),
		buffer:  buffer,
		metrics: metrics,
		logger:  logger.With("component", "hub"),
	}
}

// Register 注册新连接
func (h *Hub) Register(user models.Identity) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		User:   user,
		Send:   make(chan []byte, h.buffer),
		topics: make(map[string]bool),
	}
	h.mutex.Lock()
	h.clients[c.ID] = c
	if h.users[user.UserID] == nil {
		h.users[user.UserID] = make(map[string]*Client)
	}
	h.users[user.UserID][c.ID] = c
	h.mutex.Unlock()

	h.metrics.connOpened()
	h.logger.Debug("client registered", "conn", c.ID, "user", user.UserID)
	return c
}

// Unregister 注销连接并退出所有主题，可重复调用
func (h *Hub) Unregister(c *Client) {
	h.mutex.Lock()
	if c.closed {
		h.mutex.Unlock()
		return
	}
	c.closed = true
	var left []string
	for topic := range c.topics {
		if h.removeLocked(c, topic) && strings.HasPrefix(topic, channelPrefix) {
			left = append(left, topic)
		}
	}
	delete(h.clients, c.ID)
	if conns := h.users[c.User.UserID]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.users, c.User.UserID)
		}
	}
	close(c.Send)
	h.mutex.Unlock()

	h.metrics.connClosed()
	h.logger.Debug("client unregistered", "conn", c.ID, "user", c.User.UserID)
	for _, topic := range left {
		h.presence(topic, models.DeltaUserLeft, c.User)
	}
}

// Subscribe 订阅主题，用户第一个连接进入频道时广播 USER_JOINED
func (h *Hub) Subscribe(c *Client, topic string) {
	h.mutex.Lock()
	if c.closed || c.topics[topic] {
		h.mutex.Unlock()
		return
	}
	first := !h.subscribedLocked(topic, c.User.UserID)
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Client)
	}
	h.topics[topic][c.ID] = c
	c.topics[topic] = true
	h.mutex.Unlock()

	if first && strings.HasPrefix(topic, channelPrefix) {
		h.presence(topic, models.DeltaUserJoined, c.User)
	}
}

// Unsubscribe 退出主题，用户最后一个连接离开频道时广播 USER_LEFT
func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mutex.Lock()
	if c.closed || !c.topics[topic] {
		h.mutex.Unlock()
		return
	}
	last := h.removeLocked(c, topic)
	h.mutex.Unlock()

	if last && strings.HasPrefix(topic, channelPrefix) {
		h.presence(topic, models.DeltaUserLeft, c.User)
	}
}

// removeLocked 从主题中移除连接，返回该用户是否已没有连接留在主题中
func (h *Hub) removeLocked(c *Client, topic string) bool {
	delete(c.topics, topic)
	if subs := h.topics[topic]; subs != nil {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	return !h.subscribedLocked(topic, c.User.UserID)
}

func (h *Hub) subscribedLocked(topic, userID string) bool {
	for _, c := range h.topics[topic] {
		if c.User.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) presence(topic string, kind models.DeltaKind, user models.Identity) {
	h.Publish(topic, models.Envelope{Type: string(kind), Topic: topic, Payload: user})
}

// IsSubscribed 用户是否有连接订阅了该主题
func (h *Hub) IsSubscribed(topic, userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.subscribedLocked(topic, userID)
}

// Users 订阅主题的用户，按 ID 排序
func (h *Hub) Users(topic string) []models.Identity {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	seen := make(map[string]bool)
	users := make([]models.Identity, 0, len(h.topics[topic]))
	for _, c := range h.topics[topic] {
		if seen[c.User.UserID] {
			continue
		}
		seen[c.User.UserID] = true
		users = append(users, c.User)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// Publish 向主题的所有连接推送
func (h *Hub) Publish(topic string, env models.Envelope) {
	h.deliver(env, func() []*Client { return sortedClients(h.topics[topic]) })
}

// SendTo 向用户在该主题下的连接推送
func (h *Hub) SendTo(topic, userID string, env models.Envelope) {
	h.deliver(env, func() []*Client {
		var targets []*Client
		for _, c := range h.topics[topic] {
			if c.User.UserID == userID {
				targets = append(targets, c)
			}
		}
		return targets
	})
}

// SendToUser 向用户的所有连接推送
func (h *Hub) SendToUser(userID string, env models.Envelope) {
	h.deliver(env, func() []*Client { return sortedClients(h.users[userID]) })
}

// SendToClient 向单个连接推送
func (h *Hub) SendToClient(c *Client, env models.Envelope) {
	h.deliver(env, func() []*Client { return []*Client{c} })
}

// deliver 非阻塞入队，队列已满的连接被断开，不影响其他连接；投递失败只记录 ErrTransport，不返回给发布者
func (h *Hub) deliver(env models.Envelope, targets func() []*Client) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshal message", "type", env.Type, "error", err)
		return
	}

	var dropped []*Client
	h.mutex.RLock()
	for _, c := range targets() {
		if c.closed {
			continue
		}
		select {
		case c.Send <- data:
		default:
			dropped = append(dropped, c)
		}
	}
	h.mutex.RUnlock()

	for _, c := range dropped {
		h.metrics.drop()
		err := fmt.Errorf("%w: 连接 %s 发送队列已满", ErrTransport, c.ID)
		h.logger.Warn("dropping client", "conn", c.ID, "user", c.User.UserID, "type", env.Type, "code", ErrorCode(err), "error", err)
		h.Unregister(c)
	}
}

func sortedClients(m map[string]*Client) []*Client {
	clients := make([]*Client, 0, len(m))
	for _, c := range m {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}

// Close 断开所有连接
func (h *Hub) Close() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.RUnlock()
	for _, c := range clients {
		h.Unregister(c)
	}
}

// Serve 运行连接的读写循环，直到连接断开；handle 处理每条客户端消息
func (h *Hub) Serve(conn *websocket.Conn, c *Client, handle func(c *Client, data []byte)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, c)
	}()
	h.readPump(conn, c, handle)
	<-done
}

func (h *Hub) readPump(conn *websocket.Conn, c *Client, handle func(c *Client, data []byte)) {
	defer func() {
		h.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("read message", "conn", c.ID, "error", err)
			}
			return
		}
		handle(c, data)
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("write message", "conn", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
