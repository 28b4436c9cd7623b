// Package websocket 向订阅邮箱的客户端推送新邮件通知。
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 32
)

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMail    MessageType = "new_mail"
	MessageTypeSubscribed MessageType = "subscribed"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType          `json:"type"`
	Mailbox   string               `json:"mailbox"`
	Email     *domain.EmailSummary `json:"email,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			// 非浏览器客户端不带 Origin
			return origin == "" || allowed[origin]
		},
	}
}

// Client 代表一个WebSocket客户端连接，只订阅一个邮箱地址。
type Client struct {
	id      string
	address string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
}

type broadcast struct {
	address string
	data    []byte
}

// Hub 管理所有WebSocket连接，按邮箱地址分组。
type Hub struct {
	mu         sync.RWMutex
	mailboxes  map[string]map[string]*Client // address -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast
	done       chan struct{}
	upgrader   websocket.Upgrader
	log        *zap.Logger
	now        func() time.Time
}

// NewHub 创建WebSocket Hub
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		mailboxes:  make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcast, 256),
		done:       make(chan struct{}),
		upgrader:   upgraderFactory(allowedOrigins),
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run 启动Hub，直到 ctx 取消。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAllClients()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.mailboxes[client.address] == nil {
				h.mailboxes[client.address] = make(map[string]*Client)
			}
			h.mailboxes[client.address][client.id] = client
			h.mu.Unlock()
			h.log.Debug("websocket client registered", zap.String("id", client.id), zap.String("mailbox", client.address))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.mailboxes[client.address]; ok {
				if _, ok := clients[client.id]; ok {
					delete(clients, client.id)
					close(client.send)
				}
				if len(clients) == 0 {
					delete(h.mailboxes, client.address)
				}
			}
			h.mu.Unlock()
			h.log.Debug("websocket client unregistered", zap.String("id", client.id))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Subscribers 返回订阅该地址的连接数。
func (h *Hub) Subscribers(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.mailboxes[address])
}

// NotifyNewMail 通知新邮件。广播队列已满时丢弃通知，不阻塞投递流程。
func (h *Hub) NotifyNewMail(address string, summary domain.EmailSummary) {
	data, err := json.Marshal(Message{
		Type:      MessageTypeNewMail,
		Mailbox:   address,
		Email:     &summary,
		Timestamp: h.now(),
	})
	if err != nil {
		h.log.Error("failed to marshal new mail notification", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- broadcast{address: address, data: data}:
	default:
		h.log.Warn("websocket broadcast queue full, dropping notification", zap.String("mailbox", address))
	}
}

func (h *Hub) deliver(msg broadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.mailboxes[msg.address] {
		select {
		case client.send <- msg.data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("id", client.id))
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.mailboxes {
		for _, client := range clients {
			close(client.send)
		}
	}
	h.mailboxes = make(map[string]map[string]*Client)
}

// ServeMailbox 把请求升级为 WebSocket 并订阅 address。调用方负责确认邮箱存在。
func (h *Hub) ServeMailbox(w http.ResponseWriter, r *http.Request, address string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection",
			zap.Error(err),
			zap.String("origin", r.Header.Get("Origin")),
		)
		return
	}

	client := &Client{
		id:      uuid.NewString(),
		address: address,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
	}

	if data, err := json.Marshal(Message{Type: MessageTypeSubscribed, Mailbox: address, Timestamp: h.now()}); err == nil {
		client.send <- data
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump 只处理控制帧，客户端发来的数据被丢弃。
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
