// Package relay 状态复制的后端：持有规范 DJ 状态，把事件分发给所有视图
package relay

import (
	"sync"

	"UltimateDJ/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 参与者角色
const (
	RoleController = "controller"
	RoleDisplay    = "display"
)

// Client 一条 websocket 连接；多条连接可共用参与者 ID，Hub 按 Key 寻址
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
	Key  string // 每条连接唯一
	ID   string // 参与者 ID，作为事件 sender
	Role string
}

// NewClient 创建带缓冲发送队列和新 Key 的客户端
func NewClient(hub *Hub, conn *websocket.Conn, id, role string) *Client {
	return &Client{
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		Key:  uuid.NewString(),
		ID:   id,
		Role: role,
	}
}

// Outbound 一次待投递消息，TargetKey 只发给一条连接，ExcludeKey 跳过一条
type Outbound struct {
	Message    []byte
	TargetKey  string
	ExcludeKey string
}

// Hub 注册与投递都在单个协程上串行执行
// 定向与广播消息共用一个队列，每个客户端收到的顺序即入队顺序
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	outbound   chan *Outbound

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewHub 创建 Hub，调用 Run 启动
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan *Outbound, 1024),
		done:       make(chan struct{}),
	}
}

// Run Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case msg := <-h.outbound:
			h.deliver(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 结束 Run 并关闭所有发送队列
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.Key] = client

	logger.Info("Participant joined",
		logger.String("id", client.ID),
		logger.String("conn", client.Key),
		logger.String("role", client.Role),
		logger.Int("participants", len(h.clients)))
}

// removeClient 调用方需持有 h.mu
func (h *Hub) removeClient(client *Client) {
	if cur, ok := h.clients[client.Key]; !ok || cur != client {
		return
	}
	delete(h.clients, client.Key)
	close(client.Send)

	logger.Info("Participant left",
		logger.String("id", client.ID),
		logger.String("conn", client.Key),
		logger.Int("participants", len(h.clients)))
}

func (h *Hub) deliver(msg *Outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.TargetKey != "" {
		if client, ok := h.clients[msg.TargetKey]; ok {
			h.push(client, msg.Message)
		}
		return
	}
	for key, client := range h.clients {
		if msg.ExcludeKey != "" && key == msg.ExcludeKey {
			continue
		}
		h.push(client, msg.Message)
	}
}

// push 调用方需持有 h.mu；队列已满的客户端被断开，重连后重新同步
func (h *Hub) push(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		logger.Warn("Send queue full, dropping participant",
			logger.String("id", client.ID))
		h.removeClient(client)
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, client := range h.clients {
		close(client.Send)
		delete(h.clients, key)
	}
}

// Register 注册客户端，Hub 接收后返回
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销客户端并关闭其队列
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Enqueue 排入一次投递
func (h *Hub) Enqueue(msg *Outbound) {
	select {
	case h.outbound <- msg:
	case <-h.done:
	}
}

// Broadcast 发给除 excludeKey 外的所有连接
func (h *Hub) Broadcast(data []byte, excludeKey string) {
	h.Enqueue(&Outbound{Message: data, ExcludeKey: excludeKey})
}

// SendTo 发给单条连接
func (h *Hub) SendTo(key string, data []byte) {
	h.Enqueue(&Outbound{Message: data, TargetKey: key})
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
