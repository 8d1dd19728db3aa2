// Package conn 管理视图到中继的连接：延迟建立的 websocket，
// 无限重连，每次连上都请求快照
package conn

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"UltimateDJ/logger"
	"UltimateDJ/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 60 * time.Second

	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 10 * time.Second
)

// Options Manager 配置，回调在 manager 的协程中执行
type Options struct {
	Header       http.Header
	Sender       string
	OnEvent      func(evt *model.Event)
	OnConnect    func()
	OnDisconnect func()
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Dialer       *websocket.Dialer
}

// Manager 显式构造并注入的连接句柄
type Manager struct {
	url  string
	opts Options

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	send      chan []byte
	connected atomic.Bool
}

// NewManager 准备到 url 的连接，不立即拨号
func NewManager(url string, opts Options) *Manager {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Manager{url: url, opts: opts, done: make(chan struct{})}
}

// ConnectOnce 启动连接循环，重复调用无效
func (m *Manager) ConnectOnce(ctx context.Context) {
	m.once.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		go m.loop(ctx)
	})
}

// Dispose 停止循环并等待退出
func (m *Manager) Dispose() {
	m.once.Do(func() { close(m.done) })
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// Connected 是否已连上中继
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Emit 把 evt 排入发送队列；断线时直接丢弃，
// 本地乐观状态保留到下一次快照
func (m *Manager) Emit(evt *model.Event) {
	if evt.Sender == "" {
		evt.Sender = m.opts.Sender
	}
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Error("Failed to encode event", logger.ErrorField(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.send == nil {
		logger.Debug("Dropping event while disconnected", logger.String("type", string(evt.Type)))
		return
	}
	select {
	case m.send <- data:
	default:
		logger.Warn("Relay send queue full, dropping event", logger.String("type", string(evt.Type)))
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	backoff := m.opts.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := m.opts.Dialer.DialContext(ctx, m.url, m.opts.Header)
		if err != nil {
			logger.Warn("Relay unreachable, retrying",
				logger.String("url", m.url),
				logger.Duration("backoff", backoff),
				logger.ErrorField(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > m.opts.MaxBackoff {
				backoff = m.opts.MaxBackoff
			}
			continue
		}
		backoff = m.opts.MinBackoff
		m.session(ctx, conn)
	}
}

// session 运行一次连接直到失败
func (m *Manager) session(ctx context.Context, conn *websocket.Conn) {
	send := make(chan []byte, 256)
	m.mu.Lock()
	m.send = send
	m.mu.Unlock()
	m.connected.Store(true)
	logger.Info("Connected to relay", logger.String("url", m.url))

	if m.opts.OnConnect != nil {
		m.opts.OnConnect()
	}
	m.Emit(model.MustEvent(model.EventSyncRequest, nil))

	writerDone := make(chan struct{})
	go m.writeLoop(conn, send, writerDone)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	m.readLoop(conn)
	stop()

	m.mu.Lock()
	m.send = nil
	close(send)
	m.mu.Unlock()
	m.connected.Store(false)
	<-writerDone
	conn.Close()

	logger.Warn("Disconnected from relay", logger.String("url", m.url))
	if m.opts.OnDisconnect != nil {
		m.opts.OnDisconnect()
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))
		for _, frame := range bytes.Split(msg, []byte{'\n'}) {
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			var evt model.Event
			if err := json.Unmarshal(frame, &evt); err != nil {
				logger.Warn("Invalid relay frame", logger.ErrorField(err))
				continue
			}
			if m.opts.OnEvent != nil {
				m.opts.OnEvent(&evt)
			}
		}
	}
}

func (m *Manager) writeLoop(conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for data := range send {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			for range send {
			}
			return
		}
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
